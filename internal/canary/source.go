package canary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
)

// PhaseInfo identifies the sample being requested.
type PhaseInfo struct {
	Index   int     `json:"index"`
	Attempt int     `json:"attempt"`
	Split   float64 `json:"split"`
}

// MetricsSource provides a snapshot for the phase that just elapsed.
type MetricsSource interface {
	Sample(ctx context.Context, phase PhaseInfo) (Snapshot, error)
}

// TrafficController applies a traffic split to the candidate.
type TrafficController interface {
	SetSplit(ctx context.Context, fraction float64) error
}

// DriftSource reports the latest drift score, consulted at promotion time.
type DriftSource interface {
	LatestDrift(ctx context.Context) (float64, error)
}

// DriftFunc adapts a function to DriftSource.
type DriftFunc func(ctx context.Context) (float64, error)

func (f DriftFunc) LatestDrift(ctx context.Context) (float64, error) { return f(ctx) }

// HTTPSource fetches snapshots with GET {URL}?phase=N&attempt=N&split=F.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Sample(ctx context.Context, phase PhaseInfo) (Snapshot, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics url: %w", err)
	}
	q := u.Query()
	q.Set("phase", strconv.Itoa(phase.Index))
	q.Set("attempt", strconv.Itoa(phase.Attempt))
	q.Set("split", strconv.FormatFloat(phase.Split, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("fetch metrics: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode metrics: %w", err)
	}
	return snap, nil
}

func (s HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// ScriptedSource replays a fixed sequence of snapshots, one per sample.
// Sampling past the end is an error.
type ScriptedSource struct {
	mu        sync.Mutex
	snapshots []Snapshot
	next      int
}

// NewScriptedSource creates a source over snapshots.
func NewScriptedSource(snapshots ...Snapshot) *ScriptedSource {
	return &ScriptedSource{snapshots: snapshots}
}

// LoadScriptedSource reads a JSON array of snapshots from path.
func LoadScriptedSource(path string) (*ScriptedSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics file: %w", err)
	}
	var snaps []Snapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("decode metrics file: %w", err)
	}
	return NewScriptedSource(snaps...), nil
}

func (s *ScriptedSource) Sample(ctx context.Context, phase PhaseInfo) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.snapshots) {
		return Snapshot{}, fmt.Errorf("scripted metrics exhausted at phase %d attempt %d", phase.Index, phase.Attempt)
	}
	snap := s.snapshots[s.next]
	s.next++
	return snap, nil
}

// HTTPTraffic applies splits with POST {URL} and body {"split": F}.
type HTTPTraffic struct {
	URL    string
	Client *http.Client
}

func (t HTTPTraffic) SetSplit(ctx context.Context, fraction float64) error {
	body, err := json.Marshal(map[string]float64{"split": fraction})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("traffic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("set split: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("set split: status %d", resp.StatusCode)
	}
	return nil
}

// LogTraffic only logs and remembers requested splits. Used for dry runs and
// in tests.
type LogTraffic struct {
	Logger *slog.Logger

	mu     sync.Mutex
	splits []float64
}

func (t *LogTraffic) SetSplit(_ context.Context, fraction float64) error {
	t.mu.Lock()
	t.splits = append(t.splits, fraction)
	t.mu.Unlock()
	if t.Logger != nil {
		t.Logger.Info("traffic split", "fraction", fraction)
	}
	return nil
}

// Splits returns every split applied so far, in order.
func (t *LogTraffic) Splits() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.splits...)
}

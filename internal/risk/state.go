package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/model"
)

// Limits are the configured risk thresholds. A zero limit disables its check.
type Limits struct {
	MaxNotional     decimal.Decimal            `json:"maxNotional"`
	MaxPosition     decimal.Decimal            `json:"maxPosition"`
	SymbolPositions map[string]decimal.Decimal `json:"symbolPositions,omitempty"`
	DailyLossLimit  decimal.Decimal            `json:"dailyLossLimit"`
}

// PositionLimit returns the cap for symbol, falling back to MaxPosition.
func (l Limits) PositionLimit(symbol string) decimal.Decimal {
	if limit, ok := l.SymbolPositions[symbol]; ok {
		return limit
	}
	return l.MaxPosition
}

// Breaker is the circuit breaker's state.
type Breaker struct {
	Open     bool      `json:"open"`
	Reason   string    `json:"reason,omitempty"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// Status is a point-in-time copy of the state.
type Status struct {
	Limits    Limits          `json:"config"`
	DailyLoss decimal.Decimal `json:"dailyLoss"`
	LastReset time.Time       `json:"lastReset"`
	Breaker   Breaker         `json:"circuitBreaker"`
}

// StateStore persists snapshots. *store.Store satisfies it.
type StateStore interface {
	SaveRiskSnapshot(ctx context.Context, snap model.RiskSnapshot) error
	LoadRiskSnapshot(ctx context.Context) (model.RiskSnapshot, error)
}

// State is the mutable risk state: limits, the daily-loss accumulator and
// the breaker.
//
// Thread-safety: every mutation is serialized by an internal mutex.
type State struct {
	mu        sync.Mutex
	limits    Limits
	loc       *time.Location
	dailyLoss decimal.Decimal
	lastReset time.Time
	breaker   Breaker
}

// NewState creates a closed-breaker state whose accumulator belongs to the
// calendar day of now in loc. A nil loc means UTC.
func NewState(limits Limits, loc *time.Location, now time.Time) *State {
	if loc == nil {
		loc = time.UTC
	}
	return &State{
		limits:    limits,
		loc:       loc,
		dailyLoss: decimal.Zero,
		lastReset: clock.Date(now, loc),
	}
}

// Location returns the time zone used for daily rollover.
func (s *State) Location() *time.Location { return s.loc }

// Status returns a copy of the current state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *State) statusLocked() Status {
	return Status{
		Limits:    s.limits,
		DailyLoss: s.dailyLoss,
		LastReset: s.lastReset,
		Breaker:   s.breaker,
	}
}

func (s *State) snapshotLocked(now time.Time) model.RiskSnapshot {
	return model.RiskSnapshot{
		DailyLoss:       s.dailyLoss,
		LastReset:       s.lastReset,
		BreakerOpen:     s.breaker.Open,
		BreakerReason:   s.breaker.Reason,
		BreakerOpenedAt: s.breaker.OpenedAt,
		UpdatedAt:       now,
	}
}

// restore replaces the mutable parts with snap. LastReset is re-anchored to
// midnight in the state's location.
func (s *State) restore(snap model.RiskSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := snap.LastReset.Date()
	s.dailyLoss = snap.DailyLoss
	s.lastReset = time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	s.breaker = Breaker{Open: snap.BreakerOpen, Reason: snap.BreakerReason, OpenedAt: snap.BreakerOpenedAt}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/metrics"
)

// DefaultHeartbeatTimeout is how long a connection may stay silent before
// it is treated as lost.
const DefaultHeartbeatTimeout = 15 * time.Second

// Tick is one sequenced price update.
type Tick struct {
	Seq    uint64          `json:"seq"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"ts"`
}

// SequenceGap reports ticks First..Last (inclusive) that never arrived.
type SequenceGap struct {
	First uint64    `json:"first"`
	Last  uint64    `json:"last"`
	At    time.Time `json:"at"`
}

// Missing is the number of ticks skipped.
func (g SequenceGap) Missing() uint64 { return g.Last - g.First + 1 }

// message is the wire frame from the server.
type message struct {
	Type string `json:"type"`
	Tick
}

// subscribe is the wire frame to the server. FromSeq asks for a replay
// starting at that sequence; zero means live only.
type subscribe struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
	FromSeq uint64   `json:"fromSeq,omitempty"`
}

// Config configures a Client.
type Config struct {
	URL              string
	Symbols          []string
	HeartbeatTimeout time.Duration
	Backoff          Backoff
	Dialer           *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

func WithClock(c clock.Clock) Option   { return func(cl *Client) { cl.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.logger = l } }

// Client keeps a subscription alive across disconnects, detects sequence
// gaps and publishes ticks and gaps on typed channels.
//
// Thread-safety: Run must be called once. State and the channels are safe
// for concurrent use.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	ticks chan Tick
	gaps  chan SequenceGap

	mu      sync.Mutex
	state   State
	lastSeq uint64
}

// NewClient creates a disconnected Client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Backoff.Initial <= 0 && cfg.Backoff.Max <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	c := &Client{
		cfg:    cfg,
		clock:  clock.Real{},
		logger: slog.Default(),
		ticks:  make(chan Tick, 256),
		gaps:   make(chan SequenceGap, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "stream", "url", cfg.URL)
	return c
}

// Ticks delivers in-order updates. Closed when Run returns.
func (c *Client) Ticks() <-chan Tick { return c.ticks }

// Gaps delivers detected sequence gaps. Closed when Run returns.
func (c *Client) Gaps() <-chan SequenceGap { return c.gaps }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSeq returns the highest sequence delivered.
func (c *Client) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Run connects and reconnects until ctx ends. It returns nil on
// cancellation; the only other exit is a malformed configuration.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.ticks)
	defer close(c.gaps)
	if c.cfg.URL == "" {
		return errors.New("stream: URL is required")
	}

	attempt := 0
	c.fire(EventDial)
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.fire(EventStop)
				return nil
			}
			c.logger.Warn("dial failed", "attempt", attempt, "error", err)
			c.fire(EventDialFailed)
		} else {
			c.fire(EventConnected)
			attempt = 0
			err = c.session(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				c.fire(EventStop)
				return nil
			}
			c.logger.Warn("connection lost", "error", err)
			c.fire(EventLost)
		}

		delay := c.cfg.Backoff.Delay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			c.fire(EventStop)
			return nil
		case <-c.clock.After(delay):
		}
		c.fire(EventRetry)
	}
}

func (c *Client) fire(e Event) {
	c.mu.Lock()
	from := c.state
	to, ok := Next(from, e)
	c.state = to
	c.mu.Unlock()

	if !ok {
		c.logger.Error("illegal transition", "state", from, "event", e)
		return
	}
	if from != to {
		c.logger.Debug("state change", "from", from, "to", to, "event", e)
	}
	metrics.SetStreamState(to.String(), allStates)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// session subscribes, then reads until the connection fails, the heartbeat
// lapses or ctx ends.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout)); err != nil {
			return err
		}
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("heartbeat timeout after %s", c.cfg.HeartbeatTimeout)
			}
			return err
		}
		switch msg.Type {
		case "heartbeat":
		case "tick":
			if err := c.handleTick(ctx, conn, msg.Tick); err != nil {
				return err
			}
		default:
			c.logger.Debug("ignoring frame", "type", msg.Type)
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	from := c.LastSeq()
	if from > 0 {
		from++
	}
	return conn.WriteJSON(subscribe{Op: "subscribe", Symbols: c.cfg.Symbols, FromSeq: from})
}

// handleTick drops duplicates, reports and resubscribes on a gap, and
// forwards the tick.
func (c *Client) handleTick(ctx context.Context, conn *websocket.Conn, t Tick) error {
	c.mu.Lock()
	last := c.lastSeq
	if last > 0 && t.Seq <= last {
		c.mu.Unlock()
		return nil
	}
	c.lastSeq = t.Seq
	c.mu.Unlock()

	if last > 0 && t.Seq > last+1 {
		gap := SequenceGap{First: last + 1, Last: t.Seq - 1, At: c.clock.Now()}
		metrics.IncStreamGap()
		c.logger.Warn("sequence gap", "first", gap.First, "last", gap.Last)
		select {
		case c.gaps <- gap:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Ask for a fresh snapshot; the skipped range is the consumer's to
		// reconcile from the gap event.
		if err := conn.WriteJSON(subscribe{Op: "resubscribe", Symbols: c.cfg.Symbols}); err != nil {
			return err
		}
	}

	select {
	case c.ticks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/clock"
)

// DefaultExecTimeout bounds a single Executor call.
const DefaultExecTimeout = 5 * time.Second

// Fill is the executed result of an action.
type Fill struct {
	OrderID  string          `json:"orderId"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	FilledAt time.Time       `json:"filledAt"`
}

// Executor performs the external side effect of an allowed action.
type Executor interface {
	Execute(ctx context.Context, a Action) (Fill, error)
}

// PaperExecutor fills every action at its limit price without touching an
// exchange.
type PaperExecutor struct {
	Clock clock.Clock
	// Latency simulates exchange round-trip time.
	Latency time.Duration
}

func (p PaperExecutor) Execute(ctx context.Context, a Action) (Fill, error) {
	c := p.Clock
	if c == nil {
		c = clock.Real{}
	}
	if p.Latency > 0 {
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-c.After(p.Latency):
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Fill{}, fmt.Errorf("paper fill id: %w", err)
	}
	return Fill{
		OrderID:  id.String(),
		Symbol:   a.Symbol,
		Side:     a.Side,
		Quantity: a.Quantity,
		Price:    a.Price,
		Notional: a.Notional(),
		FilledAt: c.Now().UTC(),
	}, nil
}

// Result is the response to a submitted action.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Fill    *Fill   `json:"fill,omitempty"`
}

// Submit evaluates a and, when allowed and not a dry run, executes it with
// a bounded timeout. A timeout is reported as a TIMEOUT *apperr.Error.
func (g *Gate) Submit(ctx context.Context, a Action, exec Executor, timeout time.Duration) (Result, error) {
	v, err := g.Evaluate(ctx, a)
	if err != nil {
		return Result{}, err
	}
	if a.DryRun || exec == nil {
		return Result{Verdict: v}, nil
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fill, err := exec.Execute(ectx, a)
	if err != nil {
		if ectx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return Result{}, &apperr.Error{Code: apperr.CodeTimeout, Message: fmt.Sprintf("execution of %s timed out after %s", a.Symbol, timeout), Err: err}
		}
		return Result{}, fmt.Errorf("execute %s: %w", a.Symbol, err)
	}
	g.logger.Info("action executed", "symbol", a.Symbol, "side", a.Side, "order_id", fill.OrderID, "notional", fill.Notional.String())
	return Result{Verdict: v, Fill: &fill}, nil
}

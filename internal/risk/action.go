package risk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/safeguard/internal/apperr"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Action is a gated live action.
type Action struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	DryRun   bool            `json:"dryRun"`
}

// Notional returns price × quantity.
func (a Action) Notional() decimal.Decimal {
	return a.Price.Mul(a.Quantity)
}

// Validate checks the action's shape. Limits are not consulted.
func (a Action) Validate() error {
	switch {
	case strings.TrimSpace(a.Symbol) == "":
		return apperr.Validation("symbol is required")
	case a.Side != Buy && a.Side != Sell:
		return apperr.Validation("side must be %q or %q, got %q", Buy, Sell, a.Side)
	case !a.Quantity.IsPositive():
		return apperr.Validation("quantity must be positive, got %s", a.Quantity)
	case !a.Price.IsPositive():
		return apperr.Validation("price must be positive, got %s", a.Price)
	}
	return nil
}

// RejectCode names the check that rejected an action.
type RejectCode string

const (
	CodeCircuitOpen             RejectCode = "CircuitOpen"
	CodeMaxNotionalExceeded     RejectCode = "MaxNotionalExceeded"
	CodeMaxPositionSizeExceeded RejectCode = "MaxPositionSizeExceeded"
	CodeDailyLossLimitReached   RejectCode = "DailyLossLimitReached"
)

// Rejection is returned by Gate.Evaluate when a check fails.
//
// It unwraps to an *apperr.Error so generic handlers see the shared
// taxonomy, while risk-aware callers can read Limit and Attempted.
type Rejection struct {
	Code       RejectCode
	Status     int
	Limit      decimal.Decimal
	Attempted  decimal.Decimal
	Message    string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func (r *Rejection) Unwrap() error {
	code := apperr.CodeLimitExceeded
	if r.Code == CodeCircuitOpen {
		code = apperr.CodeCircuitOpen
	}
	return &apperr.Error{Code: code, Message: r.Message, Status: r.Status, RetryAfter: r.RetryAfter}
}

// IsRejection returns the *Rejection in err's chain, if any.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func newRejection(code RejectCode, limit, attempted decimal.Decimal, msg string) *Rejection {
	status := http.StatusBadRequest
	switch code {
	case CodeCircuitOpen:
		status = http.StatusServiceUnavailable
	case CodeDailyLossLimitReached:
		status = http.StatusTooManyRequests
	}
	return &Rejection{Code: code, Status: status, Limit: limit, Attempted: attempted, Message: msg}
}

// Verdict is the gate's decision on an allowed action.
type Verdict struct {
	Allowed  bool            `json:"allowed"`
	DryRun   bool            `json:"dryRun"`
	Notional decimal.Decimal `json:"notional"`
}

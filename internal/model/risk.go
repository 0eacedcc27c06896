package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskSnapshot is the persisted form of the process-wide risk state.
type RiskSnapshot struct {
	DailyLoss       decimal.Decimal
	LastReset       time.Time // midnight of the day the accumulator belongs to
	BreakerOpen     bool
	BreakerReason   string
	BreakerOpenedAt time.Time
	UpdatedAt       time.Time
}

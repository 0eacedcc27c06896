// Package metrics holds the Prometheus collectors for the control plane.
//
// Exposed series:
//   - safeguard_gate_decisions_total{decision,code}   risk gate verdicts
//   - safeguard_breaker_open                          1 while the breaker is open
//   - safeguard_daily_loss                            accumulated daily loss
//   - safeguard_ledger_outcomes_total{operation,status} idempotency outcomes
//   - safeguard_canary_decisions_total{decision}      canary phase decisions
//   - safeguard_canary_split                          current traffic split
//   - safeguard_audit_dropped_total                   entries dropped on a full buffer
//   - safeguard_audit_write_failures_total            sink write errors
//   - safeguard_stream_state{state}                   market-data connection state
//   - safeguard_stream_gaps_total                     sequence gaps detected
//
// Collectors are registered in init() and served at /metrics by the HTTP API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_gate_decisions_total",
			Help: "Risk gate verdicts by decision and reason code",
		},
		[]string{"decision", "code"},
	)

	breakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "safeguard_breaker_open",
			Help: "1 while the circuit breaker is open, 0 otherwise",
		},
	)

	dailyLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "safeguard_daily_loss",
			Help: "Realized loss accumulated for the current calendar day",
		},
	)

	ledgerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_ledger_outcomes_total",
			Help: "Idempotency ledger outcomes by operation and status",
		},
		[]string{"operation", "status"},
	)

	canaryDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safeguard_canary_decisions_total",
			Help: "Canary phase decisions",
		},
		[]string{"decision"},
	)

	canarySplit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "safeguard_canary_split",
			Help: "Traffic fraction currently routed to the candidate",
		},
	)

	auditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safeguard_audit_dropped_total",
			Help: "Audit entries dropped because the write buffer was full",
		},
	)

	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safeguard_audit_write_failures_total",
			Help: "Audit sink write errors",
		},
	)

	// one labeled series per state, flipped between 0/1
	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safeguard_stream_state",
			Help: "Market-data connection state indicator",
		},
		[]string{"state"},
	)

	streamGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safeguard_stream_gaps_total",
			Help: "Sequence gaps detected on the market-data stream",
		},
	)
)

func init() {
	prometheus.MustRegister(gateDecisions, breakerOpen, dailyLoss)
	prometheus.MustRegister(ledgerOutcomes)
	prometheus.MustRegister(canaryDecisions, canarySplit)
	prometheus.MustRegister(auditDropped, auditWriteFailures)
	prometheus.MustRegister(streamState, streamGaps)
}

func IncGateDecision(decision, code string) { gateDecisions.WithLabelValues(decision, code).Inc() }

func SetBreakerOpen(open bool) {
	if open {
		breakerOpen.Set(1)
	} else {
		breakerOpen.Set(0)
	}
}

func SetDailyLoss(v float64) { dailyLoss.Set(v) }

func IncLedgerOutcome(operation, status string) {
	ledgerOutcomes.WithLabelValues(operation, status).Inc()
}

func IncCanaryDecision(decision string) { canaryDecisions.WithLabelValues(decision).Inc() }
func SetCanarySplit(v float64)          { canarySplit.Set(v) }

func IncAuditDropped()      { auditDropped.Inc() }
func IncAuditWriteFailure() { auditWriteFailures.Inc() }

// SetStreamState marks state as current and every other known state as 0.
func SetStreamState(state string, all []string) {
	for _, s := range all {
		if s == state {
			streamState.WithLabelValues(s).Set(1)
		} else {
			streamState.WithLabelValues(s).Set(0)
		}
	}
}

func IncStreamGap() { streamGaps.Inc() }

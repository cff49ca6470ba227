// Package metrics – Prometheus metrics for the bridge.
//
// Exposed series:
//   - tradebridge_actions_total{action,outcome}   dispatched requests by result
//   - tradebridge_reconcile_total{outcome}        open reconciliations (first_pass|recovered|failed|ambiguous)
//   - tradebridge_session_refresh_total{result}   session refresh attempts (ok|error)
//   - tradebridge_session_state                   0 operational, 1 refreshing, 2 degraded
//   - tradebridge_gate_wait_seconds{role}         time spent waiting for the action gate
//   - tradebridge_gate_pending                    callers currently waiting for the gate
//   - tradebridge_mapped_positions                active ticket mappings
//
// Registered in init() and served at /metrics by the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebridge_actions_total",
			Help: "Dispatched action requests by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebridge_reconcile_total",
			Help: "Open reconciliations by outcome.",
		},
		[]string{"outcome"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebridge_session_refresh_total",
			Help: "Session refresh attempts by result.",
		},
		[]string{"result"},
	)

	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebridge_session_state",
			Help: "Session state: 0 operational, 1 refreshing, 2 degraded.",
		},
	)

	gateWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradebridge_gate_wait_seconds",
			Help:    "Time spent waiting to acquire the action gate.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"role"},
	)

	gatePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebridge_gate_pending",
			Help: "Callers currently waiting for the action gate.",
		},
	)

	mappedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebridge_mapped_positions",
			Help: "Active ticket to position mappings.",
		},
	)
)

func init() {
	prometheus.MustRegister(actionsTotal, reconcileTotal, refreshTotal, sessionState, gateWait, gatePending, mappedPositions)
}

func ObserveAction(action, outcome string) {
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

func ObserveReconcile(outcome string) {
	reconcileTotal.WithLabelValues(outcome).Inc()
}

func ObserveRefresh(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	refreshTotal.WithLabelValues(result).Inc()
}

// SetSessionState takes the numeric session state.
func SetSessionState(state int) {
	sessionState.Set(float64(state))
}

func ObserveGateWait(role string, waited time.Duration) {
	gateWait.WithLabelValues(role).Observe(waited.Seconds())
}

func SetGatePending(n int64) {
	gatePending.Set(float64(n))
}

func SetMappedPositions(n int) {
	mappedPositions.Set(float64(n))
}

// Package metrics exposes Prometheus instrumentation for the position
// bot's polling loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PositionsByStatus tracks how many positions sit in each
	// lifecycle state.
	PositionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trailbot_positions",
		Help: "Number of positions by lifecycle status.",
	}, []string{"status"})

	// StopUpdatesTotal counts persisted trailing-stop recalculations.
	StopUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_stop_updates_total",
		Help: "Trailing-stop recalculations persisted, by market.",
	}, []string{"market"})

	// TriggersTotal counts fired closure triggers.
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_triggers_total",
		Help: "Closure triggers fired, by market and reason.",
	}, []string{"market", "reason"})

	// SuppressedTotal counts triggers that did not result in a closing
	// order (hodl override or dry-run).
	SuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_closures_suppressed_total",
		Help: "Fired triggers whose closure was suppressed, by market and cause.",
	}, []string{"market", "cause"})

	// OrdersTotal counts orders submitted to the venue.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_orders_total",
		Help: "Orders submitted to the exchange, by market, side and outcome.",
	}, []string{"market", "side", "outcome"})

	// TransitionsTotal counts lifecycle transitions applied by
	// reconciliation.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_transitions_total",
		Help: "Position lifecycle transitions, by source and target status.",
	}, []string{"from", "to"})

	// CommissionTotal accumulates commission paid per market.
	CommissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_commission_paid_total",
		Help: "Cumulative commission paid, by market.",
	}, []string{"market"})

	// ErrorsTotal counts per-position processing errors.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trailbot_errors_total",
		Help: "Processing errors, by component and kind.",
	}, []string{"component", "kind"})

	// TickDuration observes full engine passes.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trailbot_tick_duration_seconds",
		Help:    "Duration of one engine tick over all selected positions.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"engine"})

	// ExchangeRequestDuration observes adapter round trips.
	ExchangeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trailbot_exchange_request_duration_seconds",
		Help:    "Latency of exchange adapter calls, by operation.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"venue", "op"})

	// MarketLocksActive tracks live duplicate-open reservations.
	MarketLocksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trailbot_market_locks_active",
		Help: "Markets currently locked by the duplicate-open cool-down.",
	})

	// HeartbeatTimestamp is the unix time of the last completed tick.
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trailbot_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last completed engine tick.",
	})
)

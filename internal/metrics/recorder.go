package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordPositions records the position count for one status.
func (r *Recorder) RecordPositions(status string, count int) {
	PositionsByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordStopUpdate records a persisted trailing-stop recalculation.
func (r *Recorder) RecordStopUpdate(market string) {
	StopUpdatesTotal.WithLabelValues(market).Inc()
}

// RecordTrigger records a fired closure trigger.
func (r *Recorder) RecordTrigger(market, reason string) {
	TriggersTotal.WithLabelValues(market, reason).Inc()
}

// RecordSuppressed records a trigger whose closure was suppressed.
func (r *Recorder) RecordSuppressed(market, cause string) {
	SuppressedTotal.WithLabelValues(market, cause).Inc()
}

// RecordOrder records an order submission outcome.
func (r *Recorder) RecordOrder(market, side, outcome string) {
	OrdersTotal.WithLabelValues(market, side, outcome).Inc()
}

// RecordTransition records a lifecycle transition.
func (r *Recorder) RecordTransition(from, to string) {
	TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCommission accumulates commission paid for a market.
func (r *Recorder) RecordCommission(market string, commission decimal.Decimal) {
	if commission.IsPositive() {
		CommissionTotal.WithLabelValues(market).Add(commission.InexactFloat64())
	}
}

// RecordError records a processing error.
func (r *Recorder) RecordError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordMarketLocks records the number of active cool-down locks.
func (r *Recorder) RecordMarketLocks(n int) {
	MarketLocksActive.Set(float64(n))
}

// RecordHeartbeat records a completed tick.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveTick observes the elapsed time as one engine tick.
func (t *Timer) ObserveTick(engine string) {
	TickDuration.WithLabelValues(engine).Observe(t.Elapsed().Seconds())
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// ObserveExchange observes the elapsed time as one adapter call.
func (t *Timer) ObserveExchange(venue, op string) {
	ExchangeRequestDuration.WithLabelValues(venue, op).Observe(t.Elapsed().Seconds())
}

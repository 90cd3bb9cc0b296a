// Package trail implements the trailing-stop engine: on every price
// observation it recomputes the protective levels of each open position
// under the monotonic-ratchet invariant and submits a closing order
// when a trigger fires.
package trail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/alerting"
	"trailbot/internal/exchange"
	"trailbot/internal/metrics"
	"trailbot/internal/store"
	"trailbot/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Percents holds the protective distances for one market.
type Percents struct {
	StopLoss   decimal.Decimal
	StopProfit decimal.Decimal // zero disables the take-profit variant
}

// Config holds trailing-stop engine configuration.
type Config struct {
	Interval time.Duration
	Default  Percents
	// PerMarket overrides the default distances for specific markets.
	PerMarket map[string]Percents
	// DryRun recalculates and persists stops but never places closing
	// orders.
	DryRun bool
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Default:  Percents{StopLoss: decimal.NewFromInt(10)},
	}
}

func (c Config) percents(market string) Percents {
	if p, ok := c.PerMarket[market]; ok {
		return p
	}
	return c.Default
}

// Evaluation is the outcome of one trailing-stop pass over a position.
type Evaluation struct {
	StopLoss          decimal.Decimal
	StopLossPercent   decimal.Decimal
	StopProfit        *decimal.Decimal
	StopProfitPercent decimal.Decimal

	ExpectedNet        decimal.Decimal
	ExpectedNetPercent decimal.Decimal

	// Trigger is the closure reason that fired, or empty. It is set
	// even when closure ends up suppressed by hodl.
	Trigger types.ClosureReason
}

// Evaluate recomputes the protective levels of an open position for a
// fresh price observation.
//
// The reference price is max(lastPrice, openRate): the stop pegs to
// whichever of entry or market is higher, locking in gains rather than
// capping losses at entry. The stop-loss never retreats once set; the
// stop-profit tracks the reference price both ways.
func Evaluate(p *types.Position, lastPrice decimal.Decimal, pct Percents) (*Evaluation, error) {
	if p.OpenRate.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: position %s has open_rate %s", types.ErrDataIntegrity, p.ID, p.OpenRate)
	}
	if lastPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: market %s quoted %s", types.ErrQuoteUnavailable, p.Market, lastPrice)
	}

	reference := decimal.Max(lastPrice, p.OpenRate)

	stop := reference.Mul(hundred.Sub(pct.StopLoss)).Div(hundred)
	if p.StopLoss != nil && p.StopLoss.GreaterThan(stop) {
		// Ratchet: ties preserved, the stop never retreats.
		stop = *p.StopLoss
	}

	eval := &Evaluation{
		StopLoss:        stop,
		StopLossPercent: types.PercentOf(p.Volume.Mul(stop), p.Volume.Mul(p.OpenRate)),
	}

	if pct.StopProfit.IsPositive() {
		gain := reference.Mul(hundred.Add(pct.StopProfit)).Div(hundred)
		eval.StopProfit = &gain
		eval.StopProfitPercent = types.PercentOf(p.Volume.Mul(gain), p.Volume.Mul(p.OpenRate))
	}

	eval.ExpectedNet = p.Volume.Mul(lastPrice).Sub(p.Volume.Mul(p.OpenRate))
	eval.ExpectedNetPercent = types.PercentOf(p.Volume.Mul(lastPrice), p.Volume.Mul(p.OpenRate))

	// Stop-loss wins when both conditions coincide. The stop-profit
	// check runs against the level persisted on the previous tick: the
	// fresh one is derived from the reference price and sits above it
	// until the next observation.
	switch {
	case lastPrice.LessThanOrEqual(eval.StopLoss):
		eval.Trigger = types.ReasonStopLoss
	case pct.StopProfit.IsPositive() && p.StopProfit != nil && lastPrice.GreaterThanOrEqual(*p.StopProfit):
		eval.Trigger = types.ReasonStopProfit
	}

	return eval, nil
}

// Engine polls open positions and applies the trailing-stop algorithm.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    store.PositionStore
	adapter  exchange.Adapter
	alerter  alerting.Alerter
	recorder *metrics.Recorder
}

// NewEngine creates a trailing-stop engine.
func NewEngine(cfg Config, st store.PositionStore, adapter exchange.Adapter, alerter alerting.Alerter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With("engine", "trail"),
		store:    st,
		adapter:  adapter,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
	}
}

// Run polls at the configured interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("trailing-stop engine started",
		"interval", e.cfg.Interval,
		"dry_run", e.cfg.DryRun,
	)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("trailing-stop engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("tick failed", "err", err)
				e.recorder.RecordError("trail", "tick")
			}
		}
	}
}

// Tick runs one pass over all open positions. Per-position failures are
// logged and skipped; they never abort the pass.
func (e *Engine) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveTick("trail")

	positions, err := e.store.Find(ctx, store.Filter{Statuses: []types.Status{types.StatusOpen}})
	if err != nil {
		return fmt.Errorf("find open positions: %w", err)
	}

	cache := exchange.NewTickerCache(e.adapter)

	for _, p := range positions {
		if err := e.processPosition(ctx, cache, p); err != nil {
			e.logger.Warn("position skipped",
				"position_id", p.ID,
				"market", p.Market,
				"err", err,
			)
			e.recorder.RecordError("trail", errorKind(err))
		}
	}

	return nil
}

func (e *Engine) processPosition(ctx context.Context, cache *exchange.TickerCache, p *types.Position) error {
	last, err := cache.Price(ctx, p.Market)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrQuoteUnavailable, p.Market, err)
	}

	eval, err := Evaluate(p, last, e.cfg.percents(p.Market))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fields := store.Fields{
		store.FieldCurrentPrice:       last,
		store.FieldPriceAt:            now,
		store.FieldStopLoss:           eval.StopLoss,
		store.FieldStopLossPercent:    eval.StopLossPercent,
		store.FieldExpectedNet:        eval.ExpectedNet,
		store.FieldExpectedNetPercent: eval.ExpectedNetPercent,
		store.FieldLastUpdateAt:       now,
	}
	if eval.StopProfit != nil {
		fields[store.FieldStopProfit] = *eval.StopProfit
		fields[store.FieldStopProfitPercent] = eval.StopProfitPercent
	}

	if err := e.store.UpdateFields(ctx, p.ID, fields); err != nil {
		return fmt.Errorf("persist stop levels: %w", err)
	}
	e.recorder.RecordStopUpdate(p.Market)

	e.logger.Debug("stop levels updated",
		"position_id", p.ID,
		"market", p.Market,
		"last", last,
		"stop_loss", eval.StopLoss,
	)

	if eval.Trigger == "" {
		return nil
	}

	return e.initiateClosure(ctx, p, last, eval)
}

// initiateClosure submits the closing order for a fired trigger, unless
// suppressed by hodl or dry-run mode.
func (e *Engine) initiateClosure(ctx context.Context, p *types.Position, last decimal.Decimal, eval *Evaluation) error {
	e.recorder.RecordTrigger(p.Market, string(eval.Trigger))

	if p.Hodl {
		// Manual override: record the trigger for observability, keep
		// the position open.
		e.logger.Info("closure suppressed by hodl",
			"position_id", p.ID,
			"market", p.Market,
			"reason", eval.Trigger,
			"last", last,
			"stop_loss", eval.StopLoss,
		)
		e.recorder.RecordSuppressed(p.Market, "hodl")
		return nil
	}

	if e.cfg.DryRun {
		e.logger.Info("closure skipped: dry run",
			"position_id", p.ID,
			"market", p.Market,
			"reason", eval.Trigger,
			"expected_net", eval.ExpectedNet,
		)
		e.recorder.RecordSuppressed(p.Market, "dry_run")
		return nil
	}

	if !p.Status.CanTransition(types.StatusClosing) {
		return fmt.Errorf("%w: %s -> %s", types.ErrIllegalTransition, p.Status, types.StatusClosing)
	}

	orderID, err := e.adapter.PlaceLimitOrder(ctx, p.Market, exchange.SideSell, p.Volume, last)
	if err != nil {
		e.recorder.RecordOrder(p.Market, string(exchange.SideSell), "rejected")
		return fmt.Errorf("%w: place closing order: %v", types.ErrAdapterRejected, err)
	}
	e.recorder.RecordOrder(p.Market, string(exchange.SideSell), "submitted")

	now := time.Now().UTC()
	err = e.store.UpdateFields(ctx, p.ID, store.Fields{
		store.FieldStatus:        types.StatusClosing,
		store.FieldCloseOrderID:  orderID,
		store.FieldClosureReason: eval.Trigger,
		store.FieldCloseRate:     last,
		store.FieldClosedAt:      now,
		store.FieldLastUpdateAt:  now,
	})
	if err != nil {
		return fmt.Errorf("persist closure: %w", err)
	}

	e.logger.Info("closing position",
		"position_id", p.ID,
		"market", p.Market,
		"reason", eval.Trigger,
		"close_order_id", orderID,
		"rate", last,
		"expected_net", eval.ExpectedNet,
	)

	if e.alerter != nil {
		if err := e.alerter.Alert(ctx, alerting.SeverityInfo, "Closing position",
			"market", p.Market,
			"reason", string(eval.Trigger),
			"rate", last.String(),
			"expected_net", eval.ExpectedNet.StringFixed(8),
		); err != nil {
			e.logger.Warn("failed to send closure alert", "err", err)
		}
	}

	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, types.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, types.ErrAdapterRejected):
		return "adapter_rejected"
	case errors.Is(err, types.ErrAdapterUnavailable):
		return "adapter_unavailable"
	default:
		return "internal"
	}
}

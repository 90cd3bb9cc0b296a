// Package reconcile implements the order reconciliation engine: it
// polls the exchange for the live order of every position in a
// transitional state and advances the position lifecycle from the
// venue's authoritative fill/cancel outcome.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trailbot/internal/alerting"
	"trailbot/internal/exchange"
	"trailbot/internal/metrics"
	"trailbot/internal/store"
	"trailbot/internal/types"
)

// Config holds reconciliation engine configuration.
type Config struct {
	Interval time.Duration
	// MaxInFlight raises an operational alert when an order stays
	// unresolved longer than this. Zero disables the check; orders are
	// never cancelled automatically.
	MaxInFlight time.Duration
}

// DefaultConfig returns default reconciliation config.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// Engine advances positions in opening/closing state from venue-side
// order outcomes. It is the only writer of status, settlement cost and
// commission fields.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    store.PositionStore
	adapter  exchange.Adapter
	alerter  alerting.Alerter
	recorder *metrics.Recorder
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg Config, st store.PositionStore, adapter exchange.Adapter, alerter alerting.Alerter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With("engine", "reconcile"),
		store:    st,
		adapter:  adapter,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
	}
}

// Run polls at the configured interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("reconciliation engine started", "interval", e.cfg.Interval)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconciliation engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("tick failed", "err", err)
				e.recorder.RecordError("reconcile", "tick")
			}
		}
	}
}

// Tick runs one pass over all in-flight positions. Per-position
// failures are logged and retried on the next tick.
func (e *Engine) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveTick("reconcile")

	positions, err := e.store.Find(ctx, store.Filter{
		Statuses: []types.Status{types.StatusOpening, types.StatusClosing},
	})
	if err != nil {
		return fmt.Errorf("find in-flight positions: %w", err)
	}

	cache := exchange.NewTickerCache(e.adapter)

	for _, p := range positions {
		if err := e.Reconcile(ctx, cache, p); err != nil {
			e.logger.Warn("position skipped",
				"position_id", p.ID,
				"market", p.Market,
				"status", p.Status,
				"err", err,
			)
			e.recorder.RecordError("reconcile", errorKind(err))
		}
	}

	return nil
}

// Reconcile advances one position from its order's venue-side state.
// Calling it on a position that already left its transitional state is
// a no-op, which keeps repeated fill observations idempotent.
func (e *Engine) Reconcile(ctx context.Context, cache *exchange.TickerCache, p *types.Position) error {
	orderID, ok := p.ActiveOrderID()
	if !ok {
		return nil
	}
	if orderID == "" {
		return fmt.Errorf("%w: position %s in %s has no active order id", types.ErrDataIntegrity, p.ID, p.Status)
	}

	status, err := e.adapter.GetOrderStatus(ctx, orderID, p.Market)
	if err != nil {
		return fmt.Errorf("%w: order %s: %v", types.ErrAdapterUnavailable, orderID, err)
	}

	// The engine only understands plain limit buys and sells; anything
	// else is surfaced to the operator and the position left untouched.
	if status.Type != exchange.OrderTypeLimit {
		return fmt.Errorf("%w: order %s is %s", types.ErrUnsupportedOrderType, orderID, status.Type)
	}
	expectedSide := exchange.SideBuy
	if p.Status == types.StatusClosing {
		expectedSide = exchange.SideSell
	}
	if status.Side != expectedSide {
		return fmt.Errorf("%w: order %s is a %s where %s was expected",
			types.ErrUnsupportedOrderType, orderID, status.Side, expectedSide)
	}

	if status.State.IsOpen() {
		return e.trackInFlight(ctx, cache, p, status)
	}

	if status.State == exchange.OrderStateCancelled {
		return e.applyCancellation(ctx, p, status)
	}

	return e.applyFill(ctx, p, status)
}

// trackInFlight refreshes the fill progress of an order that can still
// fill. The status stays unchanged.
func (e *Engine) trackInFlight(ctx context.Context, cache *exchange.TickerCache, p *types.Position, status *exchange.OrderStatus) error {
	last, err := cache.Price(ctx, p.Market)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrQuoteUnavailable, p.Market, err)
	}

	now := time.Now().UTC()
	err = e.store.UpdateFields(ctx, p.ID, store.Fields{
		store.FieldRemainingVolume: status.RemainingQuantity,
		store.FieldCurrentPrice:    last,
		store.FieldPriceAt:         now,
		store.FieldLastUpdateAt:    now,
	})
	if err != nil {
		return fmt.Errorf("persist fill progress: %w", err)
	}

	e.logger.Debug("order still in flight",
		"position_id", p.ID,
		"market", p.Market,
		"status", p.Status,
		"remaining", status.RemainingQuantity,
	)

	e.checkOverdue(ctx, p, now)
	return nil
}

// checkOverdue raises an operational alert for orders unresolved past
// the configured maximum in-flight duration. No automatic cancellation.
func (e *Engine) checkOverdue(ctx context.Context, p *types.Position, now time.Time) {
	if e.cfg.MaxInFlight <= 0 {
		return
	}

	since := p.OpenAt
	if p.Status == types.StatusClosing && p.ClosedAt != nil {
		since = *p.ClosedAt
	}

	age := now.Sub(since)
	if age < e.cfg.MaxInFlight {
		return
	}

	e.logger.Warn("order in flight past limit",
		"position_id", p.ID,
		"market", p.Market,
		"status", p.Status,
		"age", age,
	)
	if e.alerter != nil {
		if err := e.alerter.Alert(ctx, alerting.SeverityWarning, "Order in flight past limit",
			"market", p.Market,
			"status", string(p.Status),
			"age", age.Round(time.Second).String(),
		); err != nil {
			e.logger.Warn("failed to send overdue alert", "err", err)
		}
	}
}

// applyCancellation moves a position to its cancelled side branch,
// preserving fill progress and commission for audit.
func (e *Engine) applyCancellation(ctx context.Context, p *types.Position, status *exchange.OrderStatus) error {
	next := types.StatusOpeningCancelled
	if p.Status == types.StatusClosing {
		next = types.StatusClosingCancelled
	}
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", types.ErrIllegalTransition, p.Status, next)
	}

	now := time.Now().UTC()
	err := e.store.UpdateFields(ctx, p.ID, store.Fields{
		store.FieldStatus:          next,
		store.FieldPaidCommission:  p.PaidCommission.Add(status.Commission),
		store.FieldRemainingVolume: status.RemainingQuantity,
		store.FieldLastUpdateAt:    now,
	})
	if err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}

	e.recorder.RecordTransition(string(p.Status), string(next))
	e.logger.Info("order cancelled at venue",
		"position_id", p.ID,
		"market", p.Market,
		"from", p.Status,
		"to", next,
		"remaining", status.RemainingQuantity,
	)

	if e.alerter != nil {
		if err := e.alerter.Alert(ctx, alerting.SeverityWarning, "Order cancelled at venue",
			"market", p.Market,
			"position_id", p.ID,
			"status", string(next),
		); err != nil {
			e.logger.Warn("failed to send cancellation alert", "err", err)
		}
	}

	return nil
}

// applyFill finalizes a fully filled order: opening -> open settles the
// open leg's costs, closing -> closed settles the close leg and the
// realized net.
func (e *Engine) applyFill(ctx context.Context, p *types.Position, status *exchange.OrderStatus) error {
	now := time.Now().UTC()
	paid := p.PaidCommission.Add(status.Commission)

	switch p.Status {
	case types.StatusOpening:
		if !p.Status.CanTransition(types.StatusOpen) {
			return fmt.Errorf("%w: %s -> %s", types.ErrIllegalTransition, p.Status, types.StatusOpen)
		}
		// Proceeds of the open leg include commission: the position
		// must earn it back before the trade nets positive.
		proceeds := status.Cost.Add(status.Commission)
		err := e.store.UpdateFields(ctx, p.ID, store.Fields{
			store.FieldStatus:           types.StatusOpen,
			store.FieldRemainingVolume:  status.RemainingQuantity,
			store.FieldOpenCost:         status.Cost,
			store.FieldOpenCommission:   status.Commission,
			store.FieldOpenCostProceeds: proceeds,
			store.FieldPaidCommission:   paid,
			store.FieldFullyOpenAt:      now,
			store.FieldLastUpdateAt:     now,
		})
		if err != nil {
			return fmt.Errorf("finalize open: %w", err)
		}

		e.recorder.RecordTransition(string(types.StatusOpening), string(types.StatusOpen))
		e.recorder.RecordCommission(p.Market, status.Commission)
		e.logger.Info("position fully open",
			"position_id", p.ID,
			"market", p.Market,
			"open_cost", status.Cost,
			"open_cost_proceeds", proceeds,
		)
		return nil

	case types.StatusClosing:
		if !p.Status.CanTransition(types.StatusClosed) {
			return fmt.Errorf("%w: %s -> %s", types.ErrIllegalTransition, p.Status, types.StatusClosed)
		}
		if p.OpenCostProceeds.IsZero() {
			return fmt.Errorf("%w: position %s closing without settled open leg", types.ErrDataIntegrity, p.ID)
		}

		proceeds := status.Cost.Sub(status.Commission)
		net := proceeds.Sub(p.OpenCostProceeds)
		netPercent := types.PercentOf(proceeds, p.OpenCostProceeds)

		err := e.store.UpdateFields(ctx, p.ID, store.Fields{
			store.FieldStatus:            types.StatusClosed,
			store.FieldRemainingVolume:   status.RemainingQuantity,
			store.FieldCloseCost:         status.Cost,
			store.FieldCloseCommission:   status.Commission,
			store.FieldCloseCostProceeds: proceeds,
			store.FieldNet:               net,
			store.FieldNetPercent:        netPercent,
			store.FieldPaidCommission:    paid,
			store.FieldFullyClosedAt:     now,
			store.FieldLastUpdateAt:      now,
		})
		if err != nil {
			return fmt.Errorf("finalize close: %w", err)
		}

		e.recorder.RecordTransition(string(types.StatusClosing), string(types.StatusClosed))
		e.recorder.RecordCommission(p.Market, status.Commission)
		e.logger.Info("position closed",
			"position_id", p.ID,
			"market", p.Market,
			"net", net,
			"net_percent", netPercent,
			"reason", p.ClosureReason,
		)

		if e.alerter != nil {
			if err := e.alerter.Alert(ctx, alerting.SeverityInfo, "Position closed",
				"market", p.Market,
				"net", net.StringFixed(8),
				"net_percent", netPercent.StringFixed(2)+"%",
				"reason", p.ClosureReason,
			); err != nil {
				e.logger.Warn("failed to send closure alert", "err", err)
			}
		}
		return nil

	default:
		// Already resolved by an earlier tick. Applying the same fill
		// twice must not accrue commission again.
		return nil
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrAdapterUnavailable):
		return "adapter_unavailable"
	case errors.Is(err, types.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, types.ErrUnsupportedOrderType):
		return "unsupported_order_type"
	case errors.Is(err, types.ErrDataIntegrity):
		return "data_integrity"
	default:
		return "internal"
	}
}

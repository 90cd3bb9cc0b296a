// Package opener periodically submits opening orders for configured
// markets, guarded by the duplicate-open lock table. It inserts
// position records in opening state; settling them is the
// reconciliation engine's job.
package opener

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

// MarketSchedule configures automatic opening for one market.
type MarketSchedule struct {
	Market string
	// QuoteAmount is the quote-currency value bought per opening.
	QuoteAmount decimal.Decimal
	// Every is the opening cadence. Zero disables automatic opening;
	// the market can still be opened manually.
	Every time.Duration
}

// Config holds opener configuration.
type Config struct {
	Interval     time.Duration
	LockDuration time.Duration
	Markets      []MarketSchedule
}

// DefaultConfig returns default opener config.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		LockDuration: 5 * time.Minute,
	}
}

// Opener schedules and submits opening orders.
type Opener struct {
	cfg      Config
	logger   *slog.Logger
	store    store.PositionStore
	adapter  exchange.Adapter
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	locks    *LockTable

	// nextDue tracks the per-market schedule. First opening happens one
	// full cadence after start, so a restart never double-buys.
	nextDue map[string]time.Time
}

// New creates an opener.
func New(cfg Config, st store.PositionStore, adapter exchange.Adapter, alerter alerting.Alerter, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 5 * time.Minute
	}

	return &Opener{
		cfg:      cfg,
		logger:   logger.With("engine", "opener"),
		store:    st,
		adapter:  adapter,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		locks:    NewLockTable(),
		nextDue:  make(map[string]time.Time),
	}
}

// Locks exposes the reservation table, so manual opening paths consult
// the same safeguard.
func (o *Opener) Locks() *LockTable {
	return o.locks
}

// Run evaluates the opening schedule at the configured interval until
// the context is cancelled.
func (o *Opener) Run(ctx context.Context) error {
	o.logger.Info("opener started",
		"interval", o.cfg.Interval,
		"markets", len(o.cfg.Markets),
	)

	now := time.Now().UTC()
	for _, m := range o.cfg.Markets {
		if m.Every > 0 {
			o.nextDue[m.Market] = now.Add(m.Every)
		}
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("opener stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one pass over the opening schedule.
func (o *Opener) Tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveTick("opener")

	o.recorder.RecordMarketLocks(o.locks.Prune())

	now := time.Now().UTC()
	var due []MarketSchedule
	for _, m := range o.cfg.Markets {
		if m.Every <= 0 {
			continue
		}
		if now.Before(o.nextDue[m.Market]) {
			continue
		}
		due = append(due, m)
	}
	if len(due) == 0 {
		return
	}

	// A venue-wide outage halts opening new positions; monitoring loops
	// keep running on their own schedules.
	if err := o.adapter.Ping(ctx); err != nil {
		o.logger.Error("venue unavailable, opening halted", "err", err)
		o.recorder.RecordError("opener", "venue_unavailable")
		if o.alerter != nil {
			if alertErr := o.alerter.Alert(ctx, alerting.SeverityCritical, "Venue unavailable for trading",
				"venue", o.adapter.Name(),
				"error", err.Error(),
			); alertErr != nil {
				o.logger.Warn("failed to send venue alert", "err", alertErr)
			}
		}
		return
	}

	for _, m := range due {
		o.nextDue[m.Market] = now.Add(m.Every)

		if _, err := o.Open(ctx, m.Market, m.QuoteAmount); err != nil {
			o.logger.Warn("scheduled opening failed",
				"market", m.Market,
				"err", err,
			)
			o.recorder.RecordError("opener", errorKind(err))
		}
	}
}

// Open submits an opening limit buy for quoteAmount worth of the market
// at the last traded price and inserts the position record. The market
// is locked for the cool-down window on success.
func (o *Opener) Open(ctx context.Context, market string, quoteAmount decimal.Decimal) (*types.Position, error) {
	if quoteAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: quote amount %s", types.ErrInvalidMarket, quoteAmount)
	}
	if o.locks.Locked(market) {
		return nil, fmt.Errorf("%w: %s", types.ErrMarketLocked, market)
	}

	ticker, err := o.adapter.GetTicker(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrQuoteUnavailable, market, err)
	}
	if ticker.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s quoted %s", types.ErrQuoteUnavailable, market, ticker)
	}

	rules, err := o.adapter.MarketRules(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("%w: market rules for %s: %v", types.ErrAdapterUnavailable, market, err)
	}

	volume := rules.QuantizeVolume(quoteAmount.Div(ticker))
	if volume.LessThan(rules.MinVolume) || volume.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s of %s at %s yields %s (min %s)",
			types.ErrVolumeTooSmall, quoteAmount, market, ticker, volume, rules.MinVolume)
	}

	orderID, err := o.adapter.PlaceLimitOrder(ctx, market, exchange.SideBuy, volume, ticker)
	if err != nil {
		o.recorder.RecordOrder(market, string(exchange.SideBuy), "rejected")
		return nil, fmt.Errorf("%w: place opening order: %v", types.ErrAdapterRejected, err)
	}
	o.recorder.RecordOrder(market, string(exchange.SideBuy), "submitted")

	now := time.Now().UTC()
	pos := types.NewPosition(market, ticker, volume, orderID, now)
	if err := o.store.Insert(ctx, pos); err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	o.locks.Lock(market, o.cfg.LockDuration)
	o.recorder.RecordMarketLocks(o.locks.Prune())

	o.logger.Info("position opening",
		"position_id", pos.ID,
		"market", market,
		"volume", volume,
		"rate", ticker,
		"open_order_id", orderID,
	)

	if o.alerter != nil {
		if err := o.alerter.Alert(ctx, alerting.SeverityInfo, "Opening position",
			"market", market,
			"volume", volume.String(),
			"rate", ticker.String(),
		); err != nil {
			o.logger.Warn("failed to send opening alert", "err", err)
		}
	}

	return pos, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrMarketLocked):
		return "market_locked"
	case errors.Is(err, types.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, types.ErrAdapterRejected):
		return "adapter_rejected"
	case errors.Is(err, types.ErrAdapterUnavailable):
		return "adapter_unavailable"
	case errors.Is(err, types.ErrVolumeTooSmall):
		return "volume_too_small"
	default:
		return "internal"
	}
}

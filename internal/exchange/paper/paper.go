// Package paper provides a simulated in-memory venue. It backs dry
// runs and tests: prices are set by the caller and order fills are
// scripted instead of matched.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/exchange"
	"trailbot/internal/types"
)

// Exchange implements exchange.Adapter in memory.
type Exchange struct {
	logger *slog.Logger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	orders map[string]*exchange.OrderStatus
	rules  map[string]exchange.MarketRules

	pingErr error

	nextOrderID atomic.Int64
}

// New creates an empty simulated venue.
func New(logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Exchange{
		logger: logger,
		prices: make(map[string]decimal.Decimal),
		orders: make(map[string]*exchange.OrderStatus),
		rules:  make(map[string]exchange.MarketRules),
	}
	e.nextOrderID.Store(1)
	return e
}

// Name returns the venue identifier.
func (e *Exchange) Name() string {
	return "paper"
}

// Ping reports the scripted venue availability.
func (e *Exchange) Ping(context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pingErr
}

// GetTicker returns the scripted last price for a market.
func (e *Exchange) GetTicker(_ context.Context, market string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, ok := e.prices[market]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrQuoteUnavailable, market)
	}
	return price, nil
}

// PlaceLimitOrder records a new open limit order.
func (e *Exchange) PlaceLimitOrder(_ context.Context, market string, side exchange.Side, quantity, price decimal.Decimal) (string, error) {
	if quantity.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: quantity %s price %s", types.ErrAdapterRejected, quantity, price)
	}

	id := strconv.FormatInt(e.nextOrderID.Add(1), 10)

	e.mu.Lock()
	e.orders[id] = &exchange.OrderStatus{
		OrderID:           id,
		Market:            market,
		Type:              exchange.OrderTypeLimit,
		Side:              side,
		State:             exchange.OrderStateNew,
		Price:             price,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		UpdatedAt:         time.Now().UTC(),
	}
	e.mu.Unlock()

	e.logger.Debug("paper order placed",
		"order_id", id,
		"market", market,
		"side", side,
		"quantity", quantity,
		"price", price,
	)

	return id, nil
}

// GetOrderStatus returns a copy of the order's current state.
func (e *Exchange) GetOrderStatus(_ context.Context, orderID, _ string) (*exchange.OrderStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}

	copied := *order
	return &copied, nil
}

// CancelOrder cancels a live order.
func (e *Exchange) CancelOrder(_ context.Context, orderID, _ string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if !order.State.IsOpen() {
		return false, fmt.Errorf("%w: order %s is %s", types.ErrAdapterRejected, orderID, order.State)
	}

	order.State = exchange.OrderStateCancelled
	order.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarketRules returns the configured rules for a market, or permissive
// defaults.
func (e *Exchange) MarketRules(_ context.Context, market string) (*exchange.MarketRules, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if r, ok := e.rules[market]; ok {
		copied := r
		return &copied, nil
	}
	return &exchange.MarketRules{Market: market}, nil
}

// SetPrice scripts the last traded price for a market.
func (e *Exchange) SetPrice(market string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[market] = price
}

// RemovePrice makes quotes for a market unavailable.
func (e *Exchange) RemovePrice(market string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.prices, market)
}

// SetRules scripts the market rules for a market.
func (e *Exchange) SetRules(market string, rules exchange.MarketRules) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules.Market = market
	e.rules[market] = rules
}

// SetPingError scripts the venue availability check.
func (e *Exchange) SetPingError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingErr = err
}

// Fill scripts a full fill of an order with the given cumulative cost
// and commission.
func (e *Exchange) Fill(orderID string, cost, commission decimal.Decimal) error {
	return e.mutateOrder(orderID, func(o *exchange.OrderStatus) {
		o.State = exchange.OrderStateFilled
		o.Cost = cost
		o.Commission = commission
		o.RemainingQuantity = decimal.Zero
	})
}

// PartialFill scripts a partial fill, leaving the order open with the
// given remaining quantity.
func (e *Exchange) PartialFill(orderID string, remaining, cost, commission decimal.Decimal) error {
	return e.mutateOrder(orderID, func(o *exchange.OrderStatus) {
		o.State = exchange.OrderStatePartialFill
		o.Cost = cost
		o.Commission = commission
		o.RemainingQuantity = remaining
	})
}

// CancelServerSide scripts a venue-initiated cancellation, preserving
// fill progress.
func (e *Exchange) CancelServerSide(orderID string) error {
	return e.mutateOrder(orderID, func(o *exchange.OrderStatus) {
		o.State = exchange.OrderStateCancelled
	})
}

// SetOrderType overrides the recorded order type, for exercising the
// unsupported-order path.
func (e *Exchange) SetOrderType(orderID string, t exchange.OrderType) error {
	return e.mutateOrder(orderID, func(o *exchange.OrderStatus) {
		o.Type = t
	})
}

func (e *Exchange) mutateOrder(orderID string, fn func(*exchange.OrderStatus)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	fn(order)
	order.UpdatedAt = time.Now().UTC()
	return nil
}

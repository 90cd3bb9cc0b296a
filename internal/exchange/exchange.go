// Package exchange defines the capability surface the engines need from
// a trading venue. One implementation exists per venue; the engines
// never branch on venue identity.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the shape of an order at the venue.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
)

// OrderState represents the venue-side state of an order.
type OrderState string

const (
	OrderStateNew           OrderState = "NEW"
	OrderStatePartialFill   OrderState = "PARTIALLY_FILLED"
	OrderStateFilled        OrderState = "FILLED"
	OrderStateCancelled     OrderState = "CANCELLED"
	OrderStatePendingCancel OrderState = "PENDING_CANCEL"
)

// IsOpen returns true while the order can still fill.
func (s OrderState) IsOpen() bool {
	switch s {
	case OrderStateNew, OrderStatePartialFill, OrderStatePendingCancel:
		return true
	default:
		return false
	}
}

// OrderStatus is the venue's authoritative view of an order, as
// consumed by the reconciliation loop.
type OrderStatus struct {
	OrderID  string
	Market   string
	Type     OrderType
	Side     Side
	State    OrderState
	Price    decimal.Decimal // limit price
	Cost     decimal.Decimal // cumulative quote-currency cost of fills
	Quantity decimal.Decimal
	// RemainingQuantity is Quantity minus the filled part.
	RemainingQuantity decimal.Decimal
	Commission        decimal.Decimal
	UpdatedAt         time.Time
}

// MarketRules describes the venue's volume constraints for a market.
type MarketRules struct {
	Market     string
	MinVolume  decimal.Decimal
	MaxVolume  decimal.Decimal
	VolumeStep decimal.Decimal
}

// QuantizeVolume snaps a raw volume onto the market's step grid, the
// way venues require limit quantities to be submitted. It only ever
// rounds down: a volume below the minimum comes back unchanged, so the
// caller's minimum check rejects it instead of buying more than the
// budget covers.
func (r MarketRules) QuantizeVolume(volume decimal.Decimal) decimal.Decimal {
	if r.VolumeStep.IsZero() || volume.LessThan(r.MinVolume) {
		return volume
	}
	return volume.Sub(volume.Sub(r.MinVolume).Mod(r.VolumeStep))
}

// Adapter is the capability surface of a trading venue.
type Adapter interface {
	// Name returns the venue identifier (e.g. "binance", "paper").
	Name() string

	// Ping checks that the venue is reachable and accepting trades.
	Ping(ctx context.Context) error

	// GetTicker returns the last traded price for a market.
	GetTicker(ctx context.Context, market string) (decimal.Decimal, error)

	// PlaceLimitOrder submits a GTC limit order and returns the
	// venue-assigned order id.
	PlaceLimitOrder(ctx context.Context, market string, side Side, quantity, price decimal.Decimal) (string, error)

	// GetOrderStatus returns the venue's current view of an order.
	GetOrderStatus(ctx context.Context, orderID, market string) (*OrderStatus, error)

	// CancelOrder cancels a live order. Returns true once the venue
	// accepted the cancellation.
	CancelOrder(ctx context.Context, orderID, market string) (bool, error)

	// MarketRules returns the volume constraints for a market.
	MarketRules(ctx context.Context, market string) (*MarketRules, error)
}

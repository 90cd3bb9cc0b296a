// Package types defines the shared types used across the trading system.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a position.
type Status string

const (
	// StatusOpening means the opening order is live at the exchange.
	StatusOpening Status = "opening"
	// StatusOpen means the opening order filled and the position is monitored.
	StatusOpen Status = "open"
	// StatusClosing means the closing order is live at the exchange.
	StatusClosing Status = "closing"
	// StatusClosed means the closing order filled; the round trip is done.
	StatusClosed Status = "closed"
	// StatusOpeningCancelled means the opening order was cancelled at the venue.
	StatusOpeningCancelled Status = "opening-cancelled"
	// StatusClosingCancelled means the closing order was cancelled at the venue.
	StatusClosingCancelled Status = "closing-cancelled"
)

// IsTerminal returns true if no further automatic transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusOpeningCancelled, StatusClosingCancelled:
		return true
	default:
		return false
	}
}

// InFlight returns true if an order for this position is live at the exchange.
func (s Status) InFlight() bool {
	return s == StatusOpening || s == StatusClosing
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle transition. The closing -> open edge is the operator
// rollback path, never taken by the automated loops.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusOpening:
		return next == StatusOpen || next == StatusOpeningCancelled
	case StatusOpen:
		return next == StatusClosing
	case StatusClosing:
		return next == StatusClosed || next == StatusClosingCancelled || next == StatusOpen
	default:
		return false
	}
}

// ClosureReason identifies why a closing order was submitted.
type ClosureReason string

const (
	ReasonStopLoss   ClosureReason = "stoploss"
	ReasonStopProfit ClosureReason = "stopprofit"
)

// Position is a single round-trip trade record: one opening order,
// monitoring while open, and one eventual closing order.
//
// Pointer fields are unset until the relevant lifecycle step writes
// them; in particular StopLoss stays nil until the first trailing-stop
// evaluation, which is what makes the ratchet's "first value" case
// distinguishable from a stop at zero.
type Position struct {
	ID     string
	Market string
	Status Status

	// Quantities. RemainingVolume tracks the unfilled part of the
	// active order and never exceeds Volume.
	Volume          decimal.Decimal
	RemainingVolume decimal.Decimal

	// Opening leg. Cost fields are finalized exactly once, when the
	// opening order fully fills.
	OpenRate         decimal.Decimal
	OpenCost         decimal.Decimal
	OpenCommission   decimal.Decimal
	OpenCostProceeds decimal.Decimal

	// Closing leg, finalized when the closing order fully fills.
	CloseRate         *decimal.Decimal
	CloseCost         decimal.Decimal
	CloseCommission   decimal.Decimal
	CloseCostProceeds decimal.Decimal

	// Last observed market price.
	CurrentPrice decimal.Decimal
	PriceAt      time.Time

	// Protective levels. StopLoss only ever ratchets upward while the
	// position is open; StopProfit is recomputed every tick.
	StopLoss          *decimal.Decimal
	StopLossPercent   decimal.Decimal
	StopProfit        *decimal.Decimal
	StopProfitPercent decimal.Decimal

	// Unrealized P&L at CurrentPrice. Derived, refreshed every tick.
	ExpectedNet        decimal.Decimal
	ExpectedNetPercent decimal.Decimal

	// Realized P&L, defined only once Status == closed.
	Net        decimal.Decimal
	NetPercent decimal.Decimal

	// Order references into the exchange's namespace. At most one is
	// active at a time, selected by Status.
	OpenOrderID  string
	CloseOrderID string

	// Cumulative commission across both legs.
	PaidCommission decimal.Decimal

	// ClosureReason is empty until a trigger fires. Operator rollback
	// appends an audit annotation instead of clearing it.
	ClosureReason string

	// Hodl suppresses automatic closure; triggers are still computed
	// and recorded.
	Hodl bool

	OpenAt        time.Time
	FullyOpenAt   *time.Time
	ClosedAt      *time.Time
	FullyClosedAt *time.Time
	LastUpdateAt  time.Time
}

// NewPosition creates a position in opening state for a freshly
// submitted opening order.
func NewPosition(market string, rate, volume decimal.Decimal, openOrderID string, now time.Time) *Position {
	return &Position{
		ID:              uuid.New().String(),
		Market:          market,
		Status:          StatusOpening,
		Volume:          volume,
		RemainingVolume: volume,
		OpenRate:        rate,
		CurrentPrice:    rate,
		PriceAt:         now,
		OpenOrderID:     openOrderID,
		OpenAt:          now,
		LastUpdateAt:    now,
	}
}

// ActiveOrderID returns the order id the reconciliation loop must poll
// for this position, based on its status.
func (p *Position) ActiveOrderID() (string, bool) {
	switch p.Status {
	case StatusOpening:
		return p.OpenOrderID, true
	case StatusClosing:
		return p.CloseOrderID, true
	default:
		return "", false
	}
}

// PercentOf returns (value*100/basis) - 100, the percentage convention
// used for every P&L and stop-distance field.
func PercentOf(value, basis decimal.Decimal) decimal.Decimal {
	if basis.IsZero() {
		return decimal.Zero
	}
	return value.Mul(decimal.NewFromInt(100)).Div(basis).Sub(decimal.NewFromInt(100))
}

// Package store defines the persistence interface for position records.
package store

import (
	"context"

	"trailbot/internal/types"
)

// Column names accepted by UpdateFields. Every mutation the engines
// perform is expressed as an atomic set of these fields, never as a
// whole-record replace.
const (
	FieldStatus             = "status"
	FieldVolume             = "volume"
	FieldRemainingVolume    = "remaining_volume"
	FieldOpenCost           = "open_cost"
	FieldOpenCommission     = "open_commission"
	FieldOpenCostProceeds   = "open_cost_proceeds"
	FieldCloseRate          = "close_rate"
	FieldCloseCost          = "close_cost"
	FieldCloseCommission    = "close_commission"
	FieldCloseCostProceeds  = "close_cost_proceeds"
	FieldCurrentPrice       = "current_price"
	FieldPriceAt            = "price_at"
	FieldStopLoss           = "stop_loss"
	FieldStopLossPercent    = "stop_loss_percent"
	FieldStopProfit         = "stop_profit"
	FieldStopProfitPercent  = "stop_profit_percent"
	FieldExpectedNet        = "expected_net"
	FieldExpectedNetPercent = "expected_net_percent"
	FieldNet                = "net"
	FieldNetPercent         = "net_percent"
	FieldCloseOrderID       = "close_order_id"
	FieldPaidCommission     = "paid_commission"
	FieldClosureReason      = "closure_reason"
	FieldHodl               = "hodl"
	FieldFullyOpenAt        = "fully_open_at"
	FieldClosedAt           = "closed_at"
	FieldFullyClosedAt      = "fully_closed_at"
	FieldLastUpdateAt       = "last_update_at"
)

// Fields maps column names to new values for an atomic update.
type Fields map[string]any

// Filter selects positions by status and/or market. Zero values match
// everything.
type Filter struct {
	Statuses []types.Status
	Market   string
}

// PositionStore is the persisted collection of position records.
type PositionStore interface {
	// Insert stores a new position record.
	Insert(ctx context.Context, p *types.Position) error

	// Find returns all positions matching the filter.
	Find(ctx context.Context, f Filter) ([]*types.Position, error)

	// FindOne returns the position with the given id, or
	// types.ErrPositionNotFound.
	FindOne(ctx context.Context, id string) (*types.Position, error)

	// FindByOpenOrderID returns the position created for the given
	// opening order, or types.ErrPositionNotFound.
	FindByOpenOrderID(ctx context.Context, orderID string) (*types.Position, error)

	// UpdateFields atomically sets the given fields on one position.
	UpdateFields(ctx context.Context, id string, fields Fields) error

	// Delete removes a position record. Only the operator rollback of a
	// never-filled opening uses this.
	Delete(ctx context.Context, id string) error

	// Close releases the underlying storage.
	Close() error
}

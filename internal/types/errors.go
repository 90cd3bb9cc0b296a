package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Exchange adapter errors
	ErrAdapterUnavailable = errors.New("exchange unreachable, retrying next tick")
	ErrAdapterRejected    = errors.New("request refused by exchange")
	ErrQuoteUnavailable   = errors.New("no price quote for market")
	ErrOrderNotFound      = errors.New("order not found at exchange")

	// Reconciliation errors
	ErrUnsupportedOrderType = errors.New("order is not a plain limit buy/sell")

	// Data errors
	ErrDataIntegrity     = errors.New("position data integrity violation")
	ErrPositionNotFound  = errors.New("position not found")
	ErrIllegalTransition = errors.New("illegal position status transition")

	// Opening errors
	ErrMarketLocked     = errors.New("market locked by cool-down reservation")
	ErrVenueUnavailable = errors.New("venue unavailable for trading")
	ErrVolumeTooSmall   = errors.New("quantized volume below market minimum")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidMarket = errors.New("invalid market")
)

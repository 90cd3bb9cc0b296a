// Package binance adapts the Binance spot REST API to the
// exchange.Adapter surface.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	binanceapi "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trailbot/internal/exchange"
	"trailbot/internal/metrics"
	"trailbot/internal/types"
)

// Config holds Binance connection settings.
type Config struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// Testnet routes all requests to the spot testnet.
	Testnet bool `yaml:"testnet"`
	// RequestsPerSecond caps outbound REST calls.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultConfig returns conservative connection settings.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
	}
}

// Client implements exchange.Adapter against Binance spot.
type Client struct {
	api      *binanceapi.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// New creates a Binance adapter.
func New(cfg Config, recorder *metrics.Recorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}

	binanceapi.UseTestnet = cfg.Testnet
	api := binanceapi.NewClient(cfg.APIKey, cfg.APISecret)

	return &Client{
		api:      api,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:   logger.With("venue", "binance"),
		recorder: recorder,
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string {
	return "binance"
}

// Ping checks that the REST API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	defer c.observe("ping")()

	if err := c.api.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrVenueUnavailable, err)
	}
	return nil
}

// GetTicker returns the last traded price for a market.
func (c *Client) GetTicker(ctx context.Context, market string) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	defer c.observe("ticker")()

	prices, err := c.api.NewListPricesService().Symbol(market).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", types.ErrQuoteUnavailable, market, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s: empty response", types.ErrQuoteUnavailable, market)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: parse price %q: %v", types.ErrQuoteUnavailable, market, prices[0].Price, err)
	}
	return price, nil
}

// PlaceLimitOrder submits a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, market string, side exchange.Side, quantity, price decimal.Decimal) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	defer c.observe("place_order")()

	order, err := c.api.NewCreateOrderService().
		Symbol(market).
		Side(toAPISide(side)).
		Type(binanceapi.OrderTypeLimit).
		TimeInForce(binanceapi.TimeInForceTypeGTC).
		Quantity(quantity.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: place %s %s %s@%s: %v", types.ErrAdapterRejected, side, market, quantity, price, err)
	}

	c.logger.Info("limit order placed",
		"market", market,
		"side", side,
		"order_id", order.OrderID,
		"quantity", quantity,
		"price", price,
	)

	return strconv.FormatInt(order.OrderID, 10), nil
}

// GetOrderStatus returns Binance's current view of an order. The order
// query endpoint does not expose fees, so Commission stays zero for
// this venue.
func (c *Client) GetOrderStatus(ctx context.Context, orderID, market string) (*exchange.OrderStatus, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order id %q: %v", types.ErrOrderNotFound, orderID, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	defer c.observe("order_status")()

	order, err := c.api.NewGetOrderService().Symbol(market).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: order %s on %s: %v", types.ErrAdapterUnavailable, orderID, market, err)
	}

	return fromAPIOrder(order)
}

// CancelOrder cancels a live order.
func (c *Client) CancelOrder(ctx context.Context, orderID, market string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: order id %q: %v", types.ErrOrderNotFound, orderID, err)
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	defer c.observe("cancel_order")()

	if _, err := c.api.NewCancelOrderService().Symbol(market).OrderID(id).Do(ctx); err != nil {
		return false, fmt.Errorf("%w: cancel order %s on %s: %v", types.ErrAdapterRejected, orderID, market, err)
	}

	c.logger.Info("order cancelled", "market", market, "order_id", orderID)
	return true, nil
}

// MarketRules returns the lot-size constraints for a market.
func (c *Client) MarketRules(ctx context.Context, market string) (*exchange.MarketRules, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	defer c.observe("exchange_info")()

	info, err := c.api.NewExchangeInfoService().Symbol(market).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange info for %s: %v", types.ErrAdapterUnavailable, market, err)
	}

	for _, sym := range info.Symbols {
		if sym.Symbol != market {
			continue
		}
		lot := sym.LotSizeFilter()
		if lot == nil {
			return &exchange.MarketRules{Market: market}, nil
		}

		rules := &exchange.MarketRules{Market: market}
		if rules.MinVolume, err = decimal.NewFromString(lot.MinQuantity); err != nil {
			return nil, fmt.Errorf("%w: %s min quantity %q: %v", types.ErrDataIntegrity, market, lot.MinQuantity, err)
		}
		if rules.MaxVolume, err = decimal.NewFromString(lot.MaxQuantity); err != nil {
			return nil, fmt.Errorf("%w: %s max quantity %q: %v", types.ErrDataIntegrity, market, lot.MaxQuantity, err)
		}
		if rules.VolumeStep, err = decimal.NewFromString(lot.StepSize); err != nil {
			return nil, fmt.Errorf("%w: %s step size %q: %v", types.ErrDataIntegrity, market, lot.StepSize, err)
		}
		return rules, nil
	}

	return nil, fmt.Errorf("%w: %s", types.ErrInvalidMarket, market)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// observe starts a request timer and returns its stop function.
func (c *Client) observe(op string) func() {
	if c.recorder == nil {
		return func() {}
	}
	timer := metrics.NewTimer()
	return func() { timer.ObserveExchange("binance", op) }
}

func toAPISide(side exchange.Side) binanceapi.SideType {
	if side == exchange.SideSell {
		return binanceapi.SideTypeSell
	}
	return binanceapi.SideTypeBuy
}

func fromAPIOrder(order *binanceapi.Order) (*exchange.OrderStatus, error) {
	price, err := decimal.NewFromString(order.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: order %d price %q: %v", types.ErrDataIntegrity, order.OrderID, order.Price, err)
	}
	quantity, err := decimal.NewFromString(order.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: order %d quantity %q: %v", types.ErrDataIntegrity, order.OrderID, order.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: order %d executed %q: %v", types.ErrDataIntegrity, order.OrderID, order.ExecutedQuantity, err)
	}
	cost, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: order %d cost %q: %v", types.ErrDataIntegrity, order.OrderID, order.CummulativeQuoteQuantity, err)
	}

	return &exchange.OrderStatus{
		OrderID:           strconv.FormatInt(order.OrderID, 10),
		Market:            order.Symbol,
		Type:              fromAPIType(order.Type),
		Side:              fromAPISide(order.Side),
		State:             fromAPIState(order.Status),
		Price:             price,
		Cost:              cost,
		Quantity:          quantity,
		RemainingQuantity: quantity.Sub(executed),
		UpdatedAt:         time.UnixMilli(order.UpdateTime).UTC(),
	}, nil
}

func fromAPISide(side binanceapi.SideType) exchange.Side {
	if side == binanceapi.SideTypeSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func fromAPIType(t binanceapi.OrderType) exchange.OrderType {
	switch t {
	case binanceapi.OrderTypeLimit:
		return exchange.OrderTypeLimit
	case binanceapi.OrderTypeMarket:
		return exchange.OrderTypeMarket
	case binanceapi.OrderTypeStopLoss:
		return exchange.OrderTypeStopLoss
	case binanceapi.OrderTypeLimitMaker:
		return exchange.OrderTypeLimitMaker
	default:
		return exchange.OrderType(t)
	}
}

func fromAPIState(s binanceapi.OrderStatusType) exchange.OrderState {
	switch s {
	case binanceapi.OrderStatusTypeNew:
		return exchange.OrderStateNew
	case binanceapi.OrderStatusTypePartiallyFilled:
		return exchange.OrderStatePartialFill
	case binanceapi.OrderStatusTypeFilled:
		return exchange.OrderStateFilled
	case binanceapi.OrderStatusTypePendingCancel:
		return exchange.OrderStatePendingCancel
	case binanceapi.OrderStatusTypeCanceled,
		binanceapi.OrderStatusTypeRejected,
		binanceapi.OrderStatusTypeExpired:
		return exchange.OrderStateCancelled
	default:
		return exchange.OrderState(s)
	}
}

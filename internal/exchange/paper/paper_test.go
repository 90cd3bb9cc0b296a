package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trailbot/internal/exchange"
	"trailbot/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestExchange_Ticker(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	if _, err := venue.GetTicker(ctx, "BTCUSDT"); !errors.Is(err, types.ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}

	venue.SetPrice("BTCUSDT", d("50000"))
	price, err := venue.GetTicker(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if !price.Equal(d("50000")) {
		t.Errorf("price = %s, want 50000", price)
	}

	venue.RemovePrice("BTCUSDT")
	if _, err := venue.GetTicker(ctx, "BTCUSDT"); !errors.Is(err, types.ErrQuoteUnavailable) {
		t.Errorf("err = %v, want ErrQuoteUnavailable after removal", err)
	}
}

func TestExchange_OrderLifecycle(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	id, err := venue.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, d("2"), d("100"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	order, err := venue.GetOrderStatus(ctx, id, "BTCUSDT")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if order.State != exchange.OrderStateNew {
		t.Errorf("state = %s, want NEW", order.State)
	}
	if order.Type != exchange.OrderTypeLimit {
		t.Errorf("type = %s, want LIMIT", order.Type)
	}
	if !order.RemainingQuantity.Equal(d("2")) {
		t.Errorf("remaining = %s, want 2", order.RemainingQuantity)
	}

	if err := venue.PartialFill(id, d("1"), d("100"), d("0.1")); err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	order, _ = venue.GetOrderStatus(ctx, id, "BTCUSDT")
	if order.State != exchange.OrderStatePartialFill {
		t.Errorf("state = %s, want PARTIALLY_FILLED", order.State)
	}
	if !order.RemainingQuantity.Equal(d("1")) {
		t.Errorf("remaining = %s, want 1", order.RemainingQuantity)
	}

	if err := venue.Fill(id, d("200"), d("0.2")); err != nil {
		t.Fatalf("fill: %v", err)
	}
	order, _ = venue.GetOrderStatus(ctx, id, "BTCUSDT")
	if order.State != exchange.OrderStateFilled {
		t.Errorf("state = %s, want FILLED", order.State)
	}
	if !order.Cost.Equal(d("200")) || !order.Commission.Equal(d("0.2")) {
		t.Errorf("cost/commission = %s/%s, want 200/0.2", order.Cost, order.Commission)
	}
	if !order.RemainingQuantity.IsZero() {
		t.Errorf("remaining = %s, want 0", order.RemainingQuantity)
	}
}

func TestExchange_PlaceLimitOrder_RejectsBadInput(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	if _, err := venue.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, d("0"), d("100")); !errors.Is(err, types.ErrAdapterRejected) {
		t.Errorf("zero quantity: err = %v, want ErrAdapterRejected", err)
	}
	if _, err := venue.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideSell, d("1"), d("-1")); !errors.Is(err, types.ErrAdapterRejected) {
		t.Errorf("negative price: err = %v, want ErrAdapterRejected", err)
	}
}

func TestExchange_CancelOrder(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	id, err := venue.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, d("1"), d("100"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ok, err := venue.CancelOrder(ctx, id, "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v; want true, nil", ok, err)
	}

	order, _ := venue.GetOrderStatus(ctx, id, "BTCUSDT")
	if order.State != exchange.OrderStateCancelled {
		t.Errorf("state = %s, want CANCELLED", order.State)
	}

	// A resolved order cannot be cancelled again.
	if _, err := venue.CancelOrder(ctx, id, "BTCUSDT"); !errors.Is(err, types.ErrAdapterRejected) {
		t.Errorf("err = %v, want ErrAdapterRejected", err)
	}

	if _, err := venue.CancelOrder(ctx, "missing", "BTCUSDT"); !errors.Is(err, types.ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestExchange_MarketRules(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	rules, err := venue.MarketRules(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !rules.MinVolume.IsZero() || !rules.VolumeStep.IsZero() {
		t.Error("unconfigured market should have permissive rules")
	}

	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("0.001"),
		VolumeStep: d("0.001"),
	})
	rules, err = venue.MarketRules(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !rules.MinVolume.Equal(d("0.001")) {
		t.Errorf("min volume = %s, want 0.001", rules.MinVolume)
	}
}

func TestExchange_Ping(t *testing.T) {
	venue := New(nil)
	ctx := context.Background()

	if err := venue.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	venue.SetPingError(errors.New("maintenance"))
	if err := venue.Ping(ctx); err == nil {
		t.Error("expected scripted ping error")
	}

	venue.SetPingError(nil)
	if err := venue.Ping(ctx); err != nil {
		t.Errorf("ping after recovery: %v", err)
	}
}

package opener

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/alerting"
	"trailbot/internal/exchange"
	"trailbot/internal/exchange/paper"
	"trailbot/internal/store"
	"trailbot/internal/store/sqlite"
	"trailbot/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupOpenerTest(t *testing.T, cfg Config) (*Opener, *sqlite.Store, *paper.Exchange, *alerting.MockAlerter) {
	t.Helper()

	f, err := os.CreateTemp("", "trailbot-opener-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	st, err := sqlite.New(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.Remove(path)
	})

	venue := paper.New(nil)
	alerter := alerting.NewMockAlerter()
	o := New(cfg, st, venue, alerter, nil)

	return o, st, venue, alerter
}

func TestOpener_Open(t *testing.T) {
	o, st, venue, alerter := setupOpenerTest(t, DefaultConfig())
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("50000"))
	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("0.0001"),
		VolumeStep: d("0.0001"),
	})

	p, err := o.Open(ctx, "BTCUSDT", d("100"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if p.Status != types.StatusOpening {
		t.Errorf("status = %s, want opening", p.Status)
	}
	// 100/50000 = 0.002, already on the step grid.
	if !p.Volume.Equal(d("0.002")) {
		t.Errorf("volume = %s, want 0.002", p.Volume)
	}
	if !p.OpenRate.Equal(d("50000")) {
		t.Errorf("open rate = %s, want 50000", p.OpenRate)
	}
	if p.OpenOrderID == "" {
		t.Fatal("expected open order id")
	}

	order, err := venue.GetOrderStatus(ctx, p.OpenOrderID, "BTCUSDT")
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if order.Side != exchange.SideBuy {
		t.Errorf("order side = %s, want BUY", order.Side)
	}

	stored, err := st.FindByOpenOrderID(ctx, p.OpenOrderID)
	if err != nil {
		t.Fatalf("stored position: %v", err)
	}
	if stored.ID != p.ID {
		t.Errorf("stored id = %s, want %s", stored.ID, p.ID)
	}

	if !o.Locks().Locked("BTCUSDT") {
		t.Error("market should be locked after opening")
	}
	if !alerter.HasAlertContaining("Opening position") {
		t.Error("expected an opening alert")
	}
}

func TestOpener_Open_QuantizesVolume(t *testing.T) {
	o, _, venue, _ := setupOpenerTest(t, DefaultConfig())
	ctx := context.Background()

	venue.SetPrice("ETHUSDT", d("3000"))
	venue.SetRules("ETHUSDT", exchange.MarketRules{
		MinVolume:  d("0.01"),
		VolumeStep: d("0.01"),
	})

	// 100/3000 = 0.0333... snaps down to 0.03.
	p, err := o.Open(ctx, "ETHUSDT", d("100"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !p.Volume.Equal(d("0.03")) {
		t.Errorf("volume = %s, want 0.03", p.Volume)
	}
}

func TestOpener_Open_VolumeTooSmall(t *testing.T) {
	o, _, venue, _ := setupOpenerTest(t, DefaultConfig())
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("50000"))
	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("0.01"),
		VolumeStep: d("0.01"),
	})

	// 100/50000 = 0.002, below the 0.01 minimum.
	if _, err := o.Open(ctx, "BTCUSDT", d("100")); !errors.Is(err, types.ErrVolumeTooSmall) {
		t.Fatalf("err = %v, want ErrVolumeTooSmall", err)
	}
}

func TestOpener_Open_BudgetBelowMinimumNeverBuysMore(t *testing.T) {
	o, st, venue, _ := setupOpenerTest(t, DefaultConfig())
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("100"))
	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("1"),
		VolumeStep: d("0.5"),
	})

	// 80/100 = 0.8, below the minimum of 1. Snapping it up to the
	// minimum would submit a buy for more than the 80 budget covers.
	if _, err := o.Open(ctx, "BTCUSDT", d("80")); !errors.Is(err, types.ErrVolumeTooSmall) {
		t.Fatalf("err = %v, want ErrVolumeTooSmall", err)
	}

	positions, err := st.Find(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("positions = %d, want none", len(positions))
	}
}

func TestOpener_Open_LockedMarket(t *testing.T) {
	o, _, venue, _ := setupOpenerTest(t, DefaultConfig())
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("50000"))
	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("0.0001"),
		VolumeStep: d("0.0001"),
	})

	if _, err := o.Open(ctx, "BTCUSDT", d("100")); err != nil {
		t.Fatalf("first open: %v", err)
	}

	// Cool-down window rejects the duplicate open.
	if _, err := o.Open(ctx, "BTCUSDT", d("100")); !errors.Is(err, types.ErrMarketLocked) {
		t.Fatalf("err = %v, want ErrMarketLocked", err)
	}
}

func TestOpener_Open_NoQuote(t *testing.T) {
	o, _, _, _ := setupOpenerTest(t, DefaultConfig())

	if _, err := o.Open(context.Background(), "BTCUSDT", d("100")); !errors.Is(err, types.ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}
}

func TestOpener_Tick_VenueDownHaltsOpening(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Markets = []MarketSchedule{
		{Market: "BTCUSDT", QuoteAmount: d("100"), Every: time.Minute},
	}
	o, st, venue, alerter := setupOpenerTest(t, cfg)
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("50000"))
	venue.SetPingError(errors.New("maintenance"))
	o.nextDue["BTCUSDT"] = time.Now().UTC().Add(-time.Second)

	o.Tick(ctx)

	positions, err := st.Find(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0 while venue is down", len(positions))
	}
	if !alerter.HasAlertContaining("Venue unavailable") {
		t.Error("expected a venue alert")
	}
}

func TestOpener_Tick_OpensDueMarkets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Markets = []MarketSchedule{
		{Market: "BTCUSDT", QuoteAmount: d("100"), Every: time.Minute},
		{Market: "ETHUSDT", QuoteAmount: d("100"), Every: 0}, // manual only
	}
	o, st, venue, _ := setupOpenerTest(t, cfg)
	ctx := context.Background()

	venue.SetPrice("BTCUSDT", d("50000"))
	venue.SetRules("BTCUSDT", exchange.MarketRules{
		MinVolume:  d("0.0001"),
		VolumeStep: d("0.0001"),
	})
	o.nextDue["BTCUSDT"] = time.Now().UTC().Add(-time.Second)

	o.Tick(ctx)

	positions, err := st.Find(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Market != "BTCUSDT" {
		t.Errorf("market = %s, want BTCUSDT (ETHUSDT is manual only)", positions[0].Market)
	}

	// Not due again on the very next tick.
	o.Tick(ctx)
	positions, err = st.Find(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(positions) != 1 {
		t.Errorf("positions = %d, schedule should not re-fire immediately", len(positions))
	}
}

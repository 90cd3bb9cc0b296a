package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/store/sqlite"
	"trailbot/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupReportTest(t *testing.T) *sqlite.Store {
	t.Helper()

	f, err := os.CreateTemp("", "trailbot-report-test-*.db")
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

	return st
}

func insertClosed(t *testing.T, st *sqlite.Store, market string, net, netPct, commission decimal.Decimal) {
	t.Helper()

	now := time.Now().UTC()
	p := types.NewPosition(market, d("100"), d("1"), "order-"+market, now.Add(-time.Hour))
	p.Status = types.StatusClosed
	p.Net = net
	p.NetPercent = netPct
	p.PaidCommission = commission
	closed := now
	p.ClosedAt = &closed
	p.FullyClosedAt = &closed
	p.ClosureReason = string(types.ReasonStopLoss)

	if err := st.Insert(context.Background(), p); err != nil {
		t.Fatalf("insert closed position: %v", err)
	}
}

func TestReporter_Build(t *testing.T) {
	st := setupReportTest(t)
	ctx := context.Background()

	insertClosed(t, st, "BTCUSDT", d("10"), d("5"), d("0.5"))
	insertClosed(t, st, "BTCUSDT", d("-4"), d("-2"), d("0.4"))
	insertClosed(t, st, "ETHUSDT", d("6"), d("3"), d("0.2"))

	now := time.Now().UTC()
	open := types.NewPosition("BTCUSDT", d("50000"), d("0.002"), "order-open", now)
	open.Status = types.StatusOpen
	open.CurrentPrice = d("51000")
	stop := d("45900")
	open.StopLoss = &stop
	open.ExpectedNetPercent = d("2")
	if err := st.Insert(ctx, open); err != nil {
		t.Fatalf("insert open position: %v", err)
	}

	report, err := NewReporter(st).Build(ctx, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(report.Summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(report.Summaries))
	}

	// Sorted by market.
	btc := report.Summaries[0]
	if btc.Market != "BTCUSDT" {
		t.Fatalf("first summary = %s, want BTCUSDT", btc.Market)
	}
	if btc.Trades != 2 || btc.Wins != 1 {
		t.Errorf("trades/wins = %d/%d, want 2/1", btc.Trades, btc.Wins)
	}
	if !btc.TotalNet.Equal(d("6")) {
		t.Errorf("total net = %s, want 6", btc.TotalNet)
	}
	if !btc.TotalNetPct.Equal(d("3")) {
		t.Errorf("total net pct = %s, want 3", btc.TotalNetPct)
	}
	if !btc.PaidCommission.Equal(d("0.9")) {
		t.Errorf("commission = %s, want 0.9", btc.PaidCommission)
	}
	if !btc.WinRate().Equal(d("50")) {
		t.Errorf("win rate = %s, want 50", btc.WinRate())
	}

	eth := report.Summaries[1]
	if eth.Trades != 1 || eth.Wins != 1 || !eth.WinRate().Equal(d("100")) {
		t.Errorf("eth summary = %+v", eth)
	}

	if len(report.Open) != 1 {
		t.Fatalf("open rows = %d, want 1", len(report.Open))
	}
	row := report.Open[0]
	if row.Market != "BTCUSDT" || row.Status != types.StatusOpen {
		t.Errorf("open row = %s/%s", row.Market, row.Status)
	}
	if row.StopLoss == nil || !row.StopLoss.Equal(d("45900")) {
		t.Errorf("open row stop = %v, want 45900", row.StopLoss)
	}
	if !row.CurrentPrice.Equal(d("51000")) {
		t.Errorf("open row price = %s, want 51000", row.CurrentPrice)
	}
}

func TestReporter_Build_MarketFilter(t *testing.T) {
	st := setupReportTest(t)

	insertClosed(t, st, "BTCUSDT", d("10"), d("5"), d("0.5"))
	insertClosed(t, st, "ETHUSDT", d("6"), d("3"), d("0.2"))

	report, err := NewReporter(st).Build(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(report.Summaries) != 1 || report.Summaries[0].Market != "ETHUSDT" {
		t.Fatalf("summaries = %+v, want ETHUSDT only", report.Summaries)
	}
}

func TestReporter_Build_Empty(t *testing.T) {
	st := setupReportTest(t)

	report, err := NewReporter(st).Build(context.Background(), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(report.Summaries) != 0 || len(report.Open) != 0 {
		t.Errorf("report not empty: %+v", report)
	}

	out := report.Render()
	if !strings.Contains(out, "=== Closed positions ===") || !strings.Contains(out, "(none)") {
		t.Errorf("render:\n%s", out)
	}
}

func TestReport_Render(t *testing.T) {
	stop := d("45900")
	report := &Report{
		Summaries: []MarketSummary{
			{Market: "BTCUSDT", Trades: 2, Wins: 1, TotalNet: d("6"), TotalNetPct: d("3"), PaidCommission: d("0.9")},
		},
		Open: []OpenRow{
			{
				Market:             "BTCUSDT",
				Status:             types.StatusOpen,
				OpenRate:           d("50000"),
				CurrentPrice:       d("51000"),
				StopLoss:           &stop,
				ExpectedNetPercent: d("2"),
				OpenAt:             time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
				Hodl:               true,
			},
		},
	}

	out := report.Render()
	for _, want := range []string{
		"BTCUSDT",
		"trades=2",
		"win_rate= 50.00%",
		"stop=45900",
		"2026-08-01 12:00",
		"[hodl]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

// Package report aggregates stored positions into per-market trading
// summaries for the CLI.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/store"
	"trailbot/internal/types"
)

// MarketSummary aggregates the closed round trips of one market.
type MarketSummary struct {
	Market         string
	Trades         int
	Wins           int
	TotalNet       decimal.Decimal
	TotalNetPct    decimal.Decimal // sum of per-trade net percents
	PaidCommission decimal.Decimal
}

// WinRate returns the share of closed trades with positive net, in
// percent.
func (s MarketSummary) WinRate() decimal.Decimal {
	if s.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins * 100)).Div(decimal.NewFromInt(int64(s.Trades)))
}

// OpenRow is one monitored position in the live snapshot.
type OpenRow struct {
	Market             string
	Status             types.Status
	OpenRate           decimal.Decimal
	CurrentPrice       decimal.Decimal
	StopLoss           *decimal.Decimal
	ExpectedNetPercent decimal.Decimal
	OpenAt             time.Time
	Hodl               bool
}

// Report is the full output of one reporting run.
type Report struct {
	Summaries []MarketSummary
	Open      []OpenRow
}

// Reporter builds reports from the position store.
type Reporter struct {
	store store.PositionStore
}

// NewReporter creates a reporter.
func NewReporter(st store.PositionStore) *Reporter {
	return &Reporter{store: st}
}

// Build aggregates closed positions per market and snapshots the ones
// still in flight or monitored. An empty market selects all markets.
func (r *Reporter) Build(ctx context.Context, market string) (*Report, error) {
	closed, err := r.store.Find(ctx, store.Filter{
		Statuses: []types.Status{types.StatusClosed},
		Market:   market,
	})
	if err != nil {
		return nil, fmt.Errorf("load closed positions: %w", err)
	}

	byMarket := make(map[string]*MarketSummary)
	for _, p := range closed {
		s, ok := byMarket[p.Market]
		if !ok {
			s = &MarketSummary{Market: p.Market}
			byMarket[p.Market] = s
		}
		s.Trades++
		if p.Net.IsPositive() {
			s.Wins++
		}
		s.TotalNet = s.TotalNet.Add(p.Net)
		s.TotalNetPct = s.TotalNetPct.Add(p.NetPercent)
		s.PaidCommission = s.PaidCommission.Add(p.PaidCommission)
	}

	report := &Report{}
	for _, s := range byMarket {
		report.Summaries = append(report.Summaries, *s)
	}
	sort.Slice(report.Summaries, func(i, j int) bool {
		return report.Summaries[i].Market < report.Summaries[j].Market
	})

	active, err := r.store.Find(ctx, store.Filter{
		Statuses: []types.Status{types.StatusOpening, types.StatusOpen, types.StatusClosing},
		Market:   market,
	})
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}
	for _, p := range active {
		report.Open = append(report.Open, OpenRow{
			Market:             p.Market,
			Status:             p.Status,
			OpenRate:           p.OpenRate,
			CurrentPrice:       p.CurrentPrice,
			StopLoss:           p.StopLoss,
			ExpectedNetPercent: p.ExpectedNetPercent,
			OpenAt:             p.OpenAt,
			Hodl:               p.Hodl,
		})
	}

	return report, nil
}

// Render formats the report as plain text.
func (r *Report) Render() string {
	var b strings.Builder

	b.WriteString("=== Closed positions ===\n")
	if len(r.Summaries) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range r.Summaries {
		fmt.Fprintf(&b, "%-12s trades=%-4d win_rate=%6s%%  net=%s  net_pct_sum=%s%%  commission=%s\n",
			s.Market,
			s.Trades,
			s.WinRate().StringFixed(2),
			s.TotalNet.StringFixed(8),
			s.TotalNetPct.StringFixed(2),
			s.PaidCommission.StringFixed(8),
		)
	}

	b.WriteString("\n=== Active positions ===\n")
	if len(r.Open) == 0 {
		b.WriteString("(none)\n")
	}
	for _, row := range r.Open {
		stop := "-"
		if row.StopLoss != nil {
			stop = row.StopLoss.String()
		}
		hodl := ""
		if row.Hodl {
			hodl = " [hodl]"
		}
		fmt.Fprintf(&b, "%-12s %-18s open=%s last=%s stop=%s pnl=%s%%  since %s%s\n",
			row.Market,
			row.Status,
			row.OpenRate,
			row.CurrentPrice,
			stop,
			row.ExpectedNetPercent.StringFixed(2),
			row.OpenAt.Format("2006-01-02 15:04"),
			hodl,
		)
	}

	return b.String()
}

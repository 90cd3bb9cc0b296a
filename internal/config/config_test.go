package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trailbot/internal/types"
)

const validYAML = `
exchange:
  type: paper
persistence:
  path: /tmp/trailbot.db
trailing:
  interval_sec: 3
  stop_loss_pct: 10
  stop_profit_pct: 20
  per_market:
    ETHUSDT:
      stop_loss_pct: 5
      stop_profit_pct: 15
  dry_run: true
reconcile:
  interval_sec: 15
  max_inflight_sec: 600
opener:
  interval_sec: 20
  lock_duration_sec: 120
  markets:
    - market: BTCUSDT
      quote_amount: 100
      every_min: 60
    - market: ETHUSDT
      quote_amount: 50
alerting:
  enabled: true
  channels:
    - type: console
metrics:
  enabled: true
  port: 9090
shutdown:
  timeout_sec: 5
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Exchange.Type != "paper" {
		t.Errorf("exchange type = %s, want paper", cfg.Exchange.Type)
	}
	if cfg.Persistence.Path != "/tmp/trailbot.db" {
		t.Errorf("persistence path = %s", cfg.Persistence.Path)
	}
	if cfg.Trailing.StopLossPct != 10 || cfg.Trailing.StopProfitPct != 20 {
		t.Errorf("stop pcts = %v/%v, want 10/20", cfg.Trailing.StopLossPct, cfg.Trailing.StopProfitPct)
	}
	if !cfg.Trailing.DryRun {
		t.Error("dry_run should be true")
	}
	ov, ok := cfg.Trailing.PerMarket["ETHUSDT"]
	if !ok || ov.StopLossPct != 5 {
		t.Errorf("per-market override = %+v, ok=%v", ov, ok)
	}
	if len(cfg.Opener.Markets) != 2 {
		t.Fatalf("opener markets = %d, want 2", len(cfg.Opener.Markets))
	}
	if cfg.Opener.Markets[1].EveryMin != 0 {
		t.Errorf("ETHUSDT every_min = %d, want 0 (manual only)", cfg.Opener.Markets[1].EveryMin)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("metrics port = %d, want 9090", cfg.Metrics.Port)
	}
}

func TestLoadFromBytes_ExpandsEnv(t *testing.T) {
	t.Setenv("TRAILBOT_DB", "/var/lib/trailbot/positions.db")
	t.Setenv("TG_TOKEN", "123:abc")
	t.Setenv("TG_CHAT", "-100200")

	yml := `
persistence:
  path: ${TRAILBOT_DB}
trailing:
  stop_loss_pct: 8
alerting:
  enabled: true
  channels:
    - type: telegram
      bot_token: ${TG_TOKEN}
      chat_id: ${TG_CHAT}
`
	cfg, err := LoadFromBytes([]byte(yml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Persistence.Path != "/var/lib/trailbot/positions.db" {
		t.Errorf("path = %s, env var not expanded", cfg.Persistence.Path)
	}
	if cfg.Alerting.Channels[0].BotToken != "123:abc" {
		t.Errorf("bot token = %s, env var not expanded", cfg.Alerting.Channels[0].BotToken)
	}
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unsupported exchange type",
			yaml: `
exchange:
  type: kraken
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
`,
			wantErr: "exchange.type",
		},
		{
			name: "binance without credentials",
			yaml: `
exchange:
  type: binance
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
`,
			wantErr: "api_key",
		},
		{
			name: "missing persistence path",
			yaml: `
trailing:
  stop_loss_pct: 10
`,
			wantErr: "persistence.path",
		},
		{
			name: "stop loss out of range",
			yaml: `
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 150
`,
			wantErr: "stop_loss_pct",
		},
		{
			name: "negative per-market stop profit",
			yaml: `
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
  per_market:
    BTCUSDT:
      stop_loss_pct: 5
      stop_profit_pct: -1
`,
			wantErr: "per_market.BTCUSDT.stop_profit_pct",
		},
		{
			name: "duplicate opener market",
			yaml: `
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
opener:
  markets:
    - market: BTCUSDT
      quote_amount: 100
    - market: BTCUSDT
      quote_amount: 50
`,
			wantErr: "duplicate entry for BTCUSDT",
		},
		{
			name: "telegram channel missing token",
			yaml: `
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
alerting:
  channels:
    - type: telegram
`,
			wantErr: "bot_token",
		},
		{
			name: "metrics enabled without port",
			yaml: `
persistence:
  path: /tmp/t.db
trailing:
  stop_loss_pct: 10
metrics:
  enabled: true
`,
			wantErr: "metrics.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{
		Persistence: PersistenceConfig{Path: "/tmp/t.db"},
		Trailing:    TrailingConfig{StopLossPct: 10},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Exchange.Type != "paper" {
		t.Errorf("exchange type default = %s, want paper", cfg.Exchange.Type)
	}
	if cfg.Trailing.IntervalSec != 5 {
		t.Errorf("trailing interval = %d, want 5", cfg.Trailing.IntervalSec)
	}
	if cfg.Reconcile.IntervalSec != 30 {
		t.Errorf("reconcile interval = %d, want 30", cfg.Reconcile.IntervalSec)
	}
	if cfg.Opener.IntervalSec != 10 || cfg.Opener.LockDurationSec != 300 {
		t.Errorf("opener defaults = %d/%d, want 10/300", cfg.Opener.IntervalSec, cfg.Opener.LockDurationSec)
	}
	if cfg.Shutdown.TimeoutSec != 10 {
		t.Errorf("shutdown timeout = %d, want 10", cfg.Shutdown.TimeoutSec)
	}
}

func TestConfig_Converters(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	tc := cfg.ToTrailConfig()
	if tc.Interval != 3*time.Second {
		t.Errorf("trail interval = %s, want 3s", tc.Interval)
	}
	if !tc.Default.StopLoss.Equal(decimal.NewFromInt(10)) {
		t.Errorf("default stop loss = %s, want 10", tc.Default.StopLoss)
	}
	if !tc.DryRun {
		t.Error("trail dry run should carry over")
	}
	ov, ok := tc.PerMarket["ETHUSDT"]
	if !ok || !ov.StopProfit.Equal(decimal.NewFromInt(15)) {
		t.Errorf("per-market = %+v, ok=%v", ov, ok)
	}

	rc := cfg.ToReconcileConfig()
	if rc.Interval != 15*time.Second || rc.MaxInFlight != 10*time.Minute {
		t.Errorf("reconcile config = %s/%s, want 15s/10m", rc.Interval, rc.MaxInFlight)
	}

	oc := cfg.ToOpenerConfig()
	if oc.Interval != 20*time.Second || oc.LockDuration != 2*time.Minute {
		t.Errorf("opener config = %s/%s, want 20s/2m", oc.Interval, oc.LockDuration)
	}
	if len(oc.Markets) != 2 {
		t.Fatalf("opener markets = %d, want 2", len(oc.Markets))
	}
	if !oc.Markets[0].QuoteAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quote amount = %s, want 100", oc.Markets[0].QuoteAmount)
	}
	if oc.Markets[0].Every != time.Hour {
		t.Errorf("every = %s, want 1h", oc.Markets[0].Every)
	}
	if oc.Markets[1].Every != 0 {
		t.Errorf("ETHUSDT every = %s, want 0", oc.Markets[1].Every)
	}

	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout = %s, want 5s", cfg.ShutdownTimeout())
	}
}

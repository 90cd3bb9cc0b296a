// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trailbot/internal/exchange/binance"
	"trailbot/internal/opener"
	"trailbot/internal/reconcile"
	"trailbot/internal/trail"
	"trailbot/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Trailing    TrailingConfig    `yaml:"trailing"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Opener      OpenerConfig      `yaml:"opener"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// ExchangeConfig holds venue settings.
type ExchangeConfig struct {
	Type    string         `yaml:"type"` // binance | paper
	Binance binance.Config `yaml:"binance"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Path string `yaml:"path"` // sqlite database file
}

// TrailingConfig holds trailing-stop engine settings.
type TrailingConfig struct {
	IntervalSec   int                        `yaml:"interval_sec"`
	StopLossPct   float64                    `yaml:"stop_loss_pct"`
	StopProfitPct float64                    `yaml:"stop_profit_pct"`
	PerMarket     map[string]MarketOverrides `yaml:"per_market"`
	DryRun        bool                       `yaml:"dry_run"`
}

// MarketOverrides overrides stop distances for one market.
type MarketOverrides struct {
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	StopProfitPct float64 `yaml:"stop_profit_pct"`
}

// ReconcileConfig holds reconciliation settings.
type ReconcileConfig struct {
	IntervalSec    int `yaml:"interval_sec"`
	MaxInFlightSec int `yaml:"max_inflight_sec"`
}

// OpenerConfig holds position-opening settings.
type OpenerConfig struct {
	IntervalSec     int              `yaml:"interval_sec"`
	LockDurationSec int              `yaml:"lock_duration_sec"`
	Markets         []ScheduleConfig `yaml:"markets"`
}

// ScheduleConfig holds one market's opening schedule.
type ScheduleConfig struct {
	Market      string  `yaml:"market"`
	QuoteAmount float64 `yaml:"quote_amount"`
	EveryMin    int     `yaml:"every_min"` // zero disables automatic opening
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variable references in the file are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []string

	switch c.Exchange.Type {
	case "", "paper":
		c.Exchange.Type = "paper"
	case "binance":
		if c.Exchange.Binance.APIKey == "" || c.Exchange.Binance.APISecret == "" {
			errs = append(errs, "exchange.binance.api_key and api_secret are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("exchange.type '%s' is not supported", c.Exchange.Type))
	}

	if c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required")
	}

	if c.Trailing.StopLossPct <= 0 || c.Trailing.StopLossPct >= 100 {
		errs = append(errs, "trailing.stop_loss_pct must be between 0 and 100")
	}
	if c.Trailing.StopProfitPct < 0 {
		errs = append(errs, "trailing.stop_profit_pct must not be negative")
	}
	for market, ov := range c.Trailing.PerMarket {
		if ov.StopLossPct <= 0 || ov.StopLossPct >= 100 {
			errs = append(errs, fmt.Sprintf("trailing.per_market.%s.stop_loss_pct must be between 0 and 100", market))
		}
		if ov.StopProfitPct < 0 {
			errs = append(errs, fmt.Sprintf("trailing.per_market.%s.stop_profit_pct must not be negative", market))
		}
	}

	seen := make(map[string]bool, len(c.Opener.Markets))
	for i, m := range c.Opener.Markets {
		if m.Market == "" {
			errs = append(errs, fmt.Sprintf("opener.markets[%d].market is required", i))
			continue
		}
		if seen[m.Market] {
			errs = append(errs, fmt.Sprintf("opener.markets: duplicate entry for %s", m.Market))
		}
		seen[m.Market] = true
		if m.QuoteAmount <= 0 {
			errs = append(errs, fmt.Sprintf("opener.markets[%d].quote_amount must be positive", i))
		}
		if m.EveryMin < 0 {
			errs = append(errs, fmt.Sprintf("opener.markets[%d].every_min must not be negative", i))
		}
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type '%s' is not supported", i, ch.Type))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be a valid port")
	}

	// Fill defaults for optional timing knobs.
	if c.Trailing.IntervalSec <= 0 {
		c.Trailing.IntervalSec = 5
	}
	if c.Reconcile.IntervalSec <= 0 {
		c.Reconcile.IntervalSec = 30
	}
	if c.Opener.IntervalSec <= 0 {
		c.Opener.IntervalSec = 10
	}
	if c.Opener.LockDurationSec <= 0 {
		c.Opener.LockDurationSec = 300
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 10
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToTrailConfig converts to trail.Config.
func (c *Config) ToTrailConfig() trail.Config {
	out := trail.Config{
		Interval: time.Duration(c.Trailing.IntervalSec) * time.Second,
		Default: trail.Percents{
			StopLoss:   decimal.NewFromFloat(c.Trailing.StopLossPct),
			StopProfit: decimal.NewFromFloat(c.Trailing.StopProfitPct),
		},
		DryRun: c.Trailing.DryRun,
	}
	if len(c.Trailing.PerMarket) > 0 {
		out.PerMarket = make(map[string]trail.Percents, len(c.Trailing.PerMarket))
		for market, ov := range c.Trailing.PerMarket {
			out.PerMarket[market] = trail.Percents{
				StopLoss:   decimal.NewFromFloat(ov.StopLossPct),
				StopProfit: decimal.NewFromFloat(ov.StopProfitPct),
			}
		}
	}
	return out
}

// ToReconcileConfig converts to reconcile.Config.
func (c *Config) ToReconcileConfig() reconcile.Config {
	return reconcile.Config{
		Interval:    time.Duration(c.Reconcile.IntervalSec) * time.Second,
		MaxInFlight: time.Duration(c.Reconcile.MaxInFlightSec) * time.Second,
	}
}

// ToOpenerConfig converts to opener.Config.
func (c *Config) ToOpenerConfig() opener.Config {
	out := opener.Config{
		Interval:     time.Duration(c.Opener.IntervalSec) * time.Second,
		LockDuration: time.Duration(c.Opener.LockDurationSec) * time.Second,
	}
	for _, m := range c.Opener.Markets {
		out.Markets = append(out.Markets, opener.MarketSchedule{
			Market:      m.Market,
			QuoteAmount: decimal.NewFromFloat(m.QuoteAmount),
			Every:       time.Duration(m.EveryMin) * time.Minute,
		})
	}
	return out
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

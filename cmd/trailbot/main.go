// Package main is the entry point for the trailing-stop position bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/shopspring/decimal"

	"trailbot/internal/alerting"
	"trailbot/internal/config"
	"trailbot/internal/exchange"
	"trailbot/internal/exchange/binance"
	"trailbot/internal/exchange/paper"
	"trailbot/internal/metrics"
	"trailbot/internal/opener"
	"trailbot/internal/reconcile"
	"trailbot/internal/report"
	"trailbot/internal/store"
	"trailbot/internal/store/sqlite"
	"trailbot/internal/trail"
	"trailbot/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "open":
		cmdOpen(os.Args[2:])
	case "rollback":
		cmdRollback(os.Args[2:])
	case "report":
		cmdReport(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trailbot - Trailing-Stoploss Position Bot

Usage:
  trailbot <command> [options]

Commands:
  run        Start the trading loops (trailing stop, reconciliation, opener)
  open       Open a position in one market now
  rollback   Cancel the in-flight order of a position and roll it back
  report     Show per-market performance and active positions
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  trailbot run --config config.yaml
  trailbot open --config config.yaml --market BTCUSDT --amount 50
  trailbot rollback --config config.yaml --id 4f7c...
  trailbot report --config config.yaml --market BTCUSDT

Use "trailbot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trailbot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Exchange: %s\n", cfg.Exchange.Type)
	fmt.Printf("  Database: %s\n", cfg.Persistence.Path)
	fmt.Printf("  Stop loss: %.2f%%\n", cfg.Trailing.StopLossPct)
	if cfg.Trailing.StopProfitPct > 0 {
		fmt.Printf("  Stop profit: %.2f%%\n", cfg.Trailing.StopProfitPct)
	}
	fmt.Printf("  Scheduled markets: %d\n", len(cfg.Opener.Markets))
	if cfg.Trailing.DryRun {
		fmt.Println("  Dry run: enabled (no closing orders will be placed)")
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	st, err := sqlite.New(cfg.Persistence.Path)
	if err != nil {
		slog.Error("failed to open position store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	adapter := buildAdapter(cfg, logger)
	alerter := buildAlerter(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("trailbot starting",
		"version", Version,
		"venue", adapter.Name(),
		"db", cfg.Persistence.Path,
		"dry_run", cfg.Trailing.DryRun,
	)

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srvCfg := metrics.DefaultServerConfig()
		srvCfg.Port = cfg.Metrics.Port
		srv = metrics.NewServer(srvCfg, logger)
		srv.RegisterHealthCheck("exchange", func() metrics.Check {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adapter.Ping(pingCtx); err != nil {
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			return metrics.Check{Status: "healthy"}
		})
		srv.RegisterHealthCheck("store", func() metrics.Check {
			checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := st.Find(checkCtx, store.Filter{Statuses: []types.Status{types.StatusOpen}}); err != nil {
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			return metrics.Check{Status: "healthy"}
		})
		if err := srv.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	trailEngine := trail.NewEngine(cfg.ToTrailConfig(), st, adapter, alerter, logger)
	reconcileEngine := reconcile.NewEngine(cfg.ToReconcileConfig(), st, adapter, alerter, logger)
	openerService := opener.New(cfg.ToOpenerConfig(), st, adapter, alerter, logger)

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"trail":     trailEngine.Run,
		"reconcile": reconcileEngine.Run,
		"opener":    openerService.Run,
	} {
		name, run := name, run
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("loop exited", "loop", name, "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout, loops still running")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", "err", err)
		}
	}

	slog.Info("trailbot shutdown complete")
}

func cmdOpen(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	market := fs.String("market", "", "Market to open (required)")
	amount := fs.Float64("amount", 0, "Quote-currency amount to spend (required)")
	fs.Parse(args)

	if *market == "" || *amount <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --market and a positive --amount are required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, logger, st, adapter := oneShotSetup(*configPath)
	defer st.Close()

	svc := opener.New(cfg.ToOpenerConfig(), st, adapter, buildAlerter(cfg, logger), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := svc.Open(ctx, *market, decimal.NewFromFloat(*amount))
	if err != nil {
		slog.Error("failed to open position", "market", *market, "err", err)
		os.Exit(1)
	}

	fmt.Printf("Opening order submitted\n")
	fmt.Printf("  Position: %s\n", p.ID)
	fmt.Printf("  Market:   %s\n", p.Market)
	fmt.Printf("  Volume:   %s @ %s\n", p.Volume, p.OpenRate)
	fmt.Printf("  Order:    %s\n", p.OpenOrderID)
}

func cmdRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	id := fs.String("id", "", "Position id (required)")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, logger, st, adapter := oneShotSetup(*configPath)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := st.FindOne(ctx, *id)
	if err != nil {
		slog.Error("position lookup failed", "id", *id, "err", err)
		os.Exit(1)
	}

	orderID, ok := p.ActiveOrderID()
	if !ok {
		fmt.Fprintf(os.Stderr, "Position %s is %s: nothing in flight to roll back\n", p.ID, p.Status)
		os.Exit(1)
	}

	fmt.Printf("Position %s\n", p.ID)
	fmt.Printf("  Market: %s\n", p.Market)
	fmt.Printf("  Status: %s\n", p.Status)
	fmt.Printf("  Order:  %s (%s remaining of %s)\n", orderID, p.RemainingVolume, p.Volume)

	if !*yes {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Cancel order %s and roll back", orderID),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			fmt.Println("Aborted.")
			os.Exit(1)
		}
	}

	if _, err := adapter.CancelOrder(ctx, orderID, p.Market); err != nil {
		slog.Error("cancel failed", "order_id", orderID, "err", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	switch p.Status {
	case types.StatusOpening:
		// Nothing was bought; the record has no history worth keeping.
		if err := st.Delete(ctx, p.ID); err != nil {
			slog.Error("delete failed", "id", p.ID, "err", err)
			os.Exit(1)
		}
		fmt.Printf("Opening order cancelled, position %s removed.\n", p.ID)
	case types.StatusClosing:
		reason := fmt.Sprintf("%s => CANCELLED on %s", p.ClosureReason, now.Format(time.RFC3339))
		err := st.UpdateFields(ctx, p.ID, store.Fields{
			store.FieldStatus:        types.StatusOpen,
			store.FieldCloseOrderID:  "",
			store.FieldCloseRate:     (*decimal.Decimal)(nil),
			store.FieldClosedAt:      (*time.Time)(nil),
			store.FieldClosureReason: reason,
			store.FieldLastUpdateAt:  now,
		})
		if err != nil {
			slog.Error("rollback update failed", "id", p.ID, "err", err)
			os.Exit(1)
		}
		fmt.Printf("Closing order cancelled, position %s back to open.\n", p.ID)
	}

	alerter := buildAlerter(cfg, logger)
	if err := alerter.Alert(ctx, alerting.SeverityWarning, "Position rolled back",
		"position_id", p.ID,
		"market", p.Market,
		"was", string(p.Status),
		"order_id", orderID,
	); err != nil {
		logger.Warn("failed to send rollback alert", "err", err)
	}
}

func cmdReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	market := fs.String("market", "", "Limit to one market (optional)")
	fs.Parse(args)

	_, _, st, _ := oneShotSetup(*configPath)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := report.NewReporter(st).Build(ctx, *market)
	if err != nil {
		slog.Error("report failed", "err", err)
		os.Exit(1)
	}

	fmt.Print(rep.Render())
}

// oneShotSetup builds the shared dependencies of the one-shot commands:
// text logging, config, store and adapter.
func oneShotSetup(configPath string) (*config.Config, *slog.Logger, *sqlite.Store, exchange.Adapter) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	st, err := sqlite.New(cfg.Persistence.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store error: %v\n", err)
		os.Exit(1)
	}

	return cfg, logger, st, buildAdapter(cfg, logger)
}

func buildAdapter(cfg *config.Config, logger *slog.Logger) exchange.Adapter {
	switch cfg.Exchange.Type {
	case "binance":
		return binance.New(cfg.Exchange.Binance, metrics.NewRecorder(), logger)
	default:
		return paper.New(logger)
	}
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return alerting.NewConsoleAlerter(logger)
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		}
	}
	if len(alerters) == 0 {
		return alerting.NewConsoleAlerter(logger)
	}
	if len(alerters) == 1 {
		return alerters[0]
	}
	return alerting.NewMultiAlerter(logger, alerters...)
}

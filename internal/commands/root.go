package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"quotesync/config"
	"quotesync/internal/logger"
	"quotesync/internal/metrics"
)

var (
	cfgPath  string
	dbPath   string
	reqLimit int
	logLevel string

	cfg    *config.Config
	prom   *metrics.Metrics
	health *metrics.HealthStatus
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotesync",
	Short: "Daily quote cache, indicators and trend screening",
	Long: `quotesync keeps a local SQLite cache of daily bars in step with a broker
session, derives indicator series from it and screens for trend pullbacks.

Tickers are read one per line from stdin:

  cat tickers.txt | quotesync full
  cat tickers.txt | quotesync incremental --force
  quotesync calculate-metrics --workers 8
  quotesync trend-candidates --loose`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().IntVar(&reqLimit, "req-limit", 0, "max outstanding historical requests (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

// setup loads configuration, applies flag overrides and initialises logging
// and metrics for every subcommand.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.DB.Path = dbPath
	}
	if reqLimit > 0 {
		c.Sync.ConcurrencyLimit = reqLimit
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}

	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logger.Init("quotesync", level, c.LogFormat)

	cfg = c
	prom = metrics.NewMetrics()
	health = metrics.NewHealthStatus()
	slog.Debug("config loaded", "command", cmd.Name(), "db", cfg.DB.Path, "market", cfg.Market, "session", cfg.Session.Kind)
	return nil
}

// startMetrics serves /metrics and /healthz when an address is configured.
// The returned func stops the server.
func startMetrics() func() {
	if cfg.Metrics.Addr == "" {
		return func() {}
	}
	srv := metrics.NewServer(cfg.Metrics.Addr, prom, health)
	srv.Start()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
}

// runContext tags ctx with a fresh run id for command.
func runContext(ctx context.Context, command string) context.Context {
	return logger.WithRunID(ctx, logger.GenerateRunID(command, time.Now()))
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

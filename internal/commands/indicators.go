package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"quotesync/internal/indicator"
	"quotesync/internal/model"
	"quotesync/internal/recompute"
	redisstore "quotesync/internal/store/redis"
	"quotesync/internal/store/sqlite"
)

var recomputeWorkers int

var calculateMetricsCmd = &cobra.Command{
	Use:   "calculate-metrics",
	Short: "Recompute indicator series from cached quotes",
	Long: `Recompute every configured indicator series (EMA ribbon, SMAs, RSI, ADX,
ADXR, stochastic) from the cached quotes and replace the stored values.

Tickers are read from stdin; with no input every cached ticker is processed.
When Redis is enabled the newest value of each series is published too.`,
	Args: cobra.NoArgs,
	RunE: runCalculateMetrics,
}

func init() {
	calculateMetricsCmd.Flags().IntVar(&recomputeWorkers, "workers", 0, "parallel workers (overrides config)")
	rootCmd.AddCommand(calculateMetricsCmd)
}

func runCalculateMetrics(cmd *cobra.Command, _ []string) error {
	st, err := sqlite.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	tickers, err := tickersOrAll(cmd, st)
	if err != nil {
		return err
	}

	stop := startMetrics()
	defer stop()

	ctx := runContext(cmd.Context(), "calculate-metrics")
	var pub model.LatestPublisher
	if bw := openPublisher(ctx); bw != nil {
		defer bw.Close()
		pub = bw
	}

	res, err := recomputeTickers(ctx, st, tickers, pub)
	if err != nil {
		return err
	}
	printf(cmd, "tickers=%d failed=%d values=%d\n", res.Tickers, res.Failed, res.Values)
	return nil
}

// recomputeTickers rebuilds indicator series for tickers. pub may be nil.
func recomputeTickers(ctx context.Context, st *sqlite.Store, tickers []string, pub model.LatestPublisher) (recompute.Result, error) {
	workers := cfg.Recompute.Workers
	if recomputeWorkers > 0 {
		workers = recomputeWorkers
	}

	engine := indicator.NewEngine(cfg.IndicatorConfig())
	if err := st.EnsureSeries(ctx, engine.SeriesNames()...); err != nil {
		return recompute.Result{}, err
	}

	runner := recompute.New(engine, recompute.SQLiteReaders(st.Path()), st, pub, prom, workers)
	return runner.Run(ctx, tickers)
}

// openPublisher connects to Redis behind a circuit breaker, or returns nil
// when Redis is disabled. A Redis that cannot be reached at startup is
// logged and skipped; the SQLite results are authoritative.
func openPublisher(ctx context.Context) *redisstore.BufferedWriter {
	if !cfg.Redis.Enabled {
		return nil
	}
	w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Warn("redis unavailable, publishing disabled", "addr", cfg.Redis.Addr, "error", err)
		return nil
	}
	health.CheckRedis(ctx, w.Client())

	return redisstore.NewBufferedWriter(ctx, w, redisstore.NewBreaker(5, 30*time.Second, prom), 0)
}

// requireRedis connects directly, for commands that only read Redis.
func requireRedis() (*redisstore.Writer, error) {
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled (set redis.enabled or REDIS_ADDR)")
	}
	return redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

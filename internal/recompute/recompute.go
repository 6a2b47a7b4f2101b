// Package recompute rebuilds indicator series for many tickers in parallel.
// Tickers are partitioned across workers; each worker reads and computes on
// its own connection and only shares the writer for the commit.
package recompute

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"quotesync/internal/indicator"
	"quotesync/internal/logger"
	"quotesync/internal/metrics"
	"quotesync/internal/model"
	"quotesync/internal/store/sqlite"
)

// QuoteSource is a worker's private read handle.
type QuoteSource interface {
	AllQuotes(ctx context.Context, ticker string) ([]model.StoredQuote, error)
	Close() error
}

// OpenFunc opens a fresh QuoteSource for one worker.
type OpenFunc func() (QuoteSource, error)

// SQLiteReaders opens a new read connection on the database at path per worker.
func SQLiteReaders(path string) OpenFunc {
	return func() (QuoteSource, error) {
		r, err := sqlite.NewReader(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Result summarises a recompute run.
type Result struct {
	Tickers int
	Failed  int
	Values  int // indicator values written
}

// Runner recomputes and commits indicator series.
type Runner struct {
	engine  *indicator.Engine
	open    OpenFunc
	writer  model.IndicatorWriter
	pub     model.LatestPublisher // optional
	prom    *metrics.Metrics      // optional
	workers int
}

// New creates a Runner. pub and prom may be nil.
func New(engine *indicator.Engine, open OpenFunc, writer model.IndicatorWriter, pub model.LatestPublisher, prom *metrics.Metrics, workers int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{engine: engine, open: open, writer: writer, pub: pub, prom: prom, workers: workers}
}

// Partition deals tickers round-robin into at most n non-empty buckets.
func Partition(tickers []string, n int) [][]string {
	if n > len(tickers) {
		n = len(tickers)
	}
	if n <= 0 {
		return nil
	}
	out := make([][]string, n)
	for i, t := range tickers {
		out[i%n] = append(out[i%n], t)
	}
	return out
}

// Run recomputes every ticker. Per-ticker failures are logged and counted;
// only a worker that cannot open its reader, or cancellation, fails the run.
func (r *Runner) Run(ctx context.Context, tickers []string) (Result, error) {
	var failed, values atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i, bucket := range Partition(tickers, r.workers) {
		g.Go(func() error {
			src, err := r.open()
			if err != nil {
				return fmt.Errorf("worker %d: open reader: %w", i, err)
			}
			defer src.Close()

			for _, ticker := range bucket {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := r.one(gctx, src, ticker)
				if err != nil {
					failed.Add(1)
					if r.prom != nil {
						r.prom.TickersFailed.Inc()
					}
					slog.Error("recompute failed", append(logger.LogWithRun(ctx), "ticker", ticker, "worker", i, "error", err)...)
					continue
				}
				values.Add(int64(n))
			}
			return nil
		})
	}
	err := g.Wait()

	res := Result{Tickers: len(tickers), Failed: int(failed.Load()), Values: int(values.Load())}
	slog.Info("recompute finished", append(logger.LogWithRun(ctx),
		"tickers", res.Tickers, "failed", res.Failed, "values", res.Values,
		"workers", r.workers, "elapsed", time.Since(start).Round(time.Millisecond))...)
	return res, err
}

func (r *Runner) one(ctx context.Context, src QuoteSource, ticker string) (int, error) {
	quotes, err := src.AllQuotes(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		slog.Warn("no quotes cached", "ticker", ticker)
		return 0, nil
	}

	t0 := time.Now()
	computed := r.engine.Compute(quotes)
	if r.prom != nil {
		r.prom.IndicatorComputeDur.Observe(time.Since(t0).Seconds())
	}

	t0 = time.Now()
	if err := r.writer.CommitSeries(ctx, computed); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range computed {
		n += len(s)
	}
	if r.prom != nil {
		r.prom.SQLiteCommitDur.Observe(time.Since(t0).Seconds())
		r.prom.IndicatorsTotal.Add(float64(n))
	}

	if r.pub != nil {
		if err := r.pub.PublishLatest(ctx, indicator.Latest(ticker, quotes, computed)); err != nil {
			slog.Warn("publishing latest values", "ticker", ticker, "error", err)
		}
	}
	slog.Debug("recomputed", "ticker", ticker, "quotes", len(quotes), "values", n)
	return n, nil
}

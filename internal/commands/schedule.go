package commands

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"quotesync/internal/model"
	"quotesync/internal/screener"
	"quotesync/internal/store/sqlite"
)

var (
	scheduleRunNow bool
	scheduleScreen bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run incremental sync and recompute on a cron schedule",
	Long: `Stay in the foreground and, at each tick of schedule.cron (six fields,
seconds first, in the market's time zone), run an incremental sync of every
cached ticker followed by calculate-metrics. Non-trading days are skipped.

Tickers on stdin are seeded with a full sync before the first tick.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "run-now", false, "run one cycle immediately")
	scheduleCmd.Flags().BoolVar(&scheduleScreen, "screen", true, "screen for trend candidates after each cycle")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := sqlite.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	seed, err := inputTickers(cmd)
	if err != nil {
		return err
	}

	stop := startMetrics()
	defer stop()
	health.CheckSQLite(ctx, st.Writer.DB())
	health.StartLivenessChecker(ctx, nil, st.Writer.DB(), 30*time.Second)

	if len(seed) > 0 {
		rctx := runContext(ctx, "seed")
		_, err := syncTickers(rctx, st, seed, model.Full, false)
		health.RecordRun(time.Now(), err)
		if err != nil {
			return fmt.Errorf("seed sync: %w", err)
		}
	}

	market := cfg.MarketSession()
	c, job, err := newCron(cfg.Schedule.Cron, market.Location, func() { runCycle(ctx, st) })
	if err != nil {
		return err
	}

	c.Start()
	log.Printf("[schedule] started: %q in %s (%s)", cfg.Schedule.Cron, market.Location, market.StatusString(time.Now()))
	if scheduleRunNow {
		go job.Run()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	log.Printf("[schedule] stopped")
	return nil
}

// newCron registers fn on spec. The returned job is the same wrapped instance
// cron runs, so an extra run through it is skipped while a tick is in flight
// and vice versa.
func newCron(spec string, loc *time.Location, fn func()) (*cron.Cron, cron.Job, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(cron.FuncJob(fn))
	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	if _, err := c.AddJob(spec, job); err != nil {
		return nil, nil, fmt.Errorf("register schedule %q: %w", spec, err)
	}
	return c, job, nil
}

// runCycle is one scheduled pass: incremental sync of every cached ticker,
// indicator recompute, then an optional screen.
func runCycle(parent context.Context, st *sqlite.Store) {
	market := cfg.MarketSession()
	now := time.Now()
	if year := now.In(market.Location).Year(); !market.HasHolidays(year) {
		slog.Warn("no holiday calendar for year, treating every weekday as a trading day",
			"market", market.Name, "year", year)
	}
	if !market.IsTradingDay(now) {
		slog.Info("not a trading day, skipping", "date", now.In(market.Location).Format("2006-01-02"))
		return
	}

	ctx := runContext(parent, "scheduled")
	tickers, err := st.Tickers(ctx)
	if err != nil {
		slog.Error("listing tickers", "error", err)
		health.RecordRun(time.Now(), err)
		return
	}
	if len(tickers) == 0 {
		slog.Warn("no cached tickers; seed with `quotesync full`")
		return
	}

	_, err = syncTickers(ctx, st, tickers, model.Incremental, false)
	health.RecordRun(time.Now(), err)
	if err != nil {
		slog.Error("scheduled sync failed", "error", err)
		return
	}

	var pub model.LatestPublisher
	if bw := openPublisher(ctx); bw != nil {
		defer bw.Close()
		pub = bw
	}
	if _, err := recomputeTickers(ctx, st, tickers, pub); err != nil {
		slog.Error("scheduled recompute failed", "error", err)
		return
	}

	if !scheduleScreen {
		return
	}
	cands, err := screener.New(st, screener.DefaultParams(), prom).Run(ctx, tickers)
	if err != nil {
		slog.Error("scheduled screen failed", "error", err)
		return
	}
	if pub != nil {
		if err := pub.PublishCandidates(ctx, cands); err != nil {
			slog.Warn("publishing candidates", "error", err)
		}
	}
	notify(ctx, cands)
}

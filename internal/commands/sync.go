package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"quotesync/internal/ingest"
	"quotesync/internal/model"
	"quotesync/internal/session"
	"quotesync/internal/session/gateway"
	"quotesync/internal/session/smartapi"
	"quotesync/internal/store/sqlite"
)

var forceIncremental bool

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Fetch the full history window for every ticker on stdin",
	Long: `Fetch the configured history window (sync.full_span, default "2 Y") for
every ticker read from stdin and commit it unconditionally.

Example:
  printf 'AAPL\nMSFT\n' | quotesync full`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSyncCommand(cmd, model.Full, false)
	},
}

var incrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Fetch bars newer than the cache for every ticker on stdin",
	Long: `Fetch only the bars missing since each ticker's last cached quote. A
ticker whose boundary close was revised upstream is re-fetched in full.
Tickers with no cached quotes are fetched in full.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSyncCommand(cmd, model.Incremental, forceIncremental)
	},
}

func init() {
	incrementalCmd.Flags().BoolVar(&forceIncremental, "force", false, "request tickers that are already up to date")

	rootCmd.AddCommand(fullCmd)
	rootCmd.AddCommand(incrementalCmd)
}

func runSyncCommand(cmd *cobra.Command, mode model.SyncMode, force bool) error {
	tickers, err := inputTickers(cmd)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers on stdin")
	}

	st, err := sqlite.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	stop := startMetrics()
	defer stop()

	ctx := runContext(cmd.Context(), mode.String())
	stats, err := syncTickers(ctx, st, tickers, mode, force)
	health.RecordRun(time.Now(), err)
	if err != nil {
		return err
	}

	printf(cmd, "dispatched=%d completed=%d failed=%d skipped=%d committed=%d resynced=%d discarded=%d\n",
		stats.Dispatched, stats.Completed, stats.Failed, stats.Skipped,
		stats.Committed, stats.Resynced, stats.Discarded)
	return nil
}

// syncTickers opens a session, runs one scheduler over tickers and closes the
// session again.
func syncTickers(ctx context.Context, st model.QuoteStore, tickers []string, mode model.SyncMode, force bool) (ingest.Stats, error) {
	sess, err := openSession(ctx)
	if err != nil {
		return ingest.Stats{}, err
	}
	health.SetSessionConnected(true)
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Warn("session close", "error", err)
		}
		health.SetSessionConnected(false)
	}()

	sched := ingest.New(ingest.Config{
		ConcurrencyLimit:        cfg.Sync.ConcurrencyLimit,
		ConcurrencyBuffer:       cfg.Sync.ConcurrencyBuffer,
		PollInterval:            cfg.Sync.PollInterval,
		FullSpanDays:            cfg.FullSpanDays(),
		Force:                   force,
		ResyncOnMissingBoundary: cfg.Sync.ResyncOnMissingBoundary,
		Market:                  cfg.MarketSession(),
	}, sess, st, prom)

	for _, t := range tickers {
		sched.Enqueue(t, mode)
	}

	err = sched.Run(ctx)
	return sched.Stats(), err
}

func openSession(ctx context.Context) (session.Session, error) {
	market := cfg.MarketSession()
	sc := cfg.Session
	switch sc.Kind {
	case "smartapi":
		return smartapi.Dial(ctx, smartapi.Config{
			APIKey:          sc.APIKey,
			ClientCode:      sc.ClientCode,
			Password:        sc.Password,
			TOTPSecret:      sc.TOTPSecret,
			RootURL:         sc.RootURL,
			DefaultExchange: sc.DefaultExchange,
			Workers:         sc.Workers,
			Market:          market,
		})
	default:
		return gateway.Dial(ctx, gateway.Config{
			URL:    sc.GatewayURL,
			Token:  sc.GatewayToken,
			Market: market,
		})
	}
}

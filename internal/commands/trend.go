package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"quotesync/internal/model"
	"quotesync/internal/notification"
	"quotesync/internal/screener"
	"quotesync/internal/store/sqlite"
)

var trendParams = screener.DefaultParams()

var trendCandidatesCmd = &cobra.Command{
	Use:   "trend-candidates",
	Short: "List tickers pulling back inside an established EMA trend",
	Long: `Screen tickers whose EMA ribbon (8/21/34/89) has been stacked in one
direction for --ema-period rows while the slow stochastic has pulled back
by --stoch-threshold from 50 and ADX shows a trend.

Reads the stored EMA series, so run calculate-metrics first. Tickers are
read from stdin; with no input every cached ticker is screened.`,
	Args: cobra.NoArgs,
	RunE: runTrendCandidates,
}

func init() {
	f := trendCandidatesCmd.Flags()
	f.BoolVar(&trendParams.Loose, "loose", trendParams.Loose, "compare EMA8 against EMA34 only")
	f.IntVar(&trendParams.EMAPeriod, "ema-period", trendParams.EMAPeriod, "rows the EMA ordering must hold for")
	f.IntVar(&trendParams.StochKLen, "stoch-k-len", trendParams.StochKLen, "stochastic %K lookback")
	f.IntVar(&trendParams.StochKSmoothing, "stoch-k-smoothing", trendParams.StochKSmoothing, "%K smoothing")
	f.IntVar(&trendParams.StochDSmoothing, "stoch-d-smoothing", trendParams.StochDSmoothing, "%D smoothing")
	f.Float64Var(&trendParams.StochThreshold, "stoch-threshold", trendParams.StochThreshold, "distance from 50 that counts as a pullback")
	f.IntVar(&trendParams.ADXPeriod, "adx-period", trendParams.ADXPeriod, "ADX period")
	f.BoolVar(&trendParams.Force, "force", trendParams.Force, "also report tickers that fail the filters")

	rootCmd.AddCommand(trendCandidatesCmd)
}

func runTrendCandidates(cmd *cobra.Command, _ []string) error {
	st, err := sqlite.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	tickers, err := tickersOrAll(cmd, st)
	if err != nil {
		return err
	}

	ctx := runContext(cmd.Context(), "trend-candidates")
	cands, err := screener.New(st, trendParams, prom).Run(ctx, tickers)
	if err != nil {
		return err
	}

	for _, c := range cands {
		printf(cmd, "%s\n", screener.Format(c))
	}

	if bw := openPublisher(ctx); bw != nil {
		if err := bw.PublishCandidates(ctx, cands); err != nil {
			slog.Warn("publishing candidates", "error", err)
		}
		bw.Close()
	}
	notify(ctx, cands)
	return nil
}

// notifiers builds the configured alert sinks.
func notifiers() notification.Multi {
	var m notification.Multi
	if cfg.Notify.Log {
		m = append(m, notification.NewLogNotifier())
	}
	if cfg.Notify.WebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" {
		m = append(m, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	return m
}

func notify(ctx context.Context, cands []model.Candidate) {
	n := notifiers()
	if len(n) == 0 {
		return
	}
	if err := n.Send(ctx, notification.CandidateAlert(cands)); err != nil {
		slog.Warn("candidate alert not delivered", "error", err)
	}
}

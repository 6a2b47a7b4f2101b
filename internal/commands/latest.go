package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quotesync/internal/screener"
	redisstore "quotesync/internal/store/redis"
)

var latestCmd = &cobra.Command{
	Use:   "latest [TICKER]",
	Short: "Show the latest indicator values or candidates cached in Redis",
	Long: `With TICKER, print the newest value of each indicator series published
by calculate-metrics. Without it, print the last published trend candidates.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := requireRedis()
		if err != nil {
			return err
		}
		defer w.Close()
		r := redisstore.NewReader(w)

		if len(args) == 0 {
			cands, err := r.Candidates(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cands {
				printf(cmd, "%s\n", screener.Format(c))
			}
			return nil
		}

		ticker := strings.ToUpper(args[0])
		results, err := r.Latest(cmd.Context(), ticker)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			printf(cmd, "%s: nothing published\n", ticker)
			return nil
		}
		for _, res := range results {
			printf(cmd, "%-12s %12.4f  %s\n", res.Name, res.Value, res.TS.UTC().Format(time.DateOnly))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(latestCmd)
}

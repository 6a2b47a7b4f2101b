package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"quotesync/internal/store/sqlite"
)

var setExchangeCmd = &cobra.Command{
	Use:   "set-exchange TICKER EXCHANGE",
	Short: "Record the primary exchange used to disambiguate a ticker",
	Long: `Record the primary exchange sent with every historical request for TICKER,
e.g. "quotesync set-exchange CSCO NASDAQ". An empty EXCHANGE ("") clears it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := sqlite.Open(cfg.DB.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		ticker := strings.ToUpper(strings.TrimSpace(args[0]))
		exchange := strings.ToUpper(strings.TrimSpace(args[1]))
		if err := st.SetExchangeHint(cmd.Context(), ticker, exchange); err != nil {
			return err
		}
		printf(cmd, "%s -> %q\n", ticker, exchange)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setExchangeCmd)
}

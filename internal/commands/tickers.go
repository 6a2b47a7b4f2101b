package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// readTickers parses one ticker per line. Blank lines and lines starting with
// '#' are skipped; tickers are upper-cased and de-duplicated in input order.
func readTickers(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t := strings.ToUpper(strings.Fields(line)[0])
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tickers: %w", err)
	}
	return out, nil
}

// inputTickers reads tickers from the command's stdin. An interactive
// terminal counts as no input.
func inputTickers(cmd *cobra.Command) ([]string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return nil, nil
		}
	}
	return readTickers(in)
}

type tickerLister interface {
	Tickers(ctx context.Context) ([]string, error)
}

// tickersOrAll returns the stdin tickers, or every cached ticker when stdin
// is empty.
func tickersOrAll(cmd *cobra.Command, src tickerLister) ([]string, error) {
	tickers, err := inputTickers(cmd)
	if err != nil {
		return nil, err
	}
	if len(tickers) > 0 {
		return tickers, nil
	}
	return src.Tickers(cmd.Context())
}

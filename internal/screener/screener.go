// Package screener classifies tickers by the ordering of their EMA ribbon and
// reports those whose slow stochastic and trend strength line up with it.
package screener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quotesync/internal/indicator"
	"quotesync/internal/metrics"
	"quotesync/internal/model"
	"quotesync/internal/store"
)

// ADXFloor is the minimum trend strength for a candidate.
const ADXFloor = 20.0

// Ribbon is the EMA windows compared, fast to slow.
var Ribbon = []int{8, 21, 34, 89}

// Params are the screening knobs exposed on the command line.
type Params struct {
	Loose           bool    // compare EMA8 with EMA34 only
	EMAPeriod       int     // rows the ordering must hold for
	StochKLen       int
	StochKSmoothing int
	StochDSmoothing int
	StochThreshold  float64 // distance from 50 for oversold/overbought
	ADXPeriod       int
	Force           bool // report every ticker with enough data
}

// DefaultParams mirrors the command-line defaults.
func DefaultParams() Params {
	return Params{
		EMAPeriod:       42,
		StochKLen:       8,
		StochKSmoothing: 3,
		StochDSmoothing: 3,
		StochThreshold:  10,
		ADXPeriod:       13,
	}
}

// Source is the stored data the screener reads.
type Source interface {
	AllQuotes(ctx context.Context, ticker string) ([]model.StoredQuote, error)
	model.IndicatorReader
}

// Classify returns Bull if every row's ribbon is stacked ascending from slow
// to fast, Bear if stacked descending, NoTrend otherwise. Each row holds the
// Ribbon values fast to slow. Loose compares only EMA8 with EMA34.
func Classify(rows [][]float64, loose bool) model.Trend {
	if len(rows) == 0 {
		return model.NoTrend
	}
	bull, bear := true, true
	for _, r := range rows {
		if loose {
			bull = bull && r[0] > r[2]
			bear = bear && r[0] < r[2]
		} else {
			bull = bull && r[0] > r[1] && r[1] > r[2] && r[2] > r[3]
			bear = bear && r[0] < r[1] && r[1] < r[2] && r[2] < r[3]
		}
		if !bull && !bear {
			return model.NoTrend
		}
	}
	switch {
	case bull:
		return model.Bull
	case bear:
		return model.Bear
	}
	return model.NoTrend
}

// Passes applies the stochastic and strength filter to a classified ticker.
func Passes(trend model.Trend, slowStoch, adx, threshold float64) bool {
	if adx <= ADXFloor {
		return false
	}
	switch trend {
	case model.Bull:
		return slowStoch <= 50-threshold
	case model.Bear:
		return slowStoch >= 50+threshold
	}
	return false
}

// Screener evaluates tickers against stored history.
type Screener struct {
	src    Source
	params Params
	prom   *metrics.Metrics
}

// New creates a Screener. prom may be nil.
func New(src Source, params Params, prom *metrics.Metrics) *Screener {
	return &Screener{src: src, params: params, prom: prom}
}

// Evaluate screens one ticker. ok is false when the ticker has too little
// history or, unless Force is set, does not pass.
func (s *Screener) Evaluate(ctx context.Context, ticker string) (c model.Candidate, ok bool, err error) {
	p := s.params
	names := make([]string, len(Ribbon))
	for i, w := range Ribbon {
		names[i] = indicator.EMAName(w)
	}

	hist, err := s.src.IndicatorHistory(ctx, ticker, names, p.EMAPeriod)
	if errors.Is(err, store.ErrNoQuotes) {
		slog.Debug("no indicator history", "ticker", ticker)
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	if len(hist) < p.EMAPeriod {
		slog.Debug("insufficient indicator history", "ticker", ticker, "rows", len(hist))
		return c, false, nil
	}

	quotes, err := s.src.AllQuotes(ctx, ticker)
	if err != nil {
		return c, false, err
	}
	slow, haveStoch := indicator.SlowStochastics(p.StochKLen, p.StochKSmoothing, p.StochDSmoothing, quotes).Slow()
	adx, haveADX := model.Last(indicator.ADX(quotes, p.ADXPeriod, p.ADXPeriod))
	if !haveStoch || !haveADX {
		slog.Debug("insufficient quotes for oscillators", "ticker", ticker, "quotes", len(quotes))
		return c, false, nil
	}

	rows := make([][]float64, len(hist))
	for i := range hist {
		rows[i] = hist[i].Values
	}
	trend := Classify(rows, p.Loose)
	passed := Passes(trend, slow, adx.Value, p.StochThreshold)
	if !passed && !p.Force {
		return c, false, nil
	}

	last := quotes[len(quotes)-1]
	return model.Candidate{
		Ticker:    ticker,
		Trend:     trend,
		SlowStoch: slow,
		ADX:       adx.Value,
		EMAs:      hist[len(hist)-1].Values,
		Close:     last.Close,
		TS:        last.Timestamp,
		Passed:    passed,
	}, true, nil
}

// Run screens tickers in order. Per-ticker failures are logged and skipped.
func (s *Screener) Run(ctx context.Context, tickers []string) ([]model.Candidate, error) {
	var out []model.Candidate
	counts := map[model.Trend]int{}
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		c, ok, err := s.Evaluate(ctx, t)
		if err != nil {
			slog.Error("screening failed", "ticker", t, "error", err)
			if s.prom != nil {
				s.prom.TickersFailed.Inc()
			}
			continue
		}
		if ok {
			out = append(out, c)
			if c.Passed {
				counts[c.Trend]++
			}
		}
	}
	if s.prom != nil {
		s.prom.Candidates.WithLabelValues(model.Bull.String()).Set(float64(counts[model.Bull]))
		s.prom.Candidates.WithLabelValues(model.Bear.String()).Set(float64(counts[model.Bear]))
	}
	slog.Info("screening finished", "tickers", len(tickers),
		"bull", counts[model.Bull], "bear", counts[model.Bear], "reported", len(out))
	return out, nil
}

// Format renders a candidate as one output line.
func Format(c model.Candidate) string {
	line := fmt.Sprintf("%-8s %-5s stoch=%6.2f adx=%6.2f close=%10.2f emas=%.2f",
		c.Ticker, c.Trend, c.SlowStoch, c.ADX, c.Close, c.EMAs)
	if !c.Passed {
		line += " (filtered)"
	}
	return line
}

package screener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotesync/internal/metrics"
	"quotesync/internal/model"
	"quotesync/internal/store"
)

type fakeSource struct {
	quotes map[string][]model.StoredQuote
	rows   map[string][][]float64
	err    error
}

func (f *fakeSource) AllQuotes(_ context.Context, ticker string) ([]model.StoredQuote, error) {
	return f.quotes[ticker], nil
}

func (f *fakeSource) IndicatorHistory(_ context.Context, ticker string, series []string, limit int) ([]model.HistoryRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows[ticker]
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, store.ErrNoQuotes)
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]model.HistoryRow, len(rows))
	for i, r := range rows {
		out[i] = model.HistoryRow{Values: r}
	}
	return out, nil
}

// trendThenPullback is 60 bars moving by step followed by 5 bars moving back
// by twice that: a strong trend with a fresh counter-move.
func trendThenPullback(step float64) []model.StoredQuote {
	base := time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)
	var out []model.StoredQuote
	c := 500.0
	for i := 0; i < 65; i++ {
		if i > 0 {
			if i < 60 {
				c += step
			} else {
				c -= 2 * step
			}
		}
		out = append(out, model.StoredQuote{ID: int64(i + 1), Quote: model.Quote{
			Timestamp: base.AddDate(0, 0, i), Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
		}})
	}
	return out
}

func ribbon(n int, vals ...float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = vals
	}
	return rows
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		rows  [][]float64
		loose bool
		want  model.Trend
	}{
		{"strict bull", ribbon(3, 4, 3, 2, 1), false, model.Bull},
		{"strict bear", ribbon(3, 1, 2, 3, 4), false, model.Bear},
		{"tangled", ribbon(3, 4, 2, 3, 1), false, model.NoTrend},
		{"tangled but loose bull", ribbon(3, 4, 2, 3, 1), true, model.Bull},
		{"loose bear", ribbon(2, 1, 5, 3, 0), true, model.Bear},
		{"equal is not ordered", ribbon(1, 2, 2, 1, 0), false, model.NoTrend},
		{"empty", nil, false, model.NoTrend},
		{"one bad row breaks it", append(ribbon(3, 4, 3, 2, 1), []float64{4, 3, 1, 2}), false, model.NoTrend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.rows, tt.loose))
		})
	}
}

func TestPasses(t *testing.T) {
	assert.True(t, Passes(model.Bull, 40, 25, 10))
	assert.False(t, Passes(model.Bull, 40.1, 25, 10))
	assert.False(t, Passes(model.Bull, 10, 20, 10), "ADX must exceed the floor")
	assert.True(t, Passes(model.Bear, 60, 21, 10))
	assert.False(t, Passes(model.Bear, 59, 30, 10))
	assert.False(t, Passes(model.NoTrend, 0, 90, 10))
}

func TestEvaluate_BullPullback(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]model.StoredQuote{"UP": trendThenPullback(1)},
		rows:   map[string][][]float64{"UP": ribbon(42, 160, 155, 150, 120)},
	}
	s := New(src, DefaultParams(), nil)

	c, ok, err := s.Evaluate(context.Background(), "UP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Bull, c.Trend)
	assert.True(t, c.Passed)
	assert.Less(t, c.SlowStoch, 40.0)
	assert.Greater(t, c.ADX, ADXFloor)
	assert.Equal(t, []float64{160, 155, 150, 120}, c.EMAs)
	assert.Equal(t, 549.0, c.Close)
}

func TestEvaluate_BearRally(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]model.StoredQuote{"DOWN": trendThenPullback(-1)},
		rows:   map[string][][]float64{"DOWN": ribbon(42, 1, 2, 3, 4)},
	}
	c, ok, err := New(src, DefaultParams(), nil).Evaluate(context.Background(), "DOWN")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Bear, c.Trend)
	assert.Greater(t, c.SlowStoch, 60.0)
}

func TestEvaluate_SkipsShortHistory(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]model.StoredQuote{"UP": trendThenPullback(1)},
		rows:   map[string][][]float64{"UP": ribbon(10, 4, 3, 2, 1)},
	}
	p := DefaultParams()
	p.Force = true
	_, ok, err := New(src, p, nil).Evaluate(context.Background(), "UP")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = New(src, p, nil).Evaluate(context.Background(), "NONE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_ForceReportsFiltered(t *testing.T) {
	src := &fakeSource{
		// Bull ribbon but price still rising: stochastic is high.
		quotes: map[string][]model.StoredQuote{"UP": trendThenPullback(1)[:60]},
		rows:   map[string][][]float64{"UP": ribbon(42, 4, 3, 2, 1)},
	}
	_, ok, err := New(src, DefaultParams(), nil).Evaluate(context.Background(), "UP")
	require.NoError(t, err)
	assert.False(t, ok)

	p := DefaultParams()
	p.Force = true
	c, ok, err := New(src, p, nil).Evaluate(context.Background(), "UP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, c.Passed)
	assert.Contains(t, Format(c), "(filtered)")
}

func TestRun_LogsAndSkipsFailures(t *testing.T) {
	src := &fakeSource{err: errors.New("no such table: ema_89")}
	prom := metrics.NewMetrics()
	out, err := New(src, DefaultParams(), prom).Run(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRun_OrderAndFormat(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]model.StoredQuote{
			"UP":   trendThenPullback(1),
			"DOWN": trendThenPullback(-1),
			"FLAT": trendThenPullback(1),
		},
		rows: map[string][][]float64{
			"UP":   ribbon(42, 4, 3, 2, 1),
			"DOWN": ribbon(42, 1, 2, 3, 4),
			"FLAT": ribbon(42, 1, 3, 2, 4),
		},
	}
	out, err := New(src, DefaultParams(), metrics.NewMetrics()).Run(context.Background(), []string{"DOWN", "FLAT", "UP"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "DOWN", out[0].Ticker)
	assert.Equal(t, "UP", out[1].Ticker)
	assert.True(t, strings.HasPrefix(Format(out[1]), "UP       bull"))
}

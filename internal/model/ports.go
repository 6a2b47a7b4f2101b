package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple sync and screening logic from the concrete SQLite
// and Redis implementations. Each implementation satisfies one or more of them.

// QuoteReader reads cached daily quotes.
type QuoteReader interface {
	// LastQuote returns the most recent stored quote, or nil if none exist.
	LastQuote(ctx context.Context, ticker string) (*StoredQuote, error)

	// QuoteAt returns the stored quote at exactly ts, or nil if none exists.
	QuoteAt(ctx context.Context, ticker string, ts time.Time) (*StoredQuote, error)

	// AllQuotes returns every stored quote in ascending timestamp order.
	AllQuotes(ctx context.Context, ticker string) ([]StoredQuote, error)

	// ExchangeHint returns the primary exchange recorded for ticker, or "".
	ExchangeHint(ctx context.Context, ticker string) (string, error)
}

// QuoteWriter commits fetched quotes.
type QuoteWriter interface {
	// UpsertQuotes inserts or replaces quotes keyed by (ticker, timestamp)
	// in a single transaction.
	UpsertQuotes(ctx context.Context, ticker string, quotes []Quote) error
}

// QuoteStore is what the sync path needs from storage.
type QuoteStore interface {
	QuoteReader
	QuoteWriter
}

// IndicatorWriter commits derived indicator series.
type IndicatorWriter interface {
	// UpsertIndicatorValues replaces the values of one series keyed by quote id.
	UpsertIndicatorValues(ctx context.Context, series string, values []Point) error

	// CommitSeries writes several series for one ticker in a single transaction.
	CommitSeries(ctx context.Context, series map[string][]Point) error
}

// HistoryRow is one quote joined with the values of the requested series, in
// the order the series were requested.
type HistoryRow struct {
	Quote  StoredQuote
	Values []float64
}

// IndicatorReader reads derived series alongside their quotes.
type IndicatorReader interface {
	// IndicatorHistory returns the newest limit quotes of ticker that have a
	// value in every named series, oldest first.
	IndicatorHistory(ctx context.Context, ticker string, series []string, limit int) ([]HistoryRow, error)
}

// LatestPublisher pushes the newest indicator values and screening results to
// a fast shared cache for other consumers.
type LatestPublisher interface {
	PublishLatest(ctx context.Context, results []IndicatorResult) error
	PublishCandidates(ctx context.Context, candidates []Candidate) error
	Close() error
}

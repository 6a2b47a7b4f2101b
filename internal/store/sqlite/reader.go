package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"quotesync/internal/model"
	"quotesync/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the quote cache. Each recompute worker
// opens its own Reader so reads never queue behind the writer.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

const quoteColumns = `id, ts, open, high, low, close, avg, volume, count`

type scanner interface {
	Scan(dest ...any) error
}

func scanQuote(s scanner) (model.StoredQuote, error) {
	var q model.StoredQuote
	var tsUnix int64
	err := s.Scan(&q.ID, &tsUnix, &q.Open, &q.High, &q.Low, &q.Close, &q.Avg, &q.Volume, &q.Count)
	q.Timestamp = time.Unix(tsUnix, 0).UTC()
	return q, err
}

func (r *Reader) queryOne(ctx context.Context, query string, args ...any) (*model.StoredQuote, error) {
	q, err := scanQuote(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// LastQuote returns the most recent stored quote for ticker, or nil if none.
func (r *Reader) LastQuote(ctx context.Context, ticker string) (*model.StoredQuote, error) {
	q, err := r.queryOne(ctx, `
		SELECT `+quoteColumns+` FROM daily
		WHERE ticker = ?
		ORDER BY ts DESC
		LIMIT 1
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("sqlite last quote %s: %w", ticker, err)
	}
	return q, nil
}

// QuoteAt returns the stored quote at exactly ts, or nil if none exists.
func (r *Reader) QuoteAt(ctx context.Context, ticker string, ts time.Time) (*model.StoredQuote, error) {
	q, err := r.queryOne(ctx, `
		SELECT `+quoteColumns+` FROM daily
		WHERE ticker = ? AND ts = ?
	`, ticker, ts.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite quote at %s %s: %w", ticker, ts.Format(time.DateOnly), err)
	}
	return q, nil
}

// AllQuotes returns every stored quote for ticker in ascending timestamp order.
func (r *Reader) AllQuotes(ctx context.Context, ticker string) ([]model.StoredQuote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+quoteColumns+` FROM daily
		WHERE ticker = ?
		ORDER BY ts ASC
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("sqlite query daily: %w", err)
	}
	defer rows.Close()

	var quotes []model.StoredQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan daily: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// GetQuotesBatch returns the full history of each ticker. Tickers without
// quotes are absent from the result.
func (r *Reader) GetQuotesBatch(ctx context.Context, tickers []string) (map[string][]model.StoredQuote, error) {
	out := make(map[string][]model.StoredQuote, len(tickers))
	for _, t := range tickers {
		quotes, err := r.AllQuotes(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(quotes) > 0 {
			out[t] = quotes
		}
	}
	return out, nil
}

// ExchangeHint returns the primary exchange recorded for ticker, or "".
func (r *Reader) ExchangeHint(ctx context.Context, ticker string) (string, error) {
	var exchange string
	err := r.db.QueryRowContext(ctx, `SELECT exchange FROM ticker_exchange WHERE ticker = ?`, ticker).Scan(&exchange)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite exchange hint %s: %w", ticker, err)
	}
	return exchange, nil
}

// Tickers lists every ticker with at least one cached quote, sorted.
func (r *Reader) Tickers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM daily ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// IndicatorHistory returns the newest limit quotes of ticker that have a value
// in every named series, in ascending timestamp order. It returns
// store.ErrNoQuotes if no quote qualifies.
func (r *Reader) IndicatorHistory(ctx context.Context, ticker string, series []string, limit int) ([]model.HistoryRow, error) {
	var cols, joins strings.Builder
	for i, name := range series {
		if !seriesName.MatchString(name) {
			return nil, fmt.Errorf("sqlite: invalid series name %q", name)
		}
		fmt.Fprintf(&cols, ", s%d.value", i)
		fmt.Fprintf(&joins, " JOIN %s s%d ON s%d.daily_id = d.id", name, i, i)
	}

	query := `SELECT * FROM (
		SELECT d.id, d.ts, d.open, d.high, d.low, d.close, d.avg, d.volume, d.count` + cols.String() + `
		FROM daily d` + joins.String() + `
		WHERE d.ticker = ?
		ORDER BY d.ts DESC
		LIMIT ?
	) ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite indicator history %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []model.HistoryRow
	for rows.Next() {
		row := model.HistoryRow{Values: make([]float64, len(series))}
		var tsUnix int64
		dest := []any{&row.Quote.ID, &tsUnix, &row.Quote.Open, &row.Quote.High, &row.Quote.Low,
			&row.Quote.Close, &row.Quote.Avg, &row.Quote.Volume, &row.Quote.Count}
		for i := range row.Values {
			dest = append(dest, &row.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite scan indicator history: %w", err)
		}
		row.Quote.Timestamp = time.Unix(tsUnix, 0).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, store.ErrNoQuotes)
	}
	return out, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

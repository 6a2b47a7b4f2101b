package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"quotesync/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// Series tables are created on demand, so their names go into SQL verbatim.
var seriesName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/quotes.db"
}

// Writer owns the single write connection. Commits are serialized, so
// concurrent callers only ever wait on each other for the commit itself.
type Writer struct {
	db *sql.DB

	mu     sync.Mutex
	series map[string]bool // indicator tables known to exist
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, series: make(map[string]bool)}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker    TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			avg       REAL    NOT NULL,
			volume    INTEGER NOT NULL,
			count     INTEGER NOT NULL,
			UNIQUE (ticker, ts)
		);

		CREATE TABLE IF NOT EXISTS ticker_exchange (
			ticker    TEXT PRIMARY KEY,
			exchange  TEXT NOT NULL
		);
	`)
	return err
}

// UpsertQuotes inserts or updates quotes keyed by (ticker, ts) in a single
// transaction. Existing rows keep their id so indicator rows stay joined.
func (w *Writer) UpsertQuotes(ctx context.Context, ticker string, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily (ticker, ts, open, high, low, close, avg, volume, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, avg = excluded.avg,
			volume = excluded.volume, count = excluded.count
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, q := range quotes {
		_, err := stmt.ExecContext(ctx, ticker, q.Timestamp.Unix(), q.Open, q.High, q.Low, q.Close, q.Avg, q.Volume, q.Count)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert %s: %w", ticker, err)
		}
	}

	return tx.Commit()
}

// EnsureSeries creates the indicator tables for names if they do not exist.
func (w *Writer) EnsureSeries(ctx context.Context, names ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureSeriesLocked(ctx, names)
}

func (w *Writer) ensureSeriesLocked(ctx context.Context, names []string) error {
	for _, name := range names {
		if w.series[name] {
			continue
		}
		if !seriesName.MatchString(name) {
			return fmt.Errorf("sqlite: invalid series name %q", name)
		}
		_, err := w.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+name+` (
			daily_id INTEGER PRIMARY KEY REFERENCES daily(id),
			value    REAL NOT NULL
		)`)
		if err != nil {
			return fmt.Errorf("sqlite create %s: %w", name, err)
		}
		w.series[name] = true
	}
	return nil
}

// UpsertIndicatorValues replaces the values of one series keyed by quote id.
func (w *Writer) UpsertIndicatorValues(ctx context.Context, series string, values []model.Point) error {
	return w.CommitSeries(ctx, map[string][]model.Point{series: values})
}

// CommitSeries writes several series in a single transaction.
func (w *Writer) CommitSeries(ctx context.Context, series map[string][]model.Point) error {
	if len(series) == 0 {
		return nil
	}
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureSeriesLocked(ctx, names); err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := insertPoints(ctx, tx, name, series[name]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite commit %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func insertPoints(ctx context.Context, tx *sql.Tx, table string, points []model.Point) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO `+table+` (daily_id, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// SetExchangeHint records the primary exchange for ticker. An empty exchange
// clears the hint.
func (w *Writer) SetExchangeHint(ctx context.Context, ticker, exchange string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		_, err := w.db.ExecContext(ctx, `DELETE FROM ticker_exchange WHERE ticker = ?`, ticker)
		return err
	}
	_, err := w.db.ExecContext(ctx, `INSERT OR REPLACE INTO ticker_exchange (ticker, exchange) VALUES (?, ?)`, ticker, exchange)
	return err
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

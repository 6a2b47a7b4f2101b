package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"quotesync/internal/metrics"
	"quotesync/internal/model"
)

// Decision is the outcome of reconciling one completed request.
type Decision int

const (
	// Commit means the batch was written to the store.
	Commit Decision = iota
	// Resync means the cached history was revised upstream; nothing was
	// written and the ticker needs a Full fetch.
	Resync
	// Discard means the batch could not be validated and was dropped.
	Discard
)

func (d Decision) String() string {
	switch d {
	case Commit:
		return "commit"
	case Resync:
		return "resync"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Reconciler decides whether fetched bars may be committed.
type Reconciler struct {
	store model.QuoteStore
	prom  *metrics.Metrics

	// ResyncOnMissingBoundary turns "no stored row at the boundary" into a
	// Full resync instead of a discard.
	ResyncOnMissingBoundary bool
}

// NewReconciler returns a Reconciler over store. prom may be nil.
func NewReconciler(store model.QuoteStore, prom *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, prom: prom}
}

// Reconcile validates and commits one completed request. A returned error is
// a storage failure for this ticker only.
func (r *Reconciler) Reconcile(ctx context.Context, req model.PendingRequest, bars []model.Quote) (Decision, error) {
	if len(bars) == 0 {
		slog.Info("no bars returned", "ticker", req.Ticker, "mode", req.Mode)
		if req.Mode == model.Full {
			return Commit, nil
		}
		return Discard, nil
	}

	sorted := make([]model.Quote, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if req.Mode == model.Incremental {
		first := sorted[0]
		cached, err := r.store.QuoteAt(ctx, req.Ticker, first.Timestamp)
		if err != nil {
			return Discard, fmt.Errorf("reconcile %s: %w", req.Ticker, err)
		}
		if cached == nil {
			r.count(func(m *metrics.Metrics) { m.MissingBoundary.Inc() })
			slog.Warn("no cached row at boundary",
				"ticker", req.Ticker, "ts", first.Timestamp.Format(time.RFC3339))
			if r.ResyncOnMissingBoundary {
				return Resync, nil
			}
			return Discard, nil
		}
		// Stored closes round-trip float64 exactly, so any difference is a
		// revision (split or dividend adjustment).
		if cached.Close != first.Close {
			r.count(func(m *metrics.Metrics) { m.Mismatches.Inc() })
			slog.Info("boundary close revised, scheduling full resync",
				"ticker", req.Ticker, "cached", cached.Close, "fetched", first.Close)
			return Resync, nil
		}
	}

	start := time.Now()
	if err := r.store.UpsertQuotes(ctx, req.Ticker, sorted); err != nil {
		return Discard, fmt.Errorf("commit %s: %w", req.Ticker, err)
	}
	r.count(func(m *metrics.Metrics) {
		m.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		m.QuotesCommitted.Add(float64(len(sorted)))
	})
	slog.Debug("committed", "ticker", req.Ticker, "mode", req.Mode, "quotes", len(sorted))
	return Commit, nil
}

func (r *Reconciler) count(f func(*metrics.Metrics)) {
	if r.prom != nil {
		f(r.prom)
	}
}

// Package ingest drives historical-data sync against a market-data session:
// bounded-concurrency dispatch from Full and Incremental ticker queues, event
// correlation, and reconciliation of fetched bars against the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotesync/internal/logger"
	"quotesync/internal/markethours"
	"quotesync/internal/metrics"
	"quotesync/internal/model"
	"quotesync/internal/session"
)

// ErrUnsupportedEvent is returned by Run when the session delivers an event
// kind the sync loop has no handling for.
var ErrUnsupportedEvent = errors.New("unsupported session event")

// Config controls one sync run.
type Config struct {
	ConcurrencyLimit  int           // outstanding requests for queued work
	ConcurrencyBuffer int           // extra slots for corrective resyncs
	PollInterval      time.Duration // sleep when no event is ready
	FullSpanDays      int           // history window of a Full request
	Force             bool          // request incremental tickers even when current

	ResyncOnMissingBoundary bool

	Market *markethours.Session
	Now    func() time.Time
}

// DefaultConfig returns the stock limits: 40 outstanding plus 10 for
// resyncs, 2s polling, two years of history.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit:  40,
		ConcurrencyBuffer: 10,
		PollInterval:      2 * time.Second,
		FullSpanDays:      730,
		Market:            markethours.US,
		Now:               time.Now,
	}
}

// Stats summarises a run.
type Stats struct {
	Dispatched  int
	Completed   int
	Failed      int
	Skipped     int
	Resynced    int
	Discarded   int
	Committed   int // tickers whose bars were written
	MaxInFlight int
}

// Scheduler owns the ticker queues and the in-flight request table. All of
// its state is touched only from the goroutine calling Run.
type Scheduler struct {
	cfg   Config
	sess  session.Session
	store model.QuoteStore
	prom  *metrics.Metrics

	fullQ  []string
	incQ   []string
	queued map[string]model.SyncMode

	corr   *Correlator
	recon  *Reconciler
	nextID int64
	ready  bool
	stats  Stats
}

// New creates a Scheduler. prom may be nil.
func New(cfg Config, sess session.Session, store model.QuoteStore, prom *metrics.Metrics) *Scheduler {
	def := DefaultConfig()
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = def.ConcurrencyLimit
	}
	if cfg.ConcurrencyBuffer < 0 {
		cfg.ConcurrencyBuffer = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FullSpanDays <= 0 {
		cfg.FullSpanDays = def.FullSpanDays
	}
	if cfg.Market == nil {
		cfg.Market = def.Market
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	recon := NewReconciler(store, prom)
	recon.ResyncOnMissingBoundary = cfg.ResyncOnMissingBoundary

	return &Scheduler{
		cfg:    cfg,
		sess:   sess,
		store:  store,
		prom:   prom,
		queued: make(map[string]model.SyncMode),
		corr:   NewCorrelator(),
		recon:  recon,
		nextID: 1,
	}
}

// Enqueue appends ticker to the queue for mode. Tickers already queued or in
// flight are ignored.
func (s *Scheduler) Enqueue(ticker string, mode model.SyncMode) {
	if _, ok := s.queued[ticker]; ok || s.corr.InFlight(ticker) {
		slog.Debug("ticker already scheduled", "ticker", ticker)
		return
	}
	s.queued[ticker] = mode
	if mode == model.Full {
		s.fullQ = append(s.fullQ, ticker)
	} else {
		s.incQ = append(s.incQ, ticker)
	}
}

// Outstanding is the number of requests in flight.
func (s *Scheduler) Outstanding() int { return s.corr.Outstanding() }

// Queued is the number of tickers waiting for dispatch.
func (s *Scheduler) Queued() int { return len(s.fullQ) + len(s.incQ) }

// Stats returns the counters of the run so far.
func (s *Scheduler) Stats() Stats { return s.stats }

// Run polls the session and handles events until every queued ticker has been
// dispatched and answered. Only transport failures and unsupported events end
// the run with an error.
func (s *Scheduler) Run(ctx context.Context) error {
	attrs := logger.LogWithRun(ctx)
	start := time.Now()
	slog.Info("sync started", append(attrs,
		"full", len(s.fullQ), "incremental", len(s.incQ),
		"limit", s.cfg.ConcurrencyLimit, "buffer", s.cfg.ConcurrencyBuffer)...)

	for {
		if s.ready && s.drained() {
			slog.Info("sync finished", append(attrs,
				"dispatched", s.stats.Dispatched, "completed", s.stats.Completed,
				"failed", s.stats.Failed, "skipped", s.stats.Skipped,
				"resynced", s.stats.Resynced, "discarded", s.stats.Discarded,
				"committed", s.stats.Committed, "max_in_flight", s.stats.MaxInFlight,
				"elapsed", time.Since(start).Round(time.Millisecond))...)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, ok, err := s.sess.Poll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			slog.Debug("waiting for events", "outstanding", s.corr.Outstanding())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		if err := s.handle(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Scheduler) drained() bool {
	return s.Queued() == 0 && s.corr.Outstanding() == 0
}

func (s *Scheduler) handle(ctx context.Context, ev session.Event) error {
	switch e := ev.(type) {
	case session.SessionReady:
		if e.NextID > s.nextID {
			s.nextID = e.NextID
		}
		s.ready = true
		return s.Fill(ctx)

	case session.Bar:
		if !s.corr.Append(e.RequestID, e.Quote) {
			slog.Warn("bar for unknown request", "req_id", e.RequestID)
		}
		return nil

	case session.EndOfHistory:
		return s.onComplete(ctx, e.RequestID)

	case session.RequestError:
		return s.onError(ctx, e)

	case session.Informational:
		slog.Debug("session message", "kind", e.Kind, "message", e.Message)
		return nil

	case session.Unsupported:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Kind)

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
}

func (s *Scheduler) onComplete(ctx context.Context, id int64) error {
	req, bars, ok := s.corr.Complete(id)
	if !ok {
		slog.Warn("end of history for unknown request", "req_id", id)
		return nil
	}
	s.stats.Completed++
	s.observe(func(m *metrics.Metrics) { m.RequestsCompleted.WithLabelValues(req.Mode.String()).Inc() })
	slog.Info("request complete", "req_id", id, "ticker", req.Ticker, "mode", req.Mode, "bars", len(bars))

	decision, err := s.recon.Reconcile(ctx, req, bars)
	switch {
	case err != nil:
		slog.Error("reconcile failed", "ticker", req.Ticker, "error", err)
		s.stats.Discarded++
	case decision == Commit:
		s.stats.Committed++
	case decision == Discard:
		s.stats.Discarded++
	case decision == Resync:
		s.stats.Resynced++
		if err := s.resync(ctx, req.Ticker); err != nil {
			return err
		}
	}
	return s.Fill(ctx)
}

func (s *Scheduler) onError(ctx context.Context, e session.RequestError) error {
	req, ok := s.corr.Fail(e.RequestID)
	if !ok {
		slog.Warn("error for unknown request", "req_id", e.RequestID, "code", e.Code, "message", e.Message)
		return nil
	}
	s.stats.Failed++
	s.observe(func(m *metrics.Metrics) { m.RequestErrors.Inc() })
	slog.Error("request failed, dropping ticker",
		"req_id", e.RequestID, "ticker", req.Ticker, "code", e.Code, "message", e.Message)
	return s.Fill(ctx)
}

// resync schedules a corrective Full fetch. It may use the buffer slots above
// the concurrency limit; if those are exhausted the ticker waits at the head
// of the Full queue.
func (s *Scheduler) resync(ctx context.Context, ticker string) error {
	if s.corr.Outstanding() < s.cfg.ConcurrencyLimit+s.cfg.ConcurrencyBuffer {
		return s.dispatch(ctx, ticker, model.Full)
	}
	if _, ok := s.queued[ticker]; !ok {
		s.queued[ticker] = model.Full
		s.fullQ = append([]string{ticker}, s.fullQ...)
	}
	return nil
}

// Fill dispatches queued tickers until the queues are empty or the
// concurrency limit is reached.
func (s *Scheduler) Fill(ctx context.Context) error {
	if !s.ready {
		return nil
	}
	for s.corr.Outstanding() < s.cfg.ConcurrencyLimit {
		dispatched, err := s.dispatchNext(ctx)
		if err != nil {
			return err
		}
		if !dispatched {
			return nil
		}
	}
	return nil
}

// dispatchNext pops tickers, Full queue first, until one request is sent or
// both queues are empty. Skipped and dropped tickers loop rather than recurse.
func (s *Scheduler) dispatchNext(ctx context.Context) (bool, error) {
	for {
		if len(s.fullQ) > 0 {
			ticker := s.pop(&s.fullQ)
			return true, s.dispatch(ctx, ticker, model.Full)
		}
		if len(s.incQ) == 0 {
			return false, nil
		}

		ticker := s.pop(&s.incQ)
		last, err := s.store.LastQuote(ctx, ticker)
		if err != nil {
			slog.Error("reading last quote, dropping ticker", "ticker", ticker, "error", err)
			continue
		}
		if last == nil {
			slog.Info("no cached quotes, fetching full history", "ticker", ticker)
			s.Enqueue(ticker, model.Full)
			continue
		}

		ref := s.cfg.Market.ReferenceTime(s.cfg.Now())
		span := markethours.SpanDays(ref, last.Timestamp)
		if span == 0 && !s.cfg.Force {
			s.stats.Skipped++
			s.observe(func(m *metrics.Metrics) { m.SkippedUpToDate.Inc() })
			slog.Info("skipping up-to-date", "ticker", ticker)
			continue
		}
		return true, s.submit(ctx, ticker, model.Incremental, ref, span+2)
	}
}

func (s *Scheduler) pop(q *[]string) string {
	ticker := (*q)[0]
	*q = (*q)[1:]
	delete(s.queued, ticker)
	return ticker
}

func (s *Scheduler) dispatch(ctx context.Context, ticker string, mode model.SyncMode) error {
	ref := s.cfg.Market.ReferenceTime(s.cfg.Now())
	return s.submit(ctx, ticker, mode, ref, s.cfg.FullSpanDays)
}

func (s *Scheduler) submit(ctx context.Context, ticker string, mode model.SyncMode, asOf time.Time, span int) error {
	hint, err := s.store.ExchangeHint(ctx, ticker)
	if err != nil {
		slog.Warn("reading exchange hint", "ticker", ticker, "error", err)
		hint = ""
	}

	id := s.nextID
	s.nextID++
	if err := s.corr.Register(model.PendingRequest{RequestID: id, Ticker: ticker, Mode: mode}); err != nil {
		return err
	}

	req := session.HistoricalRequest{
		RequestID:    id,
		Symbol:       ticker,
		ExchangeHint: hint,
		AsOf:         asOf,
		SpanDays:     span,
		BarSize:      session.DailyBars,
	}
	slog.Info("requesting", "ticker", ticker, "mode", mode, "duration", req.Duration(), "req_id", id, "exchange", hint)
	if err := s.sess.Submit(ctx, req); err != nil {
		return fmt.Errorf("submit %s: %w", ticker, err)
	}

	s.stats.Dispatched++
	if n := s.corr.Outstanding(); n > s.stats.MaxInFlight {
		s.stats.MaxInFlight = n
	}
	s.observe(func(m *metrics.Metrics) { m.RequestsDispatched.WithLabelValues(mode.String()).Inc() })
	return nil
}

func (s *Scheduler) observe(f func(*metrics.Metrics)) {
	if s.prom == nil {
		return
	}
	f(s.prom)
	s.prom.Outstanding.Set(float64(s.corr.Outstanding()))
}

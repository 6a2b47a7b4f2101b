// Package session defines the market-data session the sync loop talks to:
// fire-and-forget historical requests going out, a polled stream of tagged
// events coming back.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quotesync/internal/model"
)

// ErrTransport marks session-level failures. They are fatal to a sync run.
var ErrTransport = errors.New("session transport failure")

// DailyBars is the only bar size requested.
const DailyBars = "1 day"

// HistoricalRequest asks for SpanDays of daily bars ending at AsOf.
type HistoricalRequest struct {
	RequestID    int64
	Symbol       string
	ExchangeHint string // primary exchange, "" if unknown
	AsOf         time.Time
	SpanDays     int
	BarSize      string
}

// Duration renders the span the way brokers spell it: whole years as "N Y",
// anything else as "N D".
func (r HistoricalRequest) Duration() string {
	if r.SpanDays >= 365 && r.SpanDays%365 == 0 {
		return fmt.Sprintf("%d Y", r.SpanDays/365)
	}
	return fmt.Sprintf("%d D", r.SpanDays)
}

// Start is the first instant covered by the request.
func (r HistoricalRequest) Start() time.Time {
	return r.AsOf.AddDate(0, 0, -r.SpanDays)
}

// Session is an asynchronous market-data source. Submit never blocks on the
// answer; results arrive through Poll.
type Session interface {
	Submit(ctx context.Context, req HistoricalRequest) error

	// Poll returns the next event, or ok=false if none is ready. A non-nil
	// error wraps ErrTransport and ends the session.
	Poll(ctx context.Context) (ev Event, ok bool, err error)

	Close() error
}

// Event is one of the concrete event types below.
type Event interface {
	event()
}

// SessionReady announces the session and the lowest usable request id.
type SessionReady struct {
	NextID int64
}

// Bar carries one daily bar for a request.
type Bar struct {
	RequestID int64
	Quote     model.Quote
}

// EndOfHistory marks the last bar of a request.
type EndOfHistory struct {
	RequestID int64
	Start     time.Time
	End       time.Time
}

// RequestError is a broker-reported failure of one request.
type RequestError struct {
	RequestID int64
	Code      int
	Message   string
}

// Informational is anything the sync loop may ignore: account lists, news
// bulletins, farm status messages.
type Informational struct {
	Kind    string
	Message string
}

// Unsupported is an event kind the session could decode but the sync loop
// has no handling for.
type Unsupported struct {
	Kind string
}

func (SessionReady) event()  {}
func (Bar) event()           {}
func (EndOfHistory) event()  {}
func (RequestError) event()  {}
func (Informational) event() {}
func (Unsupported) event()   {}

// Queue is the FIFO event buffer adapters fill from their own goroutines and
// Poll drains. The first fatal error is sticky and reported once the queue is
// empty.
type Queue struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// Push appends ev.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Fail records a fatal error, wrapping it with ErrTransport.
func (q *Queue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = fmt.Errorf("%w: %v", ErrTransport, err)
	}
}

// Pop implements Session.Poll.
func (q *Queue) Pop() (Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) > 0 {
		ev := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		return ev, true, nil
	}
	return nil, false, q.err
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

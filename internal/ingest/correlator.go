package ingest

import (
	"fmt"

	"quotesync/internal/model"
)

// State is the lifecycle position of one request.
//
//	Pending → Streaming → Completed
//	Pending | Streaming → Failed
type State int

const (
	Pending State = iota
	Streaming
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type tracked struct {
	req   model.PendingRequest
	state State
	bars  []model.Quote
}

// Correlator maps session events back to in-flight requests and buffers bars
// until a request completes. It is owned by the scheduler's goroutine.
type Correlator struct {
	byID     map[int64]*tracked
	byTicker map[string]int64
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		byID:     make(map[int64]*tracked),
		byTicker: make(map[string]int64),
	}
}

// Register starts tracking p. A ticker may have only one request in flight.
func (c *Correlator) Register(p model.PendingRequest) error {
	if _, dup := c.byID[p.RequestID]; dup {
		return fmt.Errorf("request id %d already in flight", p.RequestID)
	}
	if id, busy := c.byTicker[p.Ticker]; busy {
		return fmt.Errorf("%s already has request %d in flight", p.Ticker, id)
	}
	c.byID[p.RequestID] = &tracked{req: p, state: Pending}
	c.byTicker[p.Ticker] = p.RequestID
	return nil
}

// Append buffers a bar for request id. It reports false for unknown ids.
func (c *Correlator) Append(id int64, q model.Quote) bool {
	t, ok := c.byID[id]
	if !ok {
		return false
	}
	t.state = Streaming
	t.bars = append(t.bars, q)
	return true
}

// Complete stops tracking id and hands back the request with its buffered
// bars, in arrival order.
func (c *Correlator) Complete(id int64) (model.PendingRequest, []model.Quote, bool) {
	t, ok := c.remove(id)
	if !ok {
		return model.PendingRequest{}, nil, false
	}
	t.state = Completed
	return t.req, t.bars, true
}

// Fail stops tracking id and drops whatever bars had arrived.
func (c *Correlator) Fail(id int64) (model.PendingRequest, bool) {
	t, ok := c.remove(id)
	if !ok {
		return model.PendingRequest{}, false
	}
	t.state = Failed
	return t.req, true
}

func (c *Correlator) remove(id int64) (*tracked, bool) {
	t, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	delete(c.byID, id)
	delete(c.byTicker, t.req.Ticker)
	return t, true
}

// State returns the state of an in-flight request.
func (c *Correlator) State(id int64) (State, bool) {
	t, ok := c.byID[id]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// InFlight reports whether ticker has an outstanding request.
func (c *Correlator) InFlight(ticker string) bool {
	_, ok := c.byTicker[ticker]
	return ok
}

// Outstanding is the number of requests dispatched and not yet finished.
func (c *Correlator) Outstanding() int { return len(c.byID) }

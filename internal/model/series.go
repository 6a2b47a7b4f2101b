package model

import (
	"encoding/json"
	"time"
)

// Point is one derived scalar aligned to the StoredQuote it was computed at.
type Point struct {
	ID    int64   `json:"id"`
	Value float64 `json:"value"`
}

// Last returns the final point of a series and false if the series is empty.
func Last(series []Point) (Point, bool) {
	if len(series) == 0 {
		return Point{}, false
	}
	return series[len(series)-1], true
}

// IndicatorResult holds the latest value of one series for one ticker.
type IndicatorResult struct {
	Name   string    `json:"name"` // series name, e.g. "ema_8", "rsi_14"
	Ticker string    `json:"ticker"`
	Value  float64   `json:"value"`
	TS     time.Time `json:"ts"` // timestamp of the quote that produced this value
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Trend is the direction a ticker's moving averages are stacked in.
type Trend int

const (
	NoTrend Trend = iota
	Bull
	Bear
)

func (t Trend) String() string {
	switch t {
	case Bull:
		return "bull"
	case Bear:
		return "bear"
	default:
		return "none"
	}
}

// MarshalText lets Trend encode as its name in JSON payloads.
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Candidate is a screened ticker together with the metrics it was judged on.
type Candidate struct {
	Ticker    string    `json:"ticker"`
	Trend     Trend     `json:"trend"`
	SlowStoch float64   `json:"slow_stoch"`
	ADX       float64   `json:"adx"`
	EMAs      []float64 `json:"emas"` // fast to slow, as of TS
	Close     float64   `json:"close"`
	TS        time.Time `json:"ts"`
	Passed    bool      `json:"passed"` // false when reported only because of --force
}

// JSON returns the JSON-encoded candidate.
func (c *Candidate) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

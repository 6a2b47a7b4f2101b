package model

import (
	"encoding/json"
	"time"
)

// Quote is one daily bar for a ticker.
// Timestamp is the session date at the market-close reference time, in UTC.
type Quote struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Avg       float64   `json:"avg"`    // volume-weighted average price, -1 if unknown
	Volume    int64     `json:"volume"`
	Count     int       `json:"count"` // trades during the session, -1 if unknown
}

// JSON returns the JSON-encoded quote (ignoring errors, the type always encodes).
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}

// StoredQuote is a Quote plus the storage-assigned row id. The id is the join
// key between raw bars and derived indicator values.
type StoredQuote struct {
	ID int64 `json:"id"`
	Quote
}

// Closes projects a quote history onto its close prices, keeping row ids.
func Closes(quotes []StoredQuote) []Point {
	out := make([]Point, len(quotes))
	for i := range quotes {
		out[i] = Point{ID: quotes[i].ID, Value: quotes[i].Close}
	}
	return out
}

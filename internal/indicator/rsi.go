package indicator

import "quotesync/internal/model"

// RSI calculates the Relative Strength Index from Wilder-smoothed gains and
// losses. Update is O(1) per close.
type RSI struct {
	period    int
	count     int
	prevClose float64
	up        *RMA
	down      *RMA
}

// NewRSI creates a new RSI with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period, up: NewRMA(period), down: NewRMA(period)}
}

func (r *RSI) Name() string { return "rsi" }

func (r *RSI) Update(close float64) {
	r.count++
	if r.count == 1 {
		// First close: no delta yet
		r.prevClose = close
		return
	}

	gain, loss := 0.0, 0.0
	if d := close - r.prevClose; d > 0 {
		gain = d
	} else {
		loss = -d
	}
	r.prevClose = close
	r.up.Update(gain)
	r.down.Update(loss)
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return rsiValue(r.up.Value(), r.down.Value())
}

func (r *RSI) Ready() bool { return r.down.Ready() }

func rsiValue(up, down float64) float64 {
	switch {
	case down == 0:
		return 100
	case up == 0:
		return 0
	default:
		return 100 - 100/(1+up/down)
	}
}

// RSIs returns the RSI series of quotes' closes. The first value is aligned to
// the quote at index period.
func RSIs(period int, quotes []model.StoredQuote) []model.Point {
	if period <= 0 || len(quotes) <= period {
		return nil
	}
	r := NewRSI(period)
	out := make([]model.Point, 0, len(quotes)-period)
	for _, q := range quotes {
		r.Update(q.Close)
		if r.Ready() {
			out = append(out, model.Point{ID: q.ID, Value: r.Value()})
		}
	}
	return out
}

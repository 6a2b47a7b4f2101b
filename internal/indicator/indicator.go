// Package indicator computes technical indicators over daily quote histories.
//
// Every moving average exists in two forms: a streaming Smoother that is O(1)
// per value, and a series function that walks an ascending []model.Point and
// tags each output with the quote id of the last value in its window. A window
// larger than the input yields an empty series, never a partial window.
package indicator

import "quotesync/internal/model"

// Smoother is a streaming moving average.
type Smoother interface {
	// Name returns the indicator name (e.g., "sma", "ema").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current smoothed value. Returns 0 if not Ready.
	Value() float64

	// Ready returns true once a full window has been accumulated.
	Ready() bool
}

// series feeds in through s and emits one point per value once s is ready.
func series(s Smoother, window int, in []model.Point) []model.Point {
	if window <= 0 || len(in) < window {
		return nil
	}
	out := make([]model.Point, 0, len(in)-window+1)
	for _, p := range in {
		s.Update(p.Value)
		if s.Ready() {
			out = append(out, model.Point{ID: p.ID, Value: s.Value()})
		}
	}
	return out
}

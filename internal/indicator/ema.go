package indicator

import "quotesync/internal/model"

// EMA calculates Exponential Moving Average.
//
// The seed is the first value on its own. Until the window is full the seed
// is pulled toward a true average with an expanding factor 2/(n+1), n being
// the number of values seen so far. From the value after the window boundary
// on, the steady factor 2/(period+1) applies.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "ema" }

func (e *EMA) Update(v float64) {
	e.count++

	switch {
	case e.count == 1:
		e.current = v
	case e.count <= e.period:
		k := 2.0 / float64(e.count+1)
		e.current += (v - e.current) * k
	default:
		e.current += (v - e.current) * e.multiplier
	}
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.current
}

func (e *EMA) Ready() bool { return e.count >= e.period }

// EMAs returns the exponential moving average of in over window.
func EMAs(window int, in []model.Point) []model.Point {
	if window <= 0 {
		return nil
	}
	return series(NewEMA(window), window, in)
}

package indicator

import "quotesync/internal/model"

// RMA calculates Wilder's smoothed moving average: an EMA with alpha = 1/period,
// seeded by the plain average of the first period values.
type RMA struct {
	period  int
	alpha   float64
	count   int
	sum     float64
	current float64
}

// NewRMA creates a new RMA with the given period.
func NewRMA(period int) *RMA {
	return &RMA{period: period, alpha: 1.0 / float64(period)}
}

func (r *RMA) Name() string { return "rma" }

func (r *RMA) Update(v float64) {
	r.count++

	if r.count <= r.period {
		// Accumulate for initial SMA seed
		r.sum += v
		if r.count == r.period {
			r.current = r.sum / float64(r.period)
		}
		return
	}

	r.current += (v - r.current) * r.alpha
}

func (r *RMA) Value() float64 { return r.current }
func (r *RMA) Ready() bool    { return r.count >= r.period }

// RMAs returns Wilder's smoothing of in over period.
func RMAs(period int, in []model.Point) []model.Point {
	if period <= 0 {
		return nil
	}
	return series(NewRMA(period), period, in)
}

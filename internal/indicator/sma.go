package indicator

import "quotesync/internal/model"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer, so each step drops the oldest value
// and adds the newest.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "sma" }

func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// SMAs returns the simple moving average of in over window.
func SMAs(window int, in []model.Point) []model.Point {
	if window <= 0 {
		return nil
	}
	return series(NewSMA(window), window, in)
}

package indicator

import "quotesync/internal/model"

// neutralStoch is reported when the window's high equals its low.
const neutralStoch = 50.0

// Stochastics returns raw %K: where each close sits within the high/low range
// of the kLen quotes ending at it, scaled to 0..100.
func Stochastics(kLen int, quotes []model.StoredQuote) []model.Point {
	if kLen <= 0 || len(quotes) < kLen {
		return nil
	}
	out := make([]model.Point, 0, len(quotes)-kLen+1)
	for i := kLen - 1; i < len(quotes); i++ {
		hi, lo := quotes[i-kLen+1].High, quotes[i-kLen+1].Low
		for _, q := range quotes[i-kLen+2 : i+1] {
			if q.High > hi {
				hi = q.High
			}
			if q.Low < lo {
				lo = q.Low
			}
		}
		v := neutralStoch
		if hi != lo {
			v = 100 * (quotes[i].Close - lo) / (hi - lo)
		}
		out = append(out, model.Point{ID: quotes[i].ID, Value: v})
	}
	return out
}

// SlowStochastic holds the smoothed %K and its %D signal line.
type SlowStochastic struct {
	K []model.Point
	D []model.Point
}

// SlowStochastics computes %K smoothed by SMA(kSmoothing) and %D as
// SMA(dSmoothing) of the smoothed %K.
func SlowStochastics(kLen, kSmoothing, dSmoothing int, quotes []model.StoredQuote) SlowStochastic {
	k := SMAs(kSmoothing, Stochastics(kLen, quotes))
	return SlowStochastic{K: k, D: SMAs(dSmoothing, k)}
}

// Slow returns the latest %D value, the figure reported as "slow stochastic".
func (s SlowStochastic) Slow() (float64, bool) {
	p, ok := model.Last(s.D)
	return p.Value, ok
}

package indicator

import (
	"math"

	"quotesync/internal/model"
)

// TrueRanges returns max(high-low, |high-prevClose|, |low-prevClose|) for each
// quote from the second one onward.
func TrueRanges(quotes []model.StoredQuote) []model.Point {
	if len(quotes) < 2 {
		return nil
	}
	trs := make([]model.Point, 0, len(quotes)-1)
	for i := 1; i < len(quotes); i++ {
		q, prev := quotes[i], quotes[i-1]
		tr := math.Max(q.High-q.Low, math.Max(math.Abs(q.High-prev.Close), math.Abs(q.Low-prev.Close)))
		trs = append(trs, model.Point{ID: q.ID, Value: tr})
	}
	return trs
}

// DirectionalMovement returns the +DM and -DM series. Only the larger of the
// upward and downward moves counts, and only when it is positive.
func DirectionalMovement(quotes []model.StoredQuote) (plus, minus []model.Point) {
	if len(quotes) < 2 {
		return nil, nil
	}
	plus = make([]model.Point, 0, len(quotes)-1)
	minus = make([]model.Point, 0, len(quotes)-1)
	for i := 1; i < len(quotes); i++ {
		q, prev := quotes[i], quotes[i-1]
		up := q.High - prev.High
		down := prev.Low - q.Low

		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plus = append(plus, model.Point{ID: q.ID, Value: p})
		minus = append(minus, model.Point{ID: q.ID, Value: m})
	}
	return plus, minus
}

// Directional holds the aligned directional indicator series for one period.
type Directional struct {
	PlusDI  []model.Point
	MinusDI []model.Point
	DX      []model.Point
}

// DirectionalIndex smooths true range and directional movement with RMA(period)
// and derives +DI, -DI and DX. A zero ATR yields zero DI values and a zero DI
// sum yields a zero DX.
func DirectionalIndex(quotes []model.StoredQuote, period int) Directional {
	atrs := RMAs(period, TrueRanges(quotes))
	if len(atrs) == 0 {
		return Directional{}
	}
	plusDM, minusDM := DirectionalMovement(quotes)
	plusS := RMAs(period, plusDM)
	minusS := RMAs(period, minusDM)

	d := Directional{
		PlusDI:  make([]model.Point, len(atrs)),
		MinusDI: make([]model.Point, len(atrs)),
		DX:      make([]model.Point, len(atrs)),
	}
	for i, atr := range atrs {
		pdi, ndi := 0.0, 0.0
		if atr.Value != 0 {
			pdi = 100 * plusS[i].Value / atr.Value
			ndi = 100 * minusS[i].Value / atr.Value
		}
		dx := 0.0
		if sum := pdi + ndi; sum != 0 {
			dx = 100 * math.Abs(pdi-ndi) / sum
		}
		d.PlusDI[i] = model.Point{ID: atr.ID, Value: pdi}
		d.MinusDI[i] = model.Point{ID: atr.ID, Value: ndi}
		d.DX[i] = model.Point{ID: atr.ID, Value: dx}
	}
	return d
}

// ADX is RMA(adxLen) over DX computed with diLen.
func ADX(quotes []model.StoredQuote, diLen, adxLen int) []model.Point {
	return RMAs(adxLen, DirectionalIndex(quotes, diLen).DX)
}

// ADXR is a further RMA(adxrLen) pass over the ADX series. This is the
// double-smoothed variant, not Wilder's average of ADX with a lagged ADX.
func ADXR(quotes []model.StoredQuote, diLen, adxLen, adxrLen int) []model.Point {
	return RMAs(adxrLen, ADX(quotes, diLen, adxLen))
}

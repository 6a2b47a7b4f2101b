package indicator

import (
	"sort"
	"strconv"

	"quotesync/internal/model"
)

// Config specifies the indicator series computed for every ticker.
type Config struct {
	EMAWindows []int
	SMAWindows []int
	RSIPeriod  int

	DILen   int
	ADXLen  int
	ADXRLen int

	StochKLen       int
	StochKSmoothing int
	StochDSmoothing int
}

// DefaultConfig returns the trend screener's EMA ribbon plus the usual
// oscillators.
func DefaultConfig() Config {
	return Config{
		EMAWindows:      []int{8, 21, 34, 89},
		SMAWindows:      []int{20, 50, 200},
		RSIPeriod:       14,
		DILen:           14,
		ADXLen:          14,
		ADXRLen:         14,
		StochKLen:       8,
		StochKSmoothing: 3,
		StochDSmoothing: 3,
	}
}

// Series names double as storage table names.
func EMAName(window int) string  { return "ema_" + strconv.Itoa(window) }
func SMAName(window int) string  { return "sma_" + strconv.Itoa(window) }
func RSIName(period int) string  { return "rsi_" + strconv.Itoa(period) }
func ADXName(period int) string  { return "adx_" + strconv.Itoa(period) }
func ADXRName(period int) string { return "adxr_" + strconv.Itoa(period) }
func StochKName(kLen int) string { return "stoch_k_" + strconv.Itoa(kLen) }
func StochDName(kLen int) string { return "stoch_d_" + strconv.Itoa(kLen) }

// Engine computes the configured family of series from a quote history.
// It holds no per-ticker state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an indicator engine for cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// SeriesNames lists every series Compute can produce, sorted.
func (e *Engine) SeriesNames() []string {
	var names []string
	for _, w := range e.cfg.EMAWindows {
		names = append(names, EMAName(w))
	}
	for _, w := range e.cfg.SMAWindows {
		names = append(names, SMAName(w))
	}
	if e.cfg.RSIPeriod > 0 {
		names = append(names, RSIName(e.cfg.RSIPeriod))
	}
	if e.cfg.DILen > 0 && e.cfg.ADXLen > 0 {
		names = append(names, ADXName(e.cfg.ADXLen))
		if e.cfg.ADXRLen > 0 {
			names = append(names, ADXRName(e.cfg.ADXRLen))
		}
	}
	if e.cfg.StochKLen > 0 {
		names = append(names, StochKName(e.cfg.StochKLen), StochDName(e.cfg.StochKLen))
	}
	sort.Strings(names)
	return names
}

// Compute derives every configured series from quotes, which must be in
// ascending timestamp order. Series without enough history are omitted.
func (e *Engine) Compute(quotes []model.StoredQuote) map[string][]model.Point {
	out := make(map[string][]model.Point, 12)
	put := func(name string, s []model.Point) {
		if len(s) > 0 {
			out[name] = s
		}
	}

	closes := model.Closes(quotes)
	for _, w := range e.cfg.EMAWindows {
		put(EMAName(w), EMAs(w, closes))
	}
	for _, w := range e.cfg.SMAWindows {
		put(SMAName(w), SMAs(w, closes))
	}
	if e.cfg.RSIPeriod > 0 {
		put(RSIName(e.cfg.RSIPeriod), RSIs(e.cfg.RSIPeriod, quotes))
	}
	if e.cfg.DILen > 0 && e.cfg.ADXLen > 0 {
		adx := ADX(quotes, e.cfg.DILen, e.cfg.ADXLen)
		put(ADXName(e.cfg.ADXLen), adx)
		if e.cfg.ADXRLen > 0 {
			put(ADXRName(e.cfg.ADXRLen), RMAs(e.cfg.ADXRLen, adx))
		}
	}
	if e.cfg.StochKLen > 0 {
		slow := SlowStochastics(e.cfg.StochKLen, e.cfg.StochKSmoothing, e.cfg.StochDSmoothing, quotes)
		put(StochKName(e.cfg.StochKLen), slow.K)
		put(StochDName(e.cfg.StochKLen), slow.D)
	}
	return out
}

// Latest reduces computed series to their newest values, stamped with the
// timestamp of the quote each value belongs to.
func Latest(ticker string, quotes []model.StoredQuote, computed map[string][]model.Point) []model.IndicatorResult {
	if len(computed) == 0 {
		return nil
	}
	byID := make(map[int64]int, len(quotes))
	for i := range quotes {
		byID[quotes[i].ID] = i
	}

	names := make([]string, 0, len(computed))
	for name := range computed {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]model.IndicatorResult, 0, len(names))
	for _, name := range names {
		p, ok := model.Last(computed[name])
		if !ok {
			continue
		}
		r := model.IndicatorResult{Name: name, Ticker: ticker, Value: p.Value}
		if i, ok := byID[p.ID]; ok {
			r.TS = quotes[i].Timestamp
		}
		results = append(results, r)
	}
	return results
}

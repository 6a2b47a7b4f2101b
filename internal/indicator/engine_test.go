package indicator

import (
	"reflect"
	"testing"
	"time"

	"quotesync/internal/model"
)

func TestEngine_SeriesNames(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	want := []string{
		"adx_14", "adxr_14",
		"ema_21", "ema_34", "ema_8", "ema_89",
		"rsi_14",
		"sma_20", "sma_200", "sma_50",
		"stoch_d_8", "stoch_k_8",
	}
	if got := engine.SeriesNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("SeriesNames() = %v, want %v", got, want)
	}
}

func TestEngine_SeriesNamesDisabled(t *testing.T) {
	engine := NewEngine(Config{EMAWindows: []int{5}})
	if got := engine.SeriesNames(); !reflect.DeepEqual(got, []string{"ema_5"}) {
		t.Errorf("SeriesNames() = %v, want [ema_5]", got)
	}
}

func TestEngine_ComputeLengths(t *testing.T) {
	quotes := steadyUptrend(60)
	engine := NewEngine(Config{
		EMAWindows:      []int{8, 21},
		SMAWindows:      []int{20, 200},
		RSIPeriod:       14,
		DILen:           14,
		ADXLen:          14,
		ADXRLen:         14,
		StochKLen:       8,
		StochKSmoothing: 3,
		StochDSmoothing: 3,
	})
	got := engine.Compute(quotes)

	wantLen := map[string]int{
		"ema_8":     60 - 8 + 1,
		"ema_21":    60 - 21 + 1,
		"sma_20":    60 - 20 + 1,
		"rsi_14":    60 - 14,
		"adx_14":    60 - 1 - 13 - 13,
		"adxr_14":   60 - 1 - 13 - 13 - 13,
		"stoch_k_8": 60 - 7 - 2,
		"stoch_d_8": 60 - 7 - 2 - 2,
	}
	for name, n := range wantLen {
		if len(got[name]) != n {
			t.Errorf("%s: got %d points, want %d", name, len(got[name]), n)
		}
	}
	if _, ok := got["sma_200"]; ok {
		t.Error("sma_200 should be omitted with only 60 quotes")
	}

	// Every series ends at the newest quote.
	for name, s := range got {
		last, _ := model.Last(s)
		if last.ID != quotes[len(quotes)-1].ID {
			t.Errorf("%s: last id %d, want %d", name, last.ID, quotes[len(quotes)-1].ID)
		}
	}
}

func TestEngine_ComputeEmpty(t *testing.T) {
	if got := NewEngine(DefaultConfig()).Compute(nil); len(got) != 0 {
		t.Errorf("Compute(nil) = %v, want empty", got)
	}
}

func TestLatest(t *testing.T) {
	quotes := quotesFromCloses(1, 2, 3, 4, 5)
	engine := NewEngine(Config{EMAWindows: []int{3}, SMAWindows: []int{2}})
	computed := engine.Compute(quotes)

	results := Latest("AAPL", quotes, computed)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "ema_3" || results[1].Name != "sma_2" {
		t.Errorf("results not sorted by name: %s, %s", results[0].Name, results[1].Name)
	}
	for _, r := range results {
		if r.Ticker != "AAPL" {
			t.Errorf("%s: ticker %q", r.Name, r.Ticker)
		}
		if !r.TS.Equal(quotes[4].Timestamp) {
			t.Errorf("%s: ts %v, want %v", r.Name, r.TS, quotes[4].Timestamp)
		}
	}
	assertClose(t, "sma_2 latest", results[1].Value, 4.5, 1e-9)

	if Latest("AAPL", quotes, nil) != nil {
		t.Error("expected nil for no computed series")
	}
}

func TestLatest_UnknownIDLeavesZeroTS(t *testing.T) {
	computed := map[string][]model.Point{"ema_3": {{ID: 999, Value: 1}}}
	results := Latest("X", quotesFromCloses(1), computed)
	if len(results) != 1 || !results[0].TS.Equal(time.Time{}) {
		t.Errorf("unexpected results %+v", results)
	}
}

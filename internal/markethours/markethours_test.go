package markethours

import (
	"testing"
	"time"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Eastern)
}

func TestInRegularSession(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", et(2026, 3, 10, 9, 0), false},
		{"at open", et(2026, 3, 10, 9, 30), false},
		{"midday", et(2026, 3, 10, 12, 0), true},
		{"after close, settling", et(2026, 3, 10, 16, 15), true},
		{"settled", et(2026, 3, 10, 16, 30), false},
		{"evening", et(2026, 3, 10, 20, 0), false},
		{"saturday", et(2026, 3, 14, 12, 0), false},
		{"good friday", et(2026, 4, 3, 12, 0), false},
	}
	for _, tt := range tests {
		if got := US.InRegularSession(tt.at); got != tt.want {
			t.Errorf("%s: InRegularSession(%v) = %v, want %v", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestReferenceTime(t *testing.T) {
	// During the session the prior day's close is used.
	now := et(2026, 3, 10, 11, 0)
	want := et(2026, 3, 9, 16, 0).UTC()
	if got := US.ReferenceTime(now); !got.Equal(want) {
		t.Errorf("in session: got %v, want %v", got, want)
	}

	// Outside the session the current instant is used as is.
	now = et(2026, 3, 10, 18, 0)
	if got := US.ReferenceTime(now); !got.Equal(now) {
		t.Errorf("after session: got %v, want %v", got, now)
	}
}

func TestSessionClose(t *testing.T) {
	got, err := US.SessionCloseOf("20260310")
	if err != nil {
		t.Fatal(err)
	}
	// 16:00 EDT == 20:00 UTC
	want := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("SessionCloseOf = %v, want %v", got, want)
	}

	nse, err := NSE.SessionCloseOf("20260310")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC); !nse.Equal(want) {
		t.Errorf("NSE SessionCloseOf = %v, want %v", nse, want)
	}

	if _, err := US.SessionCloseOf("2026-03-10"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestSpanDays(t *testing.T) {
	last := et(2026, 3, 6, 16, 0)
	tests := []struct {
		ref  time.Time
		want int
	}{
		{last, 0},
		{last.Add(23 * time.Hour), 0},
		{last.Add(24 * time.Hour), 1},
		{et(2026, 3, 10, 18, 0), 4},
		{last.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		if got := SpanDays(tt.ref, last); got != tt.want {
			t.Errorf("SpanDays(%v) = %d, want %d", tt.ref, got, tt.want)
		}
	}
}

func TestIsTradingDay(t *testing.T) {
	if !NSE.IsTradingDay(time.Date(2026, 3, 10, 10, 0, 0, 0, IST)) {
		t.Error("2026-03-10 should be an NSE trading day")
	}
	if NSE.IsTradingDay(time.Date(2026, 1, 26, 10, 0, 0, 0, IST)) {
		t.Error("Republic Day is an NSE holiday")
	}
	if US.IsTradingDay(et(2026, 11, 26, 10, 0)) {
		t.Error("Thanksgiving is a US holiday")
	}
}

func TestNextOpen(t *testing.T) {
	// Friday evening → Monday open
	got := US.NextOpen(et(2026, 3, 13, 18, 0))
	if want := et(2026, 3, 16, 9, 30); !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}
	// Before open on a trading day → today
	got = NSE.NextOpen(time.Date(2026, 3, 10, 8, 0, 0, 0, IST))
	if want := time.Date(2026, 3, 10, 9, 15, 0, 0, IST); !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}
}

func TestByName(t *testing.T) {
	if s, err := ByName("NSE"); err != nil || s != NSE {
		t.Errorf("ByName(NSE) = %v, %v", s, err)
	}
	if _, err := ByName("LSE"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestHolidayCoverage(t *testing.T) {
	for _, s := range []*Session{US, NSE} {
		for _, y := range []int{2026, 2027} {
			if !s.HasHolidays(y) {
				t.Errorf("%s: no holiday table for %d", s.Name, y)
			}
		}
		if s.HasHolidays(2030) {
			t.Errorf("%s: unexpected holiday table for 2030", s.Name)
		}
	}

	if US.IsTradingDay(et(2027, 7, 5, 10, 0)) {
		t.Error("2027-07-05 is the observed Independence Day")
	}
	if NSE.IsTradingDay(time.Date(2027, 1, 26, 10, 0, 0, 0, IST)) {
		t.Error("Republic Day 2027 is an NSE holiday")
	}
	// Uncovered years fall back to weekdays only.
	if !US.IsTradingDay(et(2030, 12, 25, 10, 0)) {
		t.Error("2030-12-25 has no table and is a Wednesday")
	}
}

package markethours

import "time"

type holiday struct {
	month time.Month
	day   int
}

// NSE trading holidays by year.
// Source: NSE India official holiday list.
var nseHolidays = map[int][]holiday{
	2026: {
		{time.January, 26},  // Republic Day
		{time.February, 17}, // Mahashivratri (tentative)
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
		{time.April, 2},     // Ram Navami (tentative)
		{time.April, 3},     // Good Friday
		{time.April, 6},     // Mahavir Jayanti
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.May, 1},       // Maharashtra Day
		{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
		{time.July, 6},      // Muharram (tentative)
		{time.August, 15},   // Independence Day
		{time.August, 16},   // Janmashtami (tentative)
		{time.September, 5}, // Milad-un-Nabi (tentative)
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 20},  // Dussehra
		{time.October, 21},  // Dussehra (tentative)
		{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
		{time.November, 6},  // Diwali Balipratipada (tentative)
		{time.November, 7},  // Bhai Dooj (tentative)
		{time.November, 19}, // Guru Nanak Jayanti
		{time.December, 25}, // Christmas
	},
	2027: {
		{time.January, 26}, // Republic Day
		{time.March, 22},   // Holi (tentative)
		{time.March, 26},   // Good Friday
		{time.April, 14},   // Dr. Ambedkar Jayanti
		{time.October, 29}, // Diwali / Lakshmi Puja (tentative)
	},
}

// NYSE holidays by year, observed dates.
var usHolidays = map[int][]holiday{
	2026: {
		{time.January, 1},   // New Year's Day
		{time.January, 19},  // Martin Luther King Jr. Day
		{time.February, 16}, // Washington's Birthday
		{time.April, 3},     // Good Friday
		{time.May, 25},      // Memorial Day
		{time.June, 19},     // Juneteenth
		{time.July, 3},      // Independence Day (observed)
		{time.September, 7}, // Labor Day
		{time.November, 26}, // Thanksgiving
		{time.December, 25}, // Christmas
	},
	2027: {
		{time.January, 1},   // New Year's Day
		{time.January, 18},  // Martin Luther King Jr. Day
		{time.February, 15}, // Washington's Birthday
		{time.March, 26},    // Good Friday
		{time.May, 31},      // Memorial Day
		{time.June, 18},     // Juneteenth (observed)
		{time.July, 5},      // Independence Day (observed)
		{time.September, 6}, // Labor Day
		{time.November, 25}, // Thanksgiving
		{time.December, 24}, // Christmas (observed)
	},
}

func holidaySet(years map[int][]holiday, loc *time.Location) map[string]bool {
	set := make(map[string]bool)
	for year, days := range years {
		for _, h := range days {
			set[dateKey(time.Date(year, h.month, h.day, 0, 0, 0, 0, loc))] = true
		}
	}
	return set
}

func coveredYears(years map[int][]holiday) map[int]bool {
	out := make(map[int]bool, len(years))
	for y := range years {
		out[y] = true
	}
	return out
}

// HasHolidays reports whether a holiday table is loaded for year. Outside the
// covered years every weekday counts as a trading day.
func (s *Session) HasHolidays(year int) bool {
	return s.covered[year]
}

// IsHoliday returns true if the date (in the session's location) is an
// exchange holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[dateKey(t.In(s.Location))]
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

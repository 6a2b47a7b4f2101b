package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // America/New_York on hosts without a zoneinfo database
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Eastern is the US exchange location. Falls back to a fixed EDT offset if the
// zone database cannot be loaded.
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EDT", -4*3600)
	}
	return loc
}

// Clock is a wall-clock time of day in a session's location.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Session describes one exchange's regular trading day.
type Session struct {
	Name     string
	Location *time.Location
	Open     Clock
	Close    Clock

	// Settle extends the window during which today's bar is still treated as
	// provisional, so late prints are not cached as final.
	Settle time.Duration

	holidays map[string]bool
	covered  map[int]bool
}

// US is the NYSE/Nasdaq regular session. Daily bars are stamped at 16:00
// Eastern and are considered final from 16:30.
var US = &Session{
	Name:     "US",
	Location: Eastern,
	Open:     Clock{9, 30},
	Close:    Clock{16, 0},
	Settle:   30 * time.Minute,
	holidays: holidaySet(usHolidays, Eastern),
	covered:  coveredYears(usHolidays),
}

// NSE is the National Stock Exchange of India cash session.
var NSE = &Session{
	Name:     "NSE",
	Location: IST,
	Open:     Clock{9, 15},
	Close:    Clock{15, 30},
	holidays: holidaySet(nseHolidays, IST),
	covered:  coveredYears(nseHolidays),
}

// ByName returns the session called name ("US" or "NSE").
func ByName(name string) (*Session, error) {
	switch name {
	case "US", "us":
		return US, nil
	case "NSE", "nse":
		return NSE, nil
	}
	return nil, fmt.Errorf("markethours: unknown session %q", name)
}

// InRegularSession reports whether t falls strictly inside the session window
// (open through close plus Settle) on a trading day.
func (s *Session) InRegularSession(t time.Time) bool {
	local := t.In(s.Location)
	if !s.IsTradingDay(local) {
		return false
	}
	open := s.at(local, s.Open)
	end := s.at(local, s.Close).Add(s.Settle)
	return local.After(open) && local.Before(end)
}

// ReferenceTime is the as-of instant for a historical query made at now. While
// the session is running the bar for today is not final, so the prior day's
// close is used instead.
func (s *Session) ReferenceTime(now time.Time) time.Time {
	if s.InRegularSession(now) {
		return s.SessionClose(now.In(s.Location).AddDate(0, 0, -1))
	}
	return now
}

// SessionClose normalises a session date to the market-close reference time,
// returned in UTC. Daily bars are stamped with this instant.
func (s *Session) SessionClose(date time.Time) time.Time {
	local := date.In(s.Location)
	return s.at(local, s.Close).UTC()
}

// SessionCloseOf parses a YYYYMMDD bar date in the session's location and
// normalises it with SessionClose.
func (s *Session) SessionCloseOf(yyyymmdd string) (time.Time, error) {
	d, err := time.ParseInLocation("20060102", yyyymmdd, s.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("markethours: bar date %q: %w", yyyymmdd, err)
	}
	return s.SessionClose(d), nil
}

// SpanDays is the number of whole days between lastCached and reference.
func SpanDays(reference, lastCached time.Time) int {
	d := reference.Sub(lastCached)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// IsWeekday returns true if t is Mon–Fri in the session's location.
func (s *Session) IsWeekday(t time.Time) bool {
	wd := t.In(s.Location).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	return s.IsWeekday(t) && !s.IsHoliday(t)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func (s *Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.Location)

	todayOpen := s.at(local, s.Open)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if s.IsTradingDay(d) {
			return s.at(d, s.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return s.at(local.AddDate(0, 0, 1), s.Open)
}

// StatusString returns a human-readable market status.
func (s *Session) StatusString(t time.Time) string {
	local := t.In(s.Location)
	if s.IsTradingDay(local) && !local.Before(s.at(local, s.Open)) && local.Before(s.at(local, s.Close)) {
		return fmt.Sprintf("%s open, closes in %s", s.Name, fmtDur(s.at(local, s.Close).Sub(local)))
	}
	next := s.NextOpen(t).In(s.Location)
	return fmt.Sprintf("%s closed, opens %s %s (%s)",
		s.Name, next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(local)))
}

func (s *Session) at(day time.Time, c Clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, s.Location)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

package markethours

import (
	"fmt"
	"time"
)

// ET is the US Eastern time zone used for all session math. Falls back to a
// fixed UTC-5 zone if the tz database is unavailable.
var ET = loadET()

func loadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Regular NYSE session bounds in ET.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// IsMarketOpen returns true if t falls within the regular NYSE session
// (9:30 AM to 4:00 PM ET, Mon-Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(ET)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon-Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(ET)
	return IsWeekday(et) && !IsHoliday(et)
}

// SessionDate returns the ET calendar date of t, used to detect session
// boundaries for resetting cumulative state.
func SessionDate(t time.Time) string {
	return t.In(ET).Format("2006-01-02")
}

// NextOpen returns the next market open time (9:30 AM ET on the next trading
// day). If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(ET)

	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, ET)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, ET)
		}
		d = d.AddDate(0, 0, 1)
	}
	// Fallback: next day
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, ET)
}

// TodayClose returns today's market close time (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(ET)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, ET)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	cl := TodayClose(t)
	d := cl.Sub(t.In(ET))
	if d < 0 {
		return 0
	}
	return d
}

// Window is a daily time window in ET, inclusive of the start minute and
// exclusive of the end minute.
type Window struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// DefaultCloseout is the forced end-of-day closeout window: any position
// still open between 3:55 PM and 3:56 PM ET is flattened.
var DefaultCloseout = Window{StartHour: 15, StartMinute: 55, EndHour: 15, EndMinute: 56}

// Contains reports whether t (converted to ET) falls within the window on a
// trading day.
func (w Window) Contains(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= w.StartHour*60+w.StartMinute && hm < w.EndHour*60+w.EndMinute
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TimeUntilClose(t)
		return fmt.Sprintf("Market Open - closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	d := next.Sub(t)
	et := next.In(ET)
	return fmt.Sprintf("Market Closed - opens %s %s (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

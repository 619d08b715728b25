// Package markethours is the single source of trading-calendar truth:
// the trading window, the weekday mask, holidays and the canonical
// trading date used for daily resets and dedupe keys.
package markethours

import (
	"fmt"
	"time"

	"intraday-signals/config"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// DateLayout formats trading dates.
const DateLayout = "2006-01-02"

// Calendar answers "is the market open" and "which trading day is it"
// for one exchange. It is immutable after construction.
type Calendar struct {
	loc      *time.Location
	openMin  int // minutes since midnight
	closeMin int
	weekdays [7]bool
	holidays map[string]bool
}

// NewCalendar builds a calendar. openMin/closeMin are minutes since
// midnight in loc; the window is [open, close).
func NewCalendar(loc *time.Location, openMin, closeMin int, weekdays [7]bool, holidays map[string]bool) *Calendar {
	if loc == nil {
		loc = IST
	}
	if holidays == nil {
		holidays = map[string]bool{}
	}
	return &Calendar{loc: loc, openMin: openMin, closeMin: closeMin, weekdays: weekdays, holidays: holidays}
}

// NSE returns the default 09:15-15:30 IST Mon-Fri calendar with the NSE
// holiday list.
func NSE() *Calendar {
	var wd [7]bool
	for d := time.Monday; d <= time.Friday; d++ {
		wd[d] = true
	}
	return NewCalendar(IST, 9*60+15, 15*60+30, wd, NSEHolidays())
}

// FromConfig builds the calendar from a validated config.
func FromConfig(c *config.Config) (*Calendar, error) {
	open, err := config.ParseClock(c.TradingStart)
	if err != nil {
		return nil, fmt.Errorf("markethours: %w", err)
	}
	closeAt, err := config.ParseClock(c.TradingEnd)
	if err != nil {
		return nil, fmt.Errorf("markethours: %w", err)
	}
	mask, err := c.WeekdayMask()
	if err != nil {
		return nil, fmt.Errorf("markethours: %w", err)
	}
	return NewCalendar(c.Location(), open, closeAt, mask, NSEHolidays()), nil
}

// Location returns the calendar's zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// TradingDate is the canonical calendar date of t in the exchange zone.
// Every "is it a new day" decision goes through here.
func (c *Calendar) TradingDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// IsHoliday returns true if t's local date is an exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[c.TradingDate(t)]
}

// IsTradingDay returns true if t falls on an enabled weekday that is not
// a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	return c.weekdays[local.Weekday()] && !c.IsHoliday(local)
}

// InWindow returns true if t is within trading hours on a trading day.
func (c *Calendar) InWindow(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	hm := local.Hour()*60 + local.Minute()
	return hm >= c.openMin && hm < c.closeMin
}

func (c *Calendar) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, c.loc)
}

// NextOpen returns the next window start. If t is before today's open on
// a trading day, today's open is returned.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	if open := c.at(local, c.openMin); local.Before(open) && c.IsTradingDay(local) {
		return open
	}
	d := local.AddDate(0, 0, 1)
	for i := 0; i < 15; i++ { // weekends plus clustered holidays
		if c.IsTradingDay(d) {
			return c.at(d, c.openMin)
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.at(local.AddDate(0, 0, 1), c.openMin)
}

// TodayClose returns the window end on t's local date.
func (c *Calendar) TodayClose(t time.Time) time.Time {
	return c.at(t.In(c.loc), c.closeMin)
}

// StatusString returns a human-readable market status.
func (c *Calendar) StatusString(t time.Time) string {
	if c.InWindow(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(c.TodayClose(t).Sub(t)))
	}
	next := c.NextOpen(t)
	local := next.In(c.loc)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		local.Weekday().String()[:3], local.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

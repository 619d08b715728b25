package markethours

import (
	"strings"
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestTradingDate_UsesExchangeZone(t *testing.T) {
	cal := NSE()
	// 20:00 UTC on Mar 2 is 01:30 IST on Mar 3
	utc := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	if got := cal.TradingDate(utc); got != "2026-03-03" {
		t.Errorf("got %s, want 2026-03-03", got)
	}
}

func TestInWindow(t *testing.T) {
	cal := NSE()
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", ist(2026, 3, 2, 9, 14), false},
		{"at open", ist(2026, 3, 2, 9, 15), true},
		{"midday", ist(2026, 3, 2, 12, 0), true},
		{"at close", ist(2026, 3, 2, 15, 30), false},
		{"saturday", ist(2026, 3, 7, 11, 0), false},
		{"ambedkar jayanti", ist(2026, 4, 14, 11, 0), false},
	}
	for _, tc := range cases {
		if got := cal.InWindow(tc.t); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWeekdayMask(t *testing.T) {
	var wd [7]bool
	wd[time.Saturday] = true
	cal := NewCalendar(IST, 10*60, 11*60, wd, nil)
	if !cal.InWindow(ist(2026, 3, 7, 10, 30)) {
		t.Error("saturday should be enabled")
	}
	if cal.InWindow(ist(2026, 3, 2, 10, 30)) {
		t.Error("monday should be disabled")
	}
}

func TestNextOpen_SkipsWeekendAndHoliday(t *testing.T) {
	cal := NSE()
	// Thu Apr 9 after close -> Fri Apr 10 is Good Friday -> Mon Apr 13
	got := cal.NextOpen(ist(2026, 4, 9, 16, 0))
	if want := ist(2026, 4, 13, 9, 15); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNextOpen_BeforeOpenIsToday(t *testing.T) {
	cal := NSE()
	got := cal.NextOpen(ist(2026, 3, 2, 8, 0))
	if want := ist(2026, 3, 2, 9, 15); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStatusString(t *testing.T) {
	cal := NSE()
	if s := cal.StatusString(ist(2026, 3, 2, 15, 0)); !strings.HasPrefix(s, "Market Open") {
		t.Errorf("open status: %q", s)
	}
	if s := cal.StatusString(ist(2026, 3, 7, 15, 0)); !strings.Contains(s, "Mon 09:15") {
		t.Errorf("closed status: %q", s)
	}
}

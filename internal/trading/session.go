// Package trading replays validated strategies over historical bars and
// produces sealed backtest runs.
package trading

import (
	"fmt"
	"sort"
	"time"

	"strategy-backtester/internal/models"
	"strategy-backtester/pkg/utils"
)

const dateLayout = "2006-01-02"

// Calendar knows the exchange timezone and its market holidays.
type Calendar struct {
	location *time.Location
	holidays map[string]bool // date key -> is holiday
}

// NewCalendar creates a calendar for loc. A nil loc means IST.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = utils.IndiaLocation
	}
	return &Calendar{
		location: loc,
		holidays: make(map[string]bool),
	}
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// AddHoliday adds a market holiday.
func (c *Calendar) AddHoliday(date time.Time) {
	c.holidays[utils.DateKey(date, c.location)] = true
}

// AddHolidays parses YYYY-MM-DD dates and adds them.
func (c *Calendar) AddHolidays(dates []string) error {
	for _, d := range dates {
		t, err := time.ParseInLocation(dateLayout, d, c.location)
		if err != nil {
			return fmt.Errorf("holiday %q: %w", d, err)
		}
		c.AddHoliday(t)
	}
	return nil
}

// IsHoliday checks if a date is a market holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[utils.DateKey(t, c.location)]
}

// IsTradingDay reports whether t falls on an enabled weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time, days models.TradingDays) bool {
	t = t.In(c.location)
	return days.Active(t) && !c.IsHoliday(t)
}

// Holidays returns the configured holidays in date order.
func (c *Calendar) Holidays() []string {
	out := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// SessionCount counts trading days in [from, to] for the given weekday set.
func (c *Calendar) SessionCount(from, to time.Time, days models.TradingDays) int {
	from, to = from.In(c.location), to.In(c.location)
	n := 0
	for d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, c.location); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d, days) {
			n++
		}
	}
	return n
}

// Uncovered returns the leading or trailing part of [from, to] that bars do
// not reach, judged by trading date rather than by bar. The leading gap wins
// when both ends are short. Empty bars are the caller's concern.
func (c *Calendar) Uncovered(bars []models.Candle, from, to time.Time, days models.TradingDays) (gapFrom, gapTo time.Time, uncovered bool) {
	if len(bars) == 0 || from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	if c.SessionCount(from, c.midnight(first).Add(-time.Nanosecond), days) > 0 {
		return from, first, true
	}
	if c.SessionCount(c.midnight(last).AddDate(0, 0, 1), to, days) > 0 {
		return last, to, true
	}
	return time.Time{}, time.Time{}, false
}

func (c *Calendar) midnight(t time.Time) time.Time {
	t = t.In(c.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.location)
}

// Package models provides domain models for the strategy backtester.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	BFO Exchange = "BFO"
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideSell {
		return OrderSideBuy
	}
	return OrderSideSell
}

// ParseOrderSide parses BUY/SELL case-insensitively.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "LONG":
		return OrderSideBuy, nil
	case "SELL", "S", "SHORT":
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp" csv:"timestamp"`
	Open      float64   `json:"open" csv:"open"`
	High      float64   `json:"high" csv:"high"`
	Low       float64   `json:"low" csv:"low"`
	Close     float64   `json:"close" csv:"close"`
	Volume    int64     `json:"volume" csv:"volume"`
}

// Period is a closed historical window.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies inside the period (inclusive).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && !t.After(p.To)
}

// String formats the period as from..to dates.
func (p Period) String() string {
	return p.From.Format("2006-01-02") + ".." + p.To.Format("2006-01-02")
}

// TimeOfDay is a wall-clock time in seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	h, m, s := int(t)/3600, (int(t)%3600)/60, int(t)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// TradingDays is the fixed set of active weekdays, indexed Monday=0 .. Sunday=6.
type TradingDays [7]bool

// Weekdays is Monday to Friday.
var Weekdays = TradingDays{true, true, true, true, true, false, false}

var dayNames = [7]string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

// DayIndex maps a time.Weekday to the Monday-first index.
func DayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Active reports whether the weekday of t is enabled.
func (d TradingDays) Active(t time.Time) bool {
	return d[DayIndex(t.Weekday())]
}

// Count returns the number of enabled days.
func (d TradingDays) Count() int {
	n := 0
	for _, on := range d {
		if on {
			n++
		}
	}
	return n
}

// Names returns the enabled day names in week order.
func (d TradingDays) Names() []string {
	var out []string
	for i, on := range d {
		if on {
			out = append(out, dayNames[i])
		}
	}
	return out
}

// ParseDayName maps "mon", "Monday", "MON" etc to its Monday-first index.
func ParseDayName(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) >= 3 {
		for i, n := range dayNames {
			if strings.HasPrefix(s, n) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown trading day %q", s)
}

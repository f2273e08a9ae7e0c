package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"strategy-backtester/pkg/utils"
)

var volumeUnits = []struct {
	size   float64
	suffix string
}{
	{1e7, "Cr"},
	{1e5, "L"},
	{1e3, "K"},
}

// FormatVolume abbreviates counts with Indian units: 12.50 L, 1.02 Cr.
func FormatVolume(volume int64) string {
	for _, u := range volumeUnits {
		if float64(volume) >= u.size {
			return fmt.Sprintf("%.2f %s", float64(volume)/u.size, u.suffix)
		}
	}
	return strconv.FormatInt(volume, 10)
}

// FormatPrice keeps four decimals for prices under ₹10 in magnitude.
func FormatPrice(price float64) string {
	prec := 2
	if price > -10 && price < 10 {
		prec = 4
	}
	return strconv.FormatFloat(price, 'f', prec, 64)
}

func marketTime(t time.Time, layout string) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format(layout)
}

// FormatDate and FormatDateTime print in exchange time; zero prints "-".
func FormatDate(t time.Time) string     { return marketTime(t, "02-Jan-2006") }
func FormatDateTime(t time.Time) string { return marketTime(t, "02-Jan-2006 15:04") }

// FormatDuration prints the two most significant units, e.g. 3h 12m.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d/time.Minute), int(d%time.Minute/time.Second))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	}
	day := 24 * time.Hour
	return fmt.Sprintf("%dd %dh", int(d/day), int(d%day/time.Hour))
}

// FormatRatio prints an optional ratio such as Sharpe; nil prints "n/a".
func FormatRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// FormatWinRate formats a win rate already expressed in percent.
func FormatWinRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}

// TruncateString cuts s to maxLen bytes, ending in "..." when there is room.
func TruncateString(s string, maxLen int) string {
	switch {
	case len(s) <= maxLen:
		return s
	case maxLen <= 3:
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ShortID keeps the first block of a UUID for table display.
func ShortID(id string) string {
	if head, _, ok := strings.Cut(id, "-"); ok && head != "" {
		return head
	}
	return TruncateString(id, 8)
}

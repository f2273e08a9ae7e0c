// Package utils holds small helpers shared by the command line and the
// report writers.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatIndianCurrency renders an amount in rupees with lakh/crore digit
// grouping and two decimals, e.g. ₹12,34,567.89.
func FormatIndianCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole, frac, _ := strings.Cut(strconv.FormatFloat(amount, 'f', 2, 64), ".")
	return sign + "₹" + groupIndian(whole) + "." + frac
}

// groupIndian inserts separators after the last three digits and then every
// two digits, the way amounts are written in India.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var b strings.Builder
	lead := len(head) % 2
	if lead > 0 {
		b.WriteString(head[:lead])
	}
	for i := lead; i < len(head); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}

// FormatPercent prints a percentage with two decimals, signed when positive.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("%+.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatPnL is FormatIndianCurrency with an explicit plus for gains.
func FormatPnL(pnl float64) string {
	if pnl > 0 {
		return "+" + FormatIndianCurrency(pnl)
	}
	return FormatIndianCurrency(pnl)
}

// Package cli provides the command-line interface for the backtester.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"strategy-backtester/pkg/utils"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	if color.NoColor {
		return false
	}
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// paint renders text with attrs when colour is enabled.
func (o *Output) paint(text string, attrs ...color.Attribute) string {
	if !o.colorEnabled {
		return text
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(text)
}

func (o *Output) styled(attr color.Attribute) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		fmt.Fprintln(o.writer, o.paint(fmt.Sprintf(format, args...), attr))
	}
}

// Status lines. Each prints one formatted line in its colour.
func (o *Output) Success(format string, args ...interface{}) { o.styled(color.FgGreen)(format, args...) }
func (o *Output) Error(format string, args ...interface{})   { o.styled(color.FgRed)(format, args...) }
func (o *Output) Warning(format string, args ...interface{}) { o.styled(color.FgYellow)(format, args...) }
func (o *Output) Info(format string, args ...interface{})    { o.styled(color.FgCyan)(format, args...) }
func (o *Output) Bold(format string, args ...interface{})    { o.styled(color.Bold)(format, args...) }
func (o *Output) Dim(format string, args ...interface{})     { o.styled(color.Faint)(format, args...) }

func (o *Output) Green(text string) string  { return o.paint(text, color.FgGreen) }
func (o *Output) Red(text string) string    { return o.paint(text, color.FgRed) }
func (o *Output) Yellow(text string) string { return o.paint(text, color.FgYellow) }

// pnlColor returns the appropriate color for P&L.
func pnlColor(pnl float64) color.Attribute {
	switch {
	case pnl > 0:
		return color.FgGreen
	case pnl < 0:
		return color.FgRed
	}
	return color.FgWhite
}

// FormatPnL formats P&L with color.
func (o *Output) FormatPnL(pnl float64) string {
	return o.paint(utils.FormatPnL(pnl), pnlColor(pnl))
}

// FormatPercent formats percentage with color.
func (o *Output) FormatPercent(pct float64) string {
	return o.paint(utils.FormatPercent(pct), pnlColor(pct))
}

// Table buffers rows and prints them with columns padded to the widest
// visible cell.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
}

func NewTable(output *Output, headers ...string) *Table {
	return &Table{out: output, headers: headers}
}

// AddRow appends a row. Cells past the header count are dropped on render.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visibleLen(row[i]))
		}
	}

	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	t.out.Println(t.format(t.headers, widths, color.Bold))
	t.out.Println(t.out.paint(strings.Join(rules, "──"), color.Faint))
	for _, row := range t.rows {
		t.out.Println(t.format(row, widths))
	}
}

func (t *Table) format(cells []string, widths []int, attrs ...color.Attribute) string {
	var b strings.Builder
	for i := 0; i < len(cells) && i < len(widths); i++ {
		if i > 0 {
			b.WriteString("  ")
		}
		cell := cells[i] + strings.Repeat(" ", max(0, widths[i]-visibleLen(cells[i])))
		if len(attrs) > 0 {
			cell = t.out.paint(cell, attrs...)
		}
		b.WriteString(cell)
	}
	return strings.TrimRight(b.String(), " ")
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleLen is the printed width of s, ignoring colour codes.
func visibleLen(s string) int {
	return len([]rune(ansiPattern.ReplaceAllString(s, "")))
}

// Box draws a box around content.
func (o *Output) Box(title string, content []string) {
	width := visibleLen(title)
	for _, line := range content {
		width = max(width, visibleLen(line))
	}
	border := strings.Repeat("─", width+2)

	o.Printf("┌%s┐\n", border)
	o.Printf("│ %s%s │\n", o.paint(title, color.Bold), strings.Repeat(" ", width-visibleLen(title)))
	o.Printf("├%s┤\n", border)
	for _, line := range content {
		o.Printf("│ %s%s │\n", line, strings.Repeat(" ", width-visibleLen(line)))
	}
	o.Printf("└%s┘\n", border)
}

// Progress prints a progress indicator.
func (o *Output) Progress(current, total int, message string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	barWidth := 30
	filled := barWidth * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	o.Printf("\r%s [%s] %.0f%% ", message, bar, pct)
	if current == total {
		o.Println()
	}
}

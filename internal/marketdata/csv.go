package marketdata

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"strategy-backtester/internal/models"
)

// csvBar is one row of a bar export: timestamp,open,high,low,close,volume.
type csvBar struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

var csvLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseBarTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReadCSV parses bars from r. Timestamps without a zone are read in loc.
// Rows are sorted by time; duplicate timestamps and inconsistent OHLC values
// are rejected.
func ReadCSV(r io.Reader, loc *time.Location) ([]models.Candle, error) {
	var rows []*csvBar
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseBarTime(row.Timestamp, loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		c := models.Candle{Timestamp: ts, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume}
		if c.High < c.Low || c.Close <= 0 || c.Open <= 0 {
			return nil, fmt.Errorf("row %d: inconsistent OHLC %.2f/%.2f/%.2f/%.2f", i+1, c.Open, c.High, c.Low, c.Close)
		}
		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	if err := CheckOrdered(candles); err != nil {
		return nil, fmt.Errorf("duplicate timestamps: %w", err)
	}
	return candles, nil
}

// WriteCSV writes bars in the format ReadCSV accepts.
func WriteCSV(w io.Writer, candles []models.Candle) error {
	rows := make([]*csvBar, len(candles))
	for i, c := range candles {
		rows[i] = &csvBar{
			Timestamp: c.Timestamp.Format(time.RFC3339),
			Open:      c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		}
	}
	return gocsv.Marshal(rows, w)
}

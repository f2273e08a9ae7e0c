package indicators

import (
	"strategy-backtester/internal/models"
)

// VWAP calculates the session Volume Weighted Average Price. It resets at the
// first candle of every calendar date, in the candles' own location.
type VWAP struct{}

// NewVWAP creates a new VWAP indicator.
func NewVWAP() *VWAP {
	return &VWAP{}
}

func (v *VWAP) Name() string {
	return "VWAP"
}

func (v *VWAP) Period() int {
	return 1
}

func (v *VWAP) Calculate(candles []models.Candle) (Line, error) {
	if len(candles) == 0 {
		return Line{}, ErrInsufficientData
	}

	result := make([]float64, len(candles))
	var cumulativeTPV, cumulativeVol float64
	y, m, d := candles[0].Timestamp.Date()

	for i, c := range candles {
		if cy, cm, cd := c.Timestamp.Date(); cy != y || cm != m || cd != d {
			y, m, d = cy, cm, cd
			cumulativeTPV, cumulativeVol = 0, 0
		}
		tp := typicalPrice(c)
		cumulativeTPV += tp * float64(c.Volume)
		cumulativeVol += float64(c.Volume)

		if cumulativeVol != 0 {
			result[i] = cumulativeTPV / cumulativeVol
		} else {
			result[i] = tp
		}
	}

	return Line{Values: result, Start: 0}, nil
}

// Field is a raw candle field.
type Field int

const (
	FieldOpen Field = iota
	FieldHigh
	FieldLow
	FieldClose
	FieldVolume
)

// Price exposes a raw candle field as a line, so conditions can compare
// price against an indicator.
type Price struct {
	field Field
}

// NewPrice creates a raw field line.
func NewPrice(f Field) *Price {
	return &Price{field: f}
}

func (p *Price) Name() string {
	return [...]string{"OPEN", "HIGH", "LOW", "CLOSE", "VOLUME"}[p.field]
}

func (p *Price) Period() int {
	return 1
}

func (p *Price) Calculate(candles []models.Candle) (Line, error) {
	if len(candles) == 0 {
		return Line{}, ErrInsufficientData
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		switch p.field {
		case FieldOpen:
			out[i] = c.Open
		case FieldHigh:
			out[i] = c.High
		case FieldLow:
			out[i] = c.Low
		case FieldVolume:
			out[i] = float64(c.Volume)
		default:
			out[i] = c.Close
		}
	}
	return Line{Values: out, Start: 0}, nil
}

package indicators

import (
	"errors"
	"fmt"
	"math"

	"strategy-backtester/internal/models"
)

var (
	ErrInsufficientData = errors.New("insufficient data for calculation")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrUnknownIndicator = errors.New("unknown indicator")
)

// windowed carries the lookback shared by the single-period indicators and
// names them LABEL_period.
type windowed struct {
	label  string
	period int
}

func (w windowed) Name() string { return fmt.Sprintf("%s_%d", w.label, w.period) }

func (w windowed) Period() int { return w.period }

// require validates the period and that at least need candles are present.
func (w windowed) require(candles []models.Candle, need int) error {
	if w.period <= 0 {
		return ErrInvalidPeriod
	}
	if len(candles) < need {
		return ErrInsufficientData
	}
	return nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func trueRange(cur, prev models.Candle) float64 {
	return max(cur.High-cur.Low, math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close))
}

func typicalPrice(c models.Candle) float64 {
	return (c.High + c.Low + c.Close) / 3
}

func closePrices(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

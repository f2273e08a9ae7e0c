package indicators

import (
	"fmt"

	"strategy-backtester/internal/models"
)

// SMA is the simple moving average of closes.
type SMA struct{ windowed }

func NewSMA(period int) *SMA { return &SMA{windowed{"SMA", period}} }

func (s *SMA) Calculate(candles []models.Candle) (Line, error) {
	if err := s.require(candles, s.period); err != nil {
		return Line{}, err
	}
	closes := closePrices(candles)
	out := make([]float64, len(closes))
	var window float64
	for i, c := range closes {
		window += c
		if i >= s.period {
			window -= closes[i-s.period]
		}
		if i >= s.period-1 {
			out[i] = window / float64(s.period)
		}
	}
	return Line{Values: out, Start: s.period - 1}, nil
}

// EMA is the exponential moving average of closes, seeded with the SMA of
// the first period bars.
type EMA struct{ windowed }

func NewEMA(period int) *EMA { return &EMA{windowed{"EMA", period}} }

func (e *EMA) Calculate(candles []models.Candle) (Line, error) {
	if err := e.require(candles, e.period); err != nil {
		return Line{}, err
	}
	return Line{Values: CalculateEMA(closePrices(candles), e.period), Start: e.period - 1}, nil
}

// CalculateEMA smooths raw values. It returns nil when there are fewer
// values than period.
func CalculateEMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2 / float64(period+1)
	out := make([]float64, len(values))
	out[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		out[i] = out[i-1] + k*(values[i]-out[i-1])
	}
	return out
}

// MACDOutput selects which MACD line is returned.
type MACDOutput int

const (
	MACDLine MACDOutput = iota
	MACDSignal
	MACDHistogram
)

// MACD is the fast/slow EMA spread, its signal EMA, or their difference.
type MACD struct {
	fast, slow, signal int
	output             MACDOutput
}

func NewMACD(fast, slow, signal int, output MACDOutput) *MACD {
	return &MACD{fast: fast, slow: slow, signal: signal, output: output}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d/%d", m.fast, m.slow, m.signal, m.output)
}

// Period is the bars needed before the signal line has a value.
func (m *MACD) Period() int { return m.slow + m.signal - 1 }

func (m *MACD) Calculate(candles []models.Candle) (Line, error) {
	if m.fast <= 0 || m.slow <= 0 || m.signal <= 0 || m.fast >= m.slow {
		return Line{}, ErrInvalidPeriod
	}
	need := m.Period()
	if m.output == MACDLine {
		need = m.slow
	}
	if len(candles) < need {
		return Line{}, ErrInsufficientData
	}

	n := len(candles)
	closes := closePrices(candles)
	fastEMA, slowEMA := CalculateEMA(closes, m.fast), CalculateEMA(closes, m.slow)

	lineStart := m.slow - 1
	spread := make([]float64, n)
	for i := lineStart; i < n; i++ {
		spread[i] = fastEMA[i] - slowEMA[i]
	}
	if m.output == MACDLine {
		return Line{Values: spread, Start: lineStart}, nil
	}

	start := m.Period() - 1
	signal := make([]float64, n)
	smoothed := CalculateEMA(spread[lineStart:], m.signal)
	copy(signal[start:], smoothed[m.signal-1:])
	if m.output == MACDSignal {
		return Line{Values: signal, Start: start}, nil
	}

	hist := make([]float64, n)
	for i := start; i < n; i++ {
		hist[i] = spread[i] - signal[i]
	}
	return Line{Values: hist, Start: start}, nil
}

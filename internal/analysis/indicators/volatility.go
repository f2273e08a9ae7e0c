package indicators

import (
	"fmt"

	"strategy-backtester/internal/models"
)

// ATR is the average true range with Wilder smoothing. The first bar's
// range is its high minus low.
type ATR struct{ windowed }

func NewATR(period int) *ATR { return &ATR{windowed{"ATR", period}} }

func (a *ATR) Calculate(candles []models.Candle) (Line, error) {
	if err := a.require(candles, a.period+1); err != nil {
		return Line{}, err
	}

	n, p := len(candles), float64(a.period)
	ranges := make([]float64, n)
	ranges[0] = candles[0].High - candles[0].Low
	for i := 1; i < n; i++ {
		ranges[i] = trueRange(candles[i], candles[i-1])
	}

	out := make([]float64, n)
	out[a.period-1] = mean(ranges[:a.period])
	for i := a.period; i < n; i++ {
		out[i] = (out[i-1]*(p-1) + ranges[i]) / p
	}
	return Line{Values: out, Start: a.period - 1}, nil
}

// Band selects a Bollinger band.
type Band int

const (
	BandUpper Band = iota
	BandMiddle
	BandLower
)

// BollingerBands is one band of an SMA envelope k deviations wide.
type BollingerBands struct {
	windowed
	k    float64
	band Band
}

func NewBollingerBands(period int, k float64, band Band) *BollingerBands {
	return &BollingerBands{windowed: windowed{"BB", period}, k: k, band: band}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%.1f/%d", b.period, b.k, b.band)
}

func (b *BollingerBands) Calculate(candles []models.Candle) (Line, error) {
	if b.k <= 0 {
		return Line{}, ErrInvalidPeriod
	}
	if err := b.require(candles, b.period); err != nil {
		return Line{}, err
	}

	var sign float64
	switch b.band {
	case BandUpper:
		sign = 1
	case BandLower:
		sign = -1
	}

	closes := closePrices(candles)
	out := make([]float64, len(closes))
	for i := b.period - 1; i < len(closes); i++ {
		window := closes[i+1-b.period : i+1]
		out[i] = mean(window)
		if sign != 0 {
			out[i] += sign * b.k * stdDev(window)
		}
	}
	return Line{Values: out, Start: b.period - 1}, nil
}

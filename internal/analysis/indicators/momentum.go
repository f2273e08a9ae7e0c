package indicators

import (
	"strategy-backtester/internal/models"
)

// RSI is the relative strength index with Wilder smoothing. A flat window
// reads 50 and a window without losses reads 100.
type RSI struct{ windowed }

func NewRSI(period int) *RSI { return &RSI{windowed{"RSI", period}} }

func (r *RSI) Calculate(candles []models.Candle) (Line, error) {
	if err := r.require(candles, r.period+1); err != nil {
		return Line{}, err
	}

	n, p := len(candles), float64(r.period)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 1; i < n; i++ {
		if d := candles[i].Close - candles[i-1].Close; d > 0 {
			up[i] = d
		} else {
			down[i] = -d
		}
	}

	out := make([]float64, n)
	gain, loss := mean(up[1:r.period+1]), mean(down[1:r.period+1])
	out[r.period] = relativeStrength(gain, loss)
	for i := r.period + 1; i < n; i++ {
		gain = (gain*(p-1) + up[i]) / p
		loss = (loss*(p-1) + down[i]) / p
		out[i] = relativeStrength(gain, loss)
	}
	return Line{Values: out, Start: r.period}, nil
}

func relativeStrength(gain, loss float64) float64 {
	switch {
	case loss == 0 && gain == 0:
		return 50
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// ROC is the percentage change of the close over period bars. A zero base
// close yields 0.
type ROC struct{ windowed }

func NewROC(period int) *ROC { return &ROC{windowed{"ROC", period}} }

func (r *ROC) Calculate(candles []models.Candle) (Line, error) {
	if err := r.require(candles, r.period+1); err != nil {
		return Line{}, err
	}
	out := make([]float64, len(candles))
	for i := r.period; i < len(candles); i++ {
		if base := candles[i-r.period].Close; base != 0 {
			out[i] = (candles[i].Close/base - 1) * 100
		}
	}
	return Line{Values: out, Start: r.period}, nil
}

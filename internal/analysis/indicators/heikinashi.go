package indicators

import (
	"strategy-backtester/internal/models"
)

// HeikinAshi transforms candles into Heikin-Ashi candles. The first HA open is
// the midpoint of the first real candle's open and close.
func HeikinAshi(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, len(candles))
	for i, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4
		var haOpen float64
		if i == 0 {
			haOpen = (c.Open + c.Close) / 2
		} else {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}
		out[i] = models.Candle{
			Timestamp: c.Timestamp,
			Open:      haOpen,
			High:      max(c.High, haOpen, haClose),
			Low:       min(c.Low, haOpen, haClose),
			Close:     haClose,
			Volume:    c.Volume,
		}
	}
	return out
}

// Transform applies the chart type to candles before indicators are computed.
func Transform(chart models.ChartType, candles []models.Candle) []models.Candle {
	if chart == models.ChartHeikinAshi {
		return HeikinAshi(candles)
	}
	return candles
}

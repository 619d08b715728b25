// Package volatility computes True Range, Average True Range and the
// ATR-derived stop/target levels. Every function here is pure.
package volatility

import (
	"math"

	"intraday-signals/internal/model"
)

// FallbackMultiplier scales the last candle's range when the series is too
// short for a real ATR.
const FallbackMultiplier = 1.5

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c model.Candle, previousClose float64) float64 {
	return math.Max(
		c.High-c.Low,
		math.Max(math.Abs(c.High-previousClose), math.Abs(c.Low-previousClose)),
	)
}

// TrueRanges returns one value per adjacent pair: the second candle's
// high/low against the first candle's close. len(out) == len(series)-1.
func TrueRanges(series []model.Candle) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		out = append(out, TrueRange(series[i], series[i-1].Close))
	}
	return out
}

// AverageTrueRange is the arithmetic mean of the most recent period True
// Range values. With fewer than period+1 candles it falls back to
// 1.5 * (last.High - last.Low); an empty series yields 0.
func AverageTrueRange(series []model.Candle, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period <= 0 || len(series) < period+1 {
		return fallback(series)
	}
	trs := TrueRanges(series)
	recent := trs[len(trs)-period:]
	sum := 0.0
	for _, tr := range recent {
		sum += tr
	}
	return sum / float64(period)
}

// ExponentialAverageTrueRange applies Wilder smoothing: the seed is the
// mean of the first period True Ranges, then each later value folds in as
// atr = tr/period + atr*(1-1/period). Short series delegate to
// AverageTrueRange.
func ExponentialAverageTrueRange(series []model.Candle, period int) float64 {
	if period <= 0 || len(series) < period+1 {
		return AverageTrueRange(series, period)
	}
	w := newWilder(period)
	for _, tr := range TrueRanges(series) {
		w.Update(tr)
	}
	return w.Value()
}

func fallback(series []model.Candle) float64 {
	return series[len(series)-1].Range() * FallbackMultiplier
}

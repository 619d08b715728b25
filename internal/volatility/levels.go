package volatility

import "math"

// Levels are the ATR-derived exits for one entry.
type Levels struct {
	StopLoss float64   `json:"stopLoss"`
	Targets  []float64 `json:"targets"`
	Risk     float64   `json:"risk"`
	Rewards  []float64 `json:"rewards"`
}

// ComputeLevels places the stop slMultiplier ATRs against the trade and one
// target per multiplier in its favour.
func ComputeLevels(entryPrice, atr, slMultiplier float64, targetMultipliers []float64, isBuy bool) Levels {
	dir := 1.0
	if !isBuy {
		dir = -1.0
	}
	lv := Levels{
		StopLoss: entryPrice - dir*atr*slMultiplier,
		Targets:  make([]float64, len(targetMultipliers)),
		Rewards:  make([]float64, len(targetMultipliers)),
	}
	lv.Risk = math.Abs(entryPrice - lv.StopLoss)
	for i, m := range targetMultipliers {
		lv.Targets[i] = entryPrice + dir*atr*m
		lv.Rewards[i] = math.Abs(lv.Targets[i] - entryPrice)
	}
	return lv
}

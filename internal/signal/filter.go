package signal

import (
	"strings"

	"intraday-signals/internal/model"
)

// FilterByType narrows signals to one direction. "bullish"/"buy" keeps BUY,
// "bearish"/"sell" keeps SELL, anything else returns the input unchanged.
func FilterByType(signals []model.Signal, kind string) []model.Signal {
	var want model.SignalType
	switch strings.ToLower(kind) {
	case "bullish", "buy":
		want = model.SignalBuy
	case "bearish", "sell":
		want = model.SignalSell
	default:
		return signals
	}
	out := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		if s.SignalType == want {
			out = append(out, s)
		}
	}
	return out
}

// FindBySymbol looks a symbol up case-insensitively.
func FindBySymbol(signals []model.Signal, symbol string) (model.Signal, bool) {
	for _, s := range signals {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, true
		}
	}
	return model.Signal{}, false
}

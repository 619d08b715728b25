package notification

import (
	"fmt"
	"strings"

	"intraday-signals/internal/model"
)

// Format renders an intent as a user-facing alert.
func Format(in model.AlertIntent) Alert {
	a := Alert{
		ID:          in.ID,
		Kind:        in.Kind,
		Symbol:      in.Symbol,
		TradingDate: in.TradingDate,
		Tag:         strings.ToLower(strings.ReplaceAll(string(in.Kind), "_", "-")) + "-" + in.Symbol,
		Data:        in.Payload,
		CreatedAt:   in.CreatedAt,
	}
	p := in.Payload
	switch in.Kind {
	case model.AlertBuy:
		a.Level = AlertInfo
		a.Title = "BUY Signal: " + in.Symbol
		a.Message = fmt.Sprintf("Up %.2f%% from open!\nPrice: %.2f | Exit alert at: %.2f",
			num(p, "changePercent"), num(p, "price"), num(p, "exitWarningLevel"))
	case model.AlertExitWarning:
		a.Level = AlertWarning
		a.Title = "EXIT WARNING: " + in.Symbol
		a.Message = fmt.Sprintf("Price falling! Now: %.2f\nPeak: %.2f (down %.2f%%)\nExit level: %.2f",
			num(p, "currentPrice"), num(p, "peakPrice"), num(p, "dropFromPeak"), num(p, "exitWarningLevel"))
	case model.AlertExitNow:
		a.Level = AlertCritical
		a.Title = "EXIT NOW: " + in.Symbol
		a.Message = fmt.Sprintf("Price at exit level: %.2f\nEntry: %.2f | Exit at: %.2f",
			num(p, "currentPrice"), num(p, "entryPrice"), num(p, "exitWarningLevel"))
	case model.AlertStopLossHit:
		a.Level = AlertCritical
		a.Title = "STOP LOSS HIT: " + in.Symbol
		a.Message = fmt.Sprintf("Price %.2f breached stop %.2f\nEntry: %.2f (down %.2f%%)",
			num(p, "currentPrice"), num(p, "stopLoss"), num(p, "entryPrice"), num(p, "lossFromEntry"))
	default:
		a.Level = AlertInfo
		a.Title = string(in.Kind) + ": " + in.Symbol
	}
	return a
}

func num(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

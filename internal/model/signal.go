package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// SignalType is the direction of a signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// RiskReward is a reward/risk ratio that may be undefined (zero risk).
// An undefined ratio marshals to JSON null and never carries NaN or Inf.
type RiskReward struct {
	Value   float64
	Defined bool
}

// UndefinedRatio is the marker for a zero-risk signal.
var UndefinedRatio = RiskReward{}

// NewRiskReward returns reward/risk rounded to two decimals, or
// UndefinedRatio when the ratio cannot be computed.
func NewRiskReward(reward, risk float64) RiskReward {
	if risk == 0 || math.IsNaN(risk) || math.IsNaN(reward) || math.IsInf(reward, 0) {
		return UndefinedRatio
	}
	v := Round2(reward / risk)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return UndefinedRatio
	}
	return RiskReward{Value: v, Defined: true}
}

// String renders the ratio the way the dashboard shows it ("1:2.00").
func (r RiskReward) String() string {
	if !r.Defined {
		return "undefined"
	}
	return "1:" + strconv.FormatFloat(r.Value, 'f', 2, 64)
}

func (r RiskReward) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *RiskReward) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*r = UndefinedRatio
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = RiskReward{Value: v, Defined: true}
	return nil
}

// Signal is an immutable trade idea produced once per tick per symbol.
type Signal struct {
	Symbol        string     `json:"symbol"`
	CompanyName   string     `json:"companyName"`
	SignalType    SignalType `json:"signalType"`
	EntryPrice    float64    `json:"entryPrice"`
	StopLoss      float64    `json:"stopLoss"`
	Target1       float64    `json:"target1"`
	Target2       float64    `json:"target2"`
	ATR           float64    `json:"atr"`
	ChangePercent float64    `json:"changePercent"`
	RiskReward1   RiskReward `json:"riskReward1"`
	RiskReward2   RiskReward `json:"riskReward2"`
	Timestamp     time.Time  `json:"timestamp"`

	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previousClose"`
	Volume        int64   `json:"volume"`
}

// IsBuy reports whether the signal is long.
func (s Signal) IsBuy() bool {
	return s.SignalType == SignalBuy
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

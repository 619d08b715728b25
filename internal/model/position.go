package model

import "time"

// PositionState is the per-symbol tracking state within a trading day.
type PositionState string

const (
	StateUntracked PositionState = "UNTRACKED"
	StateWatching  PositionState = "WATCHING"
	StateWarned    PositionState = "WARNED"
)

// TrackedPosition is a BUY opportunity being watched for exit.
//
// PeakPrice only rises within a trading day. ExitWarningLevel is fixed at
// creation. ExitWarningShown is cleared on every new peak.
type TrackedPosition struct {
	Symbol           string    `json:"symbol"`
	CompanyName      string    `json:"companyName"`
	EntryPrice       float64   `json:"entryPrice"`
	OpenPrice        float64   `json:"openPrice"`
	PeakPrice        float64   `json:"peakPrice"`
	StopLoss         float64   `json:"stopLoss"`
	ExitWarningLevel float64   `json:"exitWarningLevel"`
	ExitWarningShown bool      `json:"exitWarningShown"`
	WarningEpisode   int       `json:"warningEpisode"`
	LastPrice        float64   `json:"lastPrice"`
	TradingDate      string    `json:"tradingDate"`
	EntryTime        time.Time `json:"entryTime"`
}

// State derives the state machine position from the flags.
func (p *TrackedPosition) State() PositionState {
	if p == nil {
		return StateUntracked
	}
	if p.ExitWarningShown {
		return StateWarned
	}
	return StateWatching
}

package model

import "time"

// AlertKind names an alert intent.
type AlertKind string

const (
	AlertBuy         AlertKind = "BUY"
	AlertExitWarning AlertKind = "EXIT_WARNING"
	AlertExitNow     AlertKind = "EXIT_NOW"
	AlertStopLossHit AlertKind = "STOP_LOSS_HIT"
)

// AlertIntent is an alert that passed deduplication and awaits dispatch.
type AlertIntent struct {
	ID          string         `json:"id"`
	Kind        AlertKind      `json:"kind"`
	Symbol      string         `json:"symbol"`
	TradingDate string         `json:"tradingDate"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   time.Time      `json:"createdAt"`
}

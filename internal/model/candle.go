package model

import "time"

// Candle is one daily OHLC bar. Series are ordered oldest first.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
}

// Range returns High - Low.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

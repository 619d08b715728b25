package model

import "time"

// StockSnapshot is one symbol's quote for a single evaluation tick.
type StockSnapshot struct {
	Symbol        string    `json:"symbol"`
	CompanyName   string    `json:"companyName"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	PreviousClose float64   `json:"previousClose"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// PartialCandle is today's in-progress bar built from the snapshot.
func (s StockSnapshot) PartialCandle() Candle {
	return Candle{
		Date:   s.Timestamp,
		Open:   s.Open,
		High:   s.High,
		Low:    s.Low,
		Close:  s.Close,
		Volume: s.Volume,
	}
}

// ChangeFrom computes the percent change of price against base.
// Returns 0 when base is not positive.
func ChangeFrom(price, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (price - base) / base * 100
}

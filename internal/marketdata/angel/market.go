package angel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"intraday-signals/config"
	"intraday-signals/internal/model"
)

// quoteBatch is the SmartAPI limit on tokens per quote request.
const quoteBatch = 50

// Source serves snapshots and daily candles for a fixed universe.
type Source struct {
	client *Client
	loc    *time.Location

	tokens  map[string]string // symbol -> token
	symbols map[string]string // token -> symbol
	order   []string          // tokens in configured order
}

// NewSource builds a source over the given universe. Times are reported
// in loc.
func NewSource(client *Client, universe []config.UniverseEntry, loc *time.Location) *Source {
	if loc == nil {
		loc = time.UTC
	}
	s := &Source{
		client:  client,
		loc:     loc,
		tokens:  make(map[string]string, len(universe)),
		symbols: make(map[string]string, len(universe)),
	}
	for _, u := range universe {
		if _, dup := s.tokens[u.Symbol]; dup {
			continue
		}
		s.tokens[u.Symbol] = u.Token
		s.symbols[u.Token] = u.Symbol
		s.order = append(s.order, u.Token)
	}
	return s
}

type quote struct {
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"` // previous session close
	PercentChange float64 `json:"percentChange"`
	TradeVolume   int64   `json:"tradeVolume"`
}

// Snapshots fetches FULL quotes for the universe. Any failed batch fails
// the whole call.
func (s *Source) Snapshots(ctx context.Context) ([]model.StockSnapshot, error) {
	now := s.client.now().In(s.loc)
	out := make([]model.StockSnapshot, 0, len(s.order))

	for start := 0; start < len(s.order); start += quoteBatch {
		end := min(start+quoteBatch, len(s.order))
		raw, err := s.client.call(ctx, routeQuote, map[string]any{
			"mode":           "FULL",
			"exchangeTokens": map[string][]string{s.client.cfg.Exchange: s.order[start:end]},
		})
		if err != nil {
			return nil, fmt.Errorf("quote batch %d-%d: %w", start, end, err)
		}
		var data struct {
			Fetched   []quote           `json:"fetched"`
			Unfetched []json.RawMessage `json:"unfetched"`
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode quotes: %w", err)
		}
		if len(data.Unfetched) > 0 {
			log.Printf("[angel] %d tokens unfetched", len(data.Unfetched))
		}
		for _, q := range data.Fetched {
			sym, ok := s.symbols[q.SymbolToken]
			if !ok {
				continue
			}
			out = append(out, snapshotFromQuote(sym, q, now))
		}
	}
	return out, nil
}

func snapshotFromQuote(symbol string, q quote, at time.Time) model.StockSnapshot {
	chg := model.ChangeFrom(q.LTP, q.Close)
	if q.Close <= 0 {
		chg = q.PercentChange
	}
	return model.StockSnapshot{
		Symbol:        symbol,
		CompanyName:   strings.TrimSuffix(q.TradingSymbol, "-EQ"),
		Open:          q.Open,
		High:          q.High,
		Low:           q.Low,
		Close:         q.LTP,
		PreviousClose: q.Close,
		ChangePercent: chg,
		Volume:        q.TradeVolume,
		Timestamp:     at,
	}
}

// Candles returns completed daily candles for symbol, oldest first. Today's
// partial bar is excluded.
func (s *Source) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	token, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("angel: %s is not in the universe", symbol)
	}
	if err := s.client.pace(ctx); err != nil {
		return nil, err
	}

	now := s.client.now().In(s.loc)
	from := now.AddDate(0, 0, -s.client.cfg.HistoryDays)
	raw, err := s.client.call(ctx, routeCandles, map[string]any{
		"exchange":    s.client.cfg.Exchange,
		"symboltoken": token,
		"interval":    "ONE_DAY",
		"fromdate":    from.Format("2006-01-02") + " 09:15",
		"todate":      now.Format("2006-01-02 15:04"),
	})
	if err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode candles %s: %w", symbol, err)
	}
	today := now.Format("2006-01-02")
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		c, err := parseCandle(r)
		if err != nil {
			return nil, fmt.Errorf("candles %s: %w", symbol, err)
		}
		if c.Date.In(s.loc).Format("2006-01-02") == today {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// parseCandle decodes one [timestamp, open, high, low, close, volume] row.
func parseCandle(r []json.RawMessage) (model.Candle, error) {
	var c model.Candle
	if len(r) < 6 {
		return c, fmt.Errorf("short candle row (%d fields)", len(r))
	}
	var ts string
	if err := json.Unmarshal(r[0], &ts); err != nil {
		return c, fmt.Errorf("candle time: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return c, fmt.Errorf("candle time %q: %w", ts, err)
	}
	c.Date = t
	for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close} {
		if err := json.Unmarshal(r[i+1], dst); err != nil {
			return c, fmt.Errorf("candle field %d: %w", i+1, err)
		}
	}
	var vol float64
	if err := json.Unmarshal(r[5], &vol); err != nil {
		return c, fmt.Errorf("candle volume: %w", err)
	}
	c.Volume = int64(vol)
	return c, nil
}

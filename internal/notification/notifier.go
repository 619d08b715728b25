// Package notification formats alert intents and delivers them to external
// channels (log, Telegram, webhooks, Redis streams).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"intraday-signals/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	ID          string          `json:"id"`
	Kind        model.AlertKind `json:"kind"`
	Symbol      string          `json:"symbol"`
	TradingDate string          `json:"tradingDate,omitempty"`
	Level       AlertLevel      `json:"level"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Tag         string          `json:"tag"`
	Data        map[string]any  `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Intent returns the alert intent the alert was rendered from.
func (a Alert) Intent() model.AlertIntent {
	return model.AlertIntent{
		ID:          a.ID,
		Kind:        a.Kind,
		Symbol:      a.Symbol,
		TradingDate: a.TradingDate,
		Payload:     a.Data,
		CreatedAt:   a.CreatedAt,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Dispatcher fans each alert out to every configured notifier. Delivery
// failures are logged and counted but never abort the batch.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// DispatchResult counts deliveries across all backends.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatch formats and delivers every intent.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []model.AlertIntent) (DispatchResult, error) {
	var res DispatchResult
	var errs []error
	for _, in := range intents {
		a := Format(in)
		for _, n := range d.notifiers {
			if err := n.Send(ctx, a); err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("%s %s: %w", in.Kind, in.Symbol, err))
				log.Printf("[notify] delivery failed for %s %s: %v", in.Kind, in.Symbol, err)
				continue
			}
			res.Sent++
		}
	}
	return res, errors.Join(errs...)
}

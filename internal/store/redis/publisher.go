package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"intraday-signals/internal/model"
	"intraday-signals/internal/notification"

	goredis "github.com/go-redis/redis/v8"
)

// Keys and channels.
const (
	KeyLatest     = "signals:latest"
	KeyView       = "signals:view"
	ChannelUpdate = "signals:updates"
	StreamAlerts  = "signals:alerts"

	alertsMaxLen     = 5000
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr       string // Redis address, e.g. "localhost:6379"
	Password   string
	DB         int
	LatestTTL  time.Duration
	MaxRetries int // passed to the client; -1 disables retries
}

// Publisher caches the latest signals and view in Redis, announces them on
// a pub/sub channel and appends alerts to a capped stream. Every write goes
// through a circuit breaker so an unreachable Redis costs one fast error per
// tick instead of a timeout.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	ttl    time.Duration
}

// LatestPayload is the JSON stored under KeyLatest.
type LatestPayload struct {
	TradingDate string         `json:"tradingDate"`
	Count       int            `json:"count"`
	Signals     []model.Signal `json:"signals"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// update is the message published on ChannelUpdate.
type update struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// New creates a publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	p := NewPublisher(goredis.NewClient(&goredis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
	}), cfg.LatestTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		p.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// NewPublisher wraps an existing client without pinging it.
func NewPublisher(client *goredis.Client, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	cb := NewCircuitBreaker(3, 30*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
	}
	return &Publisher{client: client, cb: cb, ttl: ttl}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state for health reporting.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishSignals caches a tick's signal batch and announces it.
func (p *Publisher) PublishSignals(ctx context.Context, tradingDate string, signals []model.Signal) error {
	if signals == nil {
		signals = []model.Signal{}
	}
	data, err := json.Marshal(LatestPayload{
		TradingDate: tradingDate,
		Count:       len(signals),
		Signals:     signals,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	return p.setAndPublish(ctx, KeyLatest, "signals", data)
}

// PublishView caches an encoded engine view and announces it.
func (p *Publisher) PublishView(ctx context.Context, view []byte) error {
	return p.setAndPublish(ctx, KeyView, "view", view)
}

func (p *Publisher) setAndPublish(ctx context.Context, key, kind string, data []byte) error {
	msg, err := json.Marshal(update{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, key, data, p.ttl)
		pipe.Publish(ctx, ChannelUpdate, msg)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish %s: %w", kind, err)
		}
		return nil
	})
}

// Latest reads the cached signal batch. It returns (nil, nil) when the key
// has expired or was never written.
func (p *Publisher) Latest(ctx context.Context) (*LatestPayload, error) {
	var raw []byte
	err := p.cb.Execute(func() error {
		var err error
		raw, err = p.client.Get(ctx, KeyLatest).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", KeyLatest, err)
	}
	if raw == nil {
		return nil, nil
	}
	var out LatestPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", KeyLatest, err)
	}
	return &out, nil
}

// Send appends a formatted alert to the alerts stream. It satisfies
// notification.Notifier.
func (p *Publisher) Send(ctx context.Context, alert notification.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return p.cb.Execute(func() error {
		err := p.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamAlerts,
			MaxLen: alertsMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"kind":   string(alert.Kind),
				"symbol": alert.Symbol,
				"data":   string(data),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("redis xadd %s: %w", StreamAlerts, err)
		}
		return nil
	})
}

// RecentAlerts returns up to n alerts from the stream, newest first.
func (p *Publisher) RecentAlerts(ctx context.Context, n int64) ([]notification.Alert, error) {
	if n <= 0 {
		n = 50
	}
	var msgs []goredis.XMessage
	err := p.cb.Execute(func() error {
		var err error
		msgs, err = p.client.XRevRangeN(ctx, StreamAlerts, "+", "-", n).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", StreamAlerts, err)
	}
	return decodeAlerts(msgs), nil
}

func decodeAlerts(msgs []goredis.XMessage) []notification.Alert {
	out := make([]notification.Alert, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var a notification.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			log.Printf("[redis] skipping malformed alert %s: %v", m.ID, err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

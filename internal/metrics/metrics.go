// Package metrics exposes Prometheus metrics and the health report for the
// signal engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signals"

// Metrics holds all Prometheus metrics for the signal engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal       *prometheus.CounterVec // labels: status
	TickDuration     prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: type
	SignalsCurrent   prometheus.Gauge
	OmissionsTotal   prometheus.Counter
	AlertsTotal      *prometheus.CounterVec // labels: kind
	AlertFailures    prometheus.Counter
	TrackedPositions prometheus.Gauge
	StateSaveErrors  prometheus.Counter
	DailyResets      prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	MarketState prometheus.Gauge // 0=closed, 1=open
	WSClients   prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Engine ticks by result status",
		}, []string{"status"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one engine tick",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_total",
			Help:      "Signals generated, by type",
		}, []string{"type"}),
		SignalsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current",
			Help:      "Signals in the last published view",
		}),
		OmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "omitted_total",
			Help:      "Qualifying symbols dropped because history could not be fetched",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert intents emitted, by kind",
		}, []string{"kind"}),
		AlertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_delivery_failures_total",
			Help:      "Failed alert deliveries across all notifiers",
		}),
		TrackedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_positions",
			Help:      "Symbols currently tracked for exit alerts",
		}),
		StateSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_save_errors_total",
			Help:      "Tracker state persistence failures",
		}),
		DailyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "Trading day rollovers",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_trips_total",
			Help:      "Times the Redis circuit breaker tripped open",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_state",
			Help:      "Trading window state (0=closed, 1=open)",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected dashboard WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.TickDuration,
		m.SignalsTotal,
		m.SignalsCurrent,
		m.OmissionsTotal,
		m.AlertsTotal,
		m.AlertFailures,
		m.TrackedPositions,
		m.StateSaveErrors,
		m.DailyResets,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.MarketState,
		m.WSClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(status string, elapsed time.Duration, buys, sells, omitted, tracked int) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(status).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	m.SignalsTotal.WithLabelValues("BUY").Add(float64(buys))
	m.SignalsTotal.WithLabelValues("SELL").Add(float64(sells))
	m.SignalsCurrent.Set(float64(buys + sells))
	m.OmissionsTotal.Add(float64(omitted))
	m.TrackedPositions.Set(float64(tracked))
}

// ObserveSkipped records a tick that was dropped because another was running.
func (m *Metrics) ObserveSkipped() {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues("skipped").Inc()
}

// ObserveAlert counts one emitted alert intent.
func (m *Metrics) ObserveAlert(kind string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(kind).Inc()
}

// ObserveDeliveryFailures counts failed notifier deliveries.
func (m *Metrics) ObserveDeliveryFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AlertFailures.Add(float64(n))
}

// ObserveStateSaveError counts a failed state write.
func (m *Metrics) ObserveStateSaveError() {
	if m == nil {
		return
	}
	m.StateSaveErrors.Inc()
}

// ObserveReset counts a trading-day rollover.
func (m *Metrics) ObserveReset() {
	if m == nil {
		return
	}
	m.DailyResets.Inc()
}

// SetMarketOpen records the trading window state.
func (m *Metrics) SetMarketOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}

// SetBreakerState records a Redis circuit breaker transition. state uses
// the breaker's numeric encoding.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if state == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// SetWSClients records the dashboard client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// Package service wires the signal engine to its adapters and runs it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"intraday-signals/config"
	"intraday-signals/internal/api"
	"intraday-signals/internal/engine"
	"intraday-signals/internal/gateway"
	"intraday-signals/internal/logger"
	"intraday-signals/internal/marketdata/angel"
	"intraday-signals/internal/markethours"
	"intraday-signals/internal/metrics"
	"intraday-signals/internal/notification"
	"intraday-signals/internal/signal"
	redisstore "intraday-signals/internal/store/redis"
	sqlitestore "intraday-signals/internal/store/sqlite"
	"intraday-signals/internal/tracker"
)

const (
	statusBroadcastInterval = 5 * time.Second
	livenessInterval        = 15 * time.Second
	shutdownTimeout         = 5 * time.Second
)

// Options select which outer surfaces New builds.
type Options struct {
	// Offline skips Redis, the WS hub and outbound notifiers. Used by
	// one-shot commands.
	Offline bool
}

// Service owns every long-lived component of the signal engine.
type Service struct {
	cfg *config.Config

	calendar *markethours.Calendar
	sqlite   *sqlitestore.Store
	redis    *redisstore.Publisher
	hub      *gateway.Hub
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	engine   *engine.Engine
	handler  *api.APIHandler
}

// New connects the stores and builds the engine. SQLite is required; Redis
// is optional and the service runs without it when unreachable.
func New(cfg *config.Config, opts Options) (*Service, error) {
	slogger := logger.Init("intraday-signals", logger.ParseLevel(cfg.LogLevel))

	cal, err := markethours.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:      cfg,
		calendar: cal,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
	}

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	svc.sqlite, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// ---- Connect to Redis ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if !opts.Offline && cfg.RedisAddr != "" {
		svc.redis, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[service] WARNING: redis unavailable: %v (continuing without cache and alert stream)", err)
			svc.redis = nil
		} else {
			cb := svc.redis.Breaker()
			logChange := cb.OnStateChange
			cb.OnStateChange = func(from, to redisstore.State) {
				if logChange != nil {
					logChange(from, to)
				}
				svc.prom.SetBreakerState(int(to))
			}
			notifiers = append(notifiers, svc.redis)
		}
	}
	svc.health.SetRedisEnabled(svc.redis != nil)

	if !opts.Offline {
		if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
			notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		}
		if cfg.WebhookURL != "" {
			notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		}
	}

	// ---- Market data ----
	client := angel.New(angel.Config{
		APIKey:     cfg.AngelAPIKey,
		ClientCode: cfg.AngelClientCode,
		Password:   cfg.AngelPassword,
		TOTPSecret: cfg.AngelTOTPSecret,
		Timeout:    cfg.FetchTimeout(),
	})
	universe := cfg.ParseUniverse()
	if len(universe) == 0 {
		log.Println("[service] WARNING: universe is empty, ticks will produce no signals")
	}
	if cfg.AngelAPIKey == "" || cfg.AngelClientCode == "" {
		log.Println("[service] WARNING: Angel One credentials missing, market data fetches will fail")
	}
	source := angel.NewSource(client, universe, cal.Location())

	// ---- Engine ----
	deps := engine.Deps{
		Source:     source,
		Generator:  signal.NewGenerator(signal.ConfigFrom(cfg), source),
		Tracker:    tracker.New(tracker.ConfigFrom(cfg), tracker.NewStore()),
		Schedule:   cal,
		Dispatcher: notification.NewDispatcher(notifiers...),
		State:      svc.sqlite,
		History:    svc.sqlite,
		Metrics:    svc.prom,
		Health:     svc.health,
	}
	if !opts.Offline {
		svc.hub = gateway.NewHub()
		svc.hub.OnClientCount = svc.prom.SetWSClients
		deps.Views = append(deps.Views, svc.hub)
	}
	if svc.redis != nil {
		deps.Sink = svc.redis
		deps.Views = append(deps.Views, svc.redis)
	}
	svc.engine, err = engine.New(engine.ConfigFrom(cfg), deps)
	if err != nil {
		svc.Close()
		return nil, err
	}

	// ---- HTTP ----
	apiDeps := api.Deps{
		Engine:   svc.engine,
		Schedule: cal,
		History:  svc.sqlite,
		Health:   svc.health,
		Metrics:  svc.prom.Handler(),
	}
	if svc.hub != nil {
		apiDeps.WS = svc.hub
	}
	if svc.redis != nil {
		apiDeps.Alerts = svc.redis
	}
	svc.handler = api.NewAPIHandler(apiDeps, time.Duration(cfg.CacheTTLSeconds)*time.Second, slogger)

	return svc, nil
}

// Engine returns the signal engine.
func (svc *Service) Engine() *engine.Engine { return svc.engine }

// Calendar returns the trading calendar.
func (svc *Service) Calendar() *markethours.Calendar { return svc.calendar }

// History returns the SQLite store backing state and history.
func (svc *Service) History() *sqlitestore.Store { return svc.sqlite }

// Run restores state, starts the HTTP server and the tick loop, and blocks
// until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[service] starting intraday signal engine...")

	if err := svc.engine.Restore(ctx); err != nil {
		log.Printf("[service] WARNING: %v (starting with empty tracker)", err)
	}

	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlite.DB(), livenessInterval)
	if svc.hub != nil {
		go svc.hub.StartStatusBroadcast(ctx, svc.calendar, statusBroadcastInterval)
	}
	if svc.redis != nil {
		router := gateway.NewPubSubRouter(svc.hub, svc.redis.Client(), redisstore.ChannelUpdate)
		go router.Run(ctx)
	}

	srv := &http.Server{
		Addr:              svc.cfg.HTTPAddr,
		Handler:           svc.handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Printf("[service] HTTP server on %s", svc.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	now := time.Now()
	log.Printf("[service] market: %s (trading date %s)", svc.calendar.StatusString(now), svc.calendar.TradingDate(now))
	log.Printf("[service] tick every %s, window %s-%s %s",
		svc.cfg.TickInterval(), svc.cfg.TradingStart, svc.cfg.TradingEnd, svc.cfg.Timezone)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan error, 1)
	go func() { engineDone <- svc.engine.Run(runCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-httpErr:
		log.Printf("[service] HTTP server error: %v", runErr)
	}
	cancel()
	<-engineDone

	svc.shutdown(srv)
	return runErr
}

// Scan runs a single tick outside the scheduler, regardless of the trading
// window, and persists the result.
func (svc *Service) Scan(ctx context.Context) engine.TickResult {
	if err := svc.engine.Restore(ctx); err != nil {
		log.Printf("[service] WARNING: %v", err)
	}
	return svc.engine.Tick(ctx, time.Now())
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.redis == nil {
		return nil
	}
	return svc.redis.Client()
}

func (svc *Service) shutdown(srv *http.Server) {
	log.Println("[service] shutdown signal received, flushing state...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[service] HTTP shutdown: %v", err)
	}
	if err := svc.engine.Flush(ctx); err != nil {
		log.Printf("[service] final state save failed: %v", err)
	} else {
		log.Println("[service] state saved")
	}
	svc.Close()
	log.Println("[service] shutdown complete.")
}

// Close releases the hub and the stores.
func (svc *Service) Close() {
	if svc.hub != nil {
		svc.hub.Close()
	}
	if svc.redis != nil {
		svc.redis.Close()
	}
	if svc.sqlite != nil {
		svc.sqlite.Close()
	}
}

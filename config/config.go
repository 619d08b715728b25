package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all application configuration. Values come from Default(),
// then an optional YAML file, then environment variables.
type Config struct {
	// Signal generation
	MinChangePercent  float64   `yaml:"min_change_percent"`
	ATRPeriod         int       `yaml:"atr_period"`
	SLMultiplier      float64   `yaml:"sl_multiplier"`
	TargetMultipliers []float64 `yaml:"target_multipliers"`

	// Position tracking
	ExitThresholdPercent float64 `yaml:"exit_threshold_percent"`
	BuyThresholdPercent  float64 `yaml:"buy_threshold_percent"`

	// Scheduling
	TickIntervalMs int      `yaml:"tick_interval_ms"`
	FetchTimeoutMs int      `yaml:"fetch_timeout_ms"`
	TradingStart   string   `yaml:"trading_start"` // HH:MM
	TradingEnd     string   `yaml:"trading_end"`   // HH:MM
	Weekdays       []string `yaml:"weekdays"`
	Timezone       string   `yaml:"timezone"`

	// Angel One credentials
	AngelAPIKey     string `yaml:"angel_api_key"`
	AngelClientCode string `yaml:"angel_client_code"`
	AngelPassword   string `yaml:"angel_password"`
	AngelTOTPSecret string `yaml:"angel_totp_secret"`
	// Universe is "SYMBOL:TOKEN,SYMBOL:TOKEN,..." on NSE.
	Universe string `yaml:"universe"`

	// Infrastructure
	RedisAddr            string `yaml:"redis_addr"`
	RedisPassword        string `yaml:"redis_password"`
	SQLitePath           string `yaml:"sqlite_path"`
	HTTPAddr             string `yaml:"http_addr"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
	CacheTTLSeconds      int    `yaml:"cache_ttl_seconds"`
	LogLevel             string `yaml:"log_level"`

	// Notification
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	WebhookURL       string `yaml:"webhook_url"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		MinChangePercent:     3,
		ATRPeriod:            14,
		SLMultiplier:         1.5,
		TargetMultipliers:    []float64{2, 3},
		ExitThresholdPercent: 1.5,
		BuyThresholdPercent:  3,

		TickIntervalMs: 300000,
		FetchTimeoutMs: 30000,
		TradingStart:   "09:15",
		TradingEnd:     "15:30",
		Weekdays:       []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		Timezone:       "Asia/Kolkata",

		RedisAddr:            "localhost:6379",
		SQLitePath:           "data/signals.db",
		HTTPAddr:             ":8080",
		HistoryRetentionDays: 30,
		CacheTTLSeconds:      60,
		LogLevel:             "info",
	}
}

// Load builds the config from defaults, the YAML file at path (if non-empty)
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	log.Printf("[config] loaded %s", path)
	return nil
}

func (c *Config) applyEnv() {
	c.MinChangePercent = getEnvFloat("MIN_CHANGE_PERCENT", c.MinChangePercent)
	c.ATRPeriod = getEnvInt("ATR_PERIOD", c.ATRPeriod)
	c.SLMultiplier = getEnvFloat("SL_MULTIPLIER", c.SLMultiplier)
	if v := os.Getenv("TARGET_MULTIPLIERS"); v != "" {
		c.TargetMultipliers = parseFloats(v)
	}
	c.ExitThresholdPercent = getEnvFloat("EXIT_THRESHOLD_PERCENT", c.ExitThresholdPercent)
	c.BuyThresholdPercent = getEnvFloat("BUY_THRESHOLD_PERCENT", c.BuyThresholdPercent)

	c.TickIntervalMs = getEnvInt("TICK_INTERVAL_MS", c.TickIntervalMs)
	c.FetchTimeoutMs = getEnvInt("FETCH_TIMEOUT_MS", c.FetchTimeoutMs)
	c.TradingStart = getEnv("TRADING_START", c.TradingStart)
	c.TradingEnd = getEnv("TRADING_END", c.TradingEnd)
	if v := os.Getenv("TRADING_WEEKDAYS"); v != "" {
		c.Weekdays = splitList(v)
	}
	c.Timezone = getEnv("TRADING_TZ", c.Timezone)

	c.AngelAPIKey = getEnv("ANGEL_API_KEY", c.AngelAPIKey)
	c.AngelClientCode = getEnv("ANGEL_CLIENT_CODE", c.AngelClientCode)
	c.AngelPassword = getEnv("ANGEL_PASSWORD", c.AngelPassword)
	c.AngelTOTPSecret = getEnv("ANGEL_TOTP_SECRET", c.AngelTOTPSecret)
	c.Universe = getEnv("UNIVERSE", c.Universe)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", c.HistoryRetentionDays)
	c.CacheTTLSeconds = getEnvInt("CACHE_TTL_SECONDS", c.CacheTTLSeconds)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
}

// Validate checks every field and reports the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.MinChangePercent < 0:
		return fmt.Errorf("%w: min_change_percent must be >= 0", ErrInvalidConfig)
	case c.ATRPeriod <= 0:
		return fmt.Errorf("%w: atr_period must be > 0", ErrInvalidConfig)
	case c.SLMultiplier <= 0:
		return fmt.Errorf("%w: sl_multiplier must be > 0", ErrInvalidConfig)
	case len(c.TargetMultipliers) != 2:
		return fmt.Errorf("%w: target_multipliers needs exactly 2 values, got %d", ErrInvalidConfig, len(c.TargetMultipliers))
	case c.ExitThresholdPercent <= 0:
		return fmt.Errorf("%w: exit_threshold_percent must be > 0", ErrInvalidConfig)
	case c.BuyThresholdPercent < 0:
		return fmt.Errorf("%w: buy_threshold_percent must be >= 0", ErrInvalidConfig)
	case c.TickIntervalMs <= 0:
		return fmt.Errorf("%w: tick_interval_ms must be > 0", ErrInvalidConfig)
	case c.FetchTimeoutMs <= 0:
		return fmt.Errorf("%w: fetch_timeout_ms must be > 0", ErrInvalidConfig)
	case c.HistoryRetentionDays <= 0:
		return fmt.Errorf("%w: history_retention_days must be > 0", ErrInvalidConfig)
	}
	for i, m := range c.TargetMultipliers {
		if m <= 0 {
			return fmt.Errorf("%w: target_multipliers[%d] must be > 0", ErrInvalidConfig, i)
		}
	}

	start, err := ParseClock(c.TradingStart)
	if err != nil {
		return fmt.Errorf("%w: trading_start: %v", ErrInvalidConfig, err)
	}
	end, err := ParseClock(c.TradingEnd)
	if err != nil {
		return fmt.Errorf("%w: trading_end: %v", ErrInvalidConfig, err)
	}
	if end <= start {
		return fmt.Errorf("%w: trading_end %s must be after trading_start %s", ErrInvalidConfig, c.TradingEnd, c.TradingStart)
	}
	if _, err := c.WeekdayMask(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return nil
}

// TickInterval returns the scheduler period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// FetchTimeout bounds a single upstream snapshot fetch.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

// Location resolves Timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// WeekdayMask converts Weekdays ("Mon", "tuesday", ...) into a lookup table.
func (c *Config) WeekdayMask() ([7]bool, error) {
	var mask [7]bool
	if len(c.Weekdays) == 0 {
		return mask, errors.New("weekdays must not be empty")
	}
	for _, name := range c.Weekdays {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return mask, fmt.Errorf("unknown weekday %q", name)
		}
		mask[wd] = true
	}
	return mask, nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad clock %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// UniverseEntry maps a trading symbol to its exchange token.
type UniverseEntry struct {
	Symbol string
	Token  string
}

// ParseUniverse parses Universe into entries, skipping malformed pairs.
func (c *Config) ParseUniverse() []UniverseEntry {
	var out []UniverseEntry
	for _, part := range splitList(c.Universe) {
		sym, tok, ok := strings.Cut(part, ":")
		if !ok || sym == "" || tok == "" {
			log.Printf("[config] skipping invalid universe entry: %q", part)
			continue
		}
		out = append(out, UniverseEntry{Symbol: strings.ToUpper(sym), Token: tok})
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(s string) []float64 {
	var out []float64
	for _, p := range splitList(s) {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			log.Printf("[config] skipping invalid float value: %q", p)
			continue
		}
		out = append(out, f)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] %s=%q is not a number, using %g", key, v, fallback)
		return fallback
	}
	return f
}

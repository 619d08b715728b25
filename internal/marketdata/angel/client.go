// Package angel adapts the Angel One SmartAPI REST endpoints to the engine's
// snapshot and candle ports.
package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultRoot    = "https://apiconnect.angelone.in"
	defaultTimeout = 30 * time.Second

	routeLogin   = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeQuote   = "/rest/secure/angelbroking/market/v1/quote"
	routeCandles = "/rest/secure/angelbroking/historical/v1/getCandleData"
)

// ErrTokenExpired reports a rejected session token.
var ErrTokenExpired = errors.New("angel: session token rejected")

// Config configures the SmartAPI client.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	Exchange   string // default: NSE

	RootURL     string        // default: https://apiconnect.angelone.in
	Timeout     time.Duration // per request
	CandleGap   time.Duration // minimum spacing of historical calls
	HistoryDays int           // calendar days of daily candles, default 30

	// Optional header identity fields.
	ClientLocalIP  string
	ClientPublicIP string
	ClientMAC      string
}

// Client is a minimal SmartAPI client. It logs in lazily and logs in again
// once when a call is rejected for an expired token.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu       sync.Mutex
	jwtToken string

	paceMu     sync.Mutex
	lastCandle time.Time
}

// envelope is the common SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// New creates a client. No network call is made until the first request.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	cfg.RootURL = strings.TrimRight(cfg.RootURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}
	if cfg.CandleGap == 0 {
		cfg.CandleGap = 350 * time.Millisecond
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = "127.0.0.1"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "127.0.0.1"
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = "00:11:22:33:44:55"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// Login opens a session with password + TOTP.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return fmt.Errorf("angel totp: %w", err)
	}

	env, err := c.do(ctx, routeLogin, "", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return fmt.Errorf("angel login: %w", err)
	}
	var data struct {
		JWTToken string `json:"jwtToken"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.JWTToken == "" {
		return fmt.Errorf("angel login: unexpected response: %s", env.Message)
	}

	c.mu.Lock()
	c.jwtToken = data.JWTToken
	c.mu.Unlock()
	log.Printf("[angel] session opened for %s", c.cfg.ClientCode)
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jwtToken
}

// call performs an authenticated request, logging in first if needed and
// once more if the token is rejected.
func (c *Client) call(ctx context.Context, route string, body any) (json.RawMessage, error) {
	if c.token() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	env, err := c.do(ctx, route, c.token(), body)
	if errors.Is(err, ErrTokenExpired) {
		log.Printf("[angel] token rejected on %s, logging in again", route)
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		env, err = c.do(ctx, route, c.token(), body)
	}
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, route, jwt string, body any) (*envelope, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RootURL+route, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	h.Set("X-ClientLocalIP", c.cfg.ClientLocalIP)
	h.Set("X-ClientPublicIP", c.cfg.ClientPublicIP)
	h.Set("X-MACAddress", c.cfg.ClientMAC)
	h.Set("X-PrivateKey", c.cfg.APIKey)
	if jwt != "" {
		h.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("angel %s: %w", route, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("angel %s: read body: %w", route, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w (http %d)", ErrTokenExpired, resp.StatusCode)
		}
		return nil, fmt.Errorf("angel %s: http %d: couldn't parse JSON response: %w", route, resp.StatusCode, err)
	}
	if isTokenError(resp.StatusCode, &env) {
		return nil, fmt.Errorf("%w: %s %s", ErrTokenExpired, env.ErrorCode, env.Message)
	}
	if resp.StatusCode != http.StatusOK || !env.Status {
		return nil, fmt.Errorf("angel %s: http %d: %s %s", route, resp.StatusCode, env.ErrorCode, env.Message)
	}
	return &env, nil
}

// isTokenError recognises the invalid, expired and missing token codes.
func isTokenError(status int, env *envelope) bool {
	switch env.ErrorCode {
	case "AG8001", "AG8002", "AG8003":
		return true
	}
	if env.ErrorType == "TokenException" {
		return true
	}
	return status == http.StatusUnauthorized
}

// pace spaces historical calls to stay under the per-second limit.
func (c *Client) pace(ctx context.Context) error {
	c.paceMu.Lock()
	defer c.paceMu.Unlock()
	if wait := c.cfg.CandleGap - c.now().Sub(c.lastCandle); wait > 0 && !c.lastCandle.IsZero() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	c.lastCandle = c.now()
	return nil
}

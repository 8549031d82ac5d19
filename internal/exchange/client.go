package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Calim38/sniper/internal/metrics"
	"github.com/Calim38/sniper/internal/signal"
)

// Default configuration values.
const (
	DefaultBaseURL        = "https://api.binance.com"
	DefaultTestnetBaseURL = "https://testnet.binance.vision"
	DefaultTimeout        = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxDelay       = 8 * time.Second
	DefaultRequestsPerSec = 10
	DefaultRecvWindow     = 60000
	maxKlineLimit         = 1000
	timeSyncTTL           = 10 * time.Minute
)

// ErrMissingCredentials is returned by signed endpoints when no API key is configured.
var ErrMissingCredentials = errors.New("exchange api key and secret required")

// APIError is an error payload returned by the exchange.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

// Client talks to the spot REST API. All requests share one rate limiter.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	recvWindow int64
	log        zerolog.Logger
	now        func() time.Time

	mu         sync.Mutex
	timeOffset time.Duration
	syncedAt   time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithCredentials sets the API key pair used for signed endpoints.
func WithCredentials(key, secret string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
		c.apiSecret = secret
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithRateLimit caps request throughput.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial and maximum retry delay.
func WithRetryDelay(initial, max time.Duration) ClientOption {
	return func(c *Client) {
		if initial > 0 {
			c.retryDelay = initial
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithLogger injects the client logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a REST client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSec), DefaultRequestsPerSec),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		recvWindow: DefaultRecvWindow,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PriceHistory returns the most recent limit bars, oldest first. An unknown or
// silent symbol yields an empty slice.
func (c *Client) PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error) {
	return c.Klines(ctx, symbol, interval, time.Time{}, limit)
}

// Klines fetches up to limit bars starting at start. A zero start asks for the latest bars.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]signal.Bar, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if !start.IsZero() {
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}

	var raw [][]any
	if err := c.get(ctx, "/api/v3/klines", q, false, &raw); err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	bars := make([]signal.Bar, 0, len(raw))
	for i, k := range raw {
		bar, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("klines %s row %d: %w", symbol, i, err)
		}
		bars = append(bars, bar)
	}
	return normalizeBars(bars), nil
}

// History pages through klines from start to end inclusive.
func (c *Client) History(ctx context.Context, symbol, interval string, start, end time.Time) ([]signal.Bar, error) {
	step, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	var out []signal.Bar
	cursor := start
	for !cursor.After(end) {
		page, err := c.Klines(ctx, symbol, interval, cursor, maxKlineLimit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			if b.OpenTime.After(end) {
				break
			}
			out = append(out, b)
		}
		last := page[len(page)-1].OpenTime
		if !last.After(cursor) && len(page) == 1 {
			break
		}
		cursor = last.Add(step)
		if len(page) < maxKlineLimit {
			break
		}
	}
	return normalizeBars(out), nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balance returns the free balance of asset. An asset missing from the account is reported absent.
func (c *Client) Balance(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	var resp accountResponse
	if err := c.get(ctx, "/api/v3/account", url.Values{}, true, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("account balance: %w", err)
	}
	for _, b := range resp.Balances {
		if !strings.EqualFold(b.Asset, asset) {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("parse %s balance: %w", asset, err)
		}
		return free, true, nil
	}
	return decimal.Zero, false, nil
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/api/v3/time", nil, false, &resp); err != nil {
		return time.Time{}, fmt.Errorf("server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime).UTC(), nil
}

// SyncTime measures the offset between the local and exchange clocks.
func (c *Client) SyncTime(ctx context.Context) error {
	before := c.now()
	server, err := c.ServerTime(ctx)
	if err != nil {
		return err
	}
	after := c.now()
	local := before.Add(after.Sub(before) / 2)
	offset := server.Sub(local)

	c.mu.Lock()
	c.timeOffset = offset
	c.syncedAt = after
	c.mu.Unlock()
	c.log.Debug().Dur("offset", offset).Msg("exchange clock synced")
	return nil
}

func (c *Client) timestamp(ctx context.Context) (int64, error) {
	c.mu.Lock()
	stale := c.syncedAt.IsZero() || c.now().Sub(c.syncedAt) > timeSyncTTL
	c.mu.Unlock()
	if stale {
		if err := c.SyncTime(ctx); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.timeOffset).UnixMilli(), nil
}

// Ticker24h is one row of the 24h rolling statistics endpoint.
type Ticker24h struct {
	Symbol      string
	LastPrice   decimal.Decimal
	QuoteVolume decimal.Decimal
}

// Tickers24h returns 24h statistics for every symbol.
func (c *Client) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	var raw []struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, false, &raw); err != nil {
		return nil, fmt.Errorf("ticker 24hr: %w", err)
	}
	out := make([]Ticker24h, 0, len(raw))
	for _, r := range raw {
		vol, err := decimal.NewFromString(r.QuoteVolume)
		if err != nil {
			continue
		}
		last, _ := decimal.NewFromString(r.LastPrice)
		out = append(out, Ticker24h{Symbol: r.Symbol, LastPrice: last, QuoteVolume: vol})
	}
	return out, nil
}

// SymbolInfo is the subset of exchangeInfo used for discovery.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// ExchangeInfo lists every symbol with its trading status.
func (c *Client) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var resp struct {
		Symbols []SymbolInfo `json:"symbols"`
	}
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, false, &resp); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	return resp.Symbols, nil
}

// get performs a GET with rate limiting, optional signing, and retries with exponential backoff.
// Exchange error payloads (4xx) are not retried.
func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool, result any) error {
	if signed && (c.apiKey == "" || c.apiSecret == "") {
		return ErrMissingCredentials
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		endpoint, err := c.buildURL(ctx, path, query, signed)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			metrics.RequestsTotal.WithLabelValues(path, "error").Inc()
			c.log.Debug().Err(err).Str("path", path).Int("attempt", attempt).Msg("request failed")
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.RequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if result == nil {
				return nil
			}
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Int("attempt", attempt).Msg("retrying request")
			continue
		default:
			apiErr := &APIError{Status: resp.StatusCode}
			if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
				apiErr.Msg = strings.TrimSpace(string(body))
			}
			return apiErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) buildURL(ctx context.Context, path string, query url.Values, signed bool) (string, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if signed {
		ts, err := c.timestamp(ctx)
		if err != nil {
			return "", err
		}
		q.Set("timestamp", strconv.FormatInt(ts, 10))
		q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		payload := q.Encode()
		return c.baseURL + path + "?" + payload + "&signature=" + sign(c.apiSecret, payload), nil
	}
	if len(q) == 0 {
		return c.baseURL + path, nil
	}
	return c.baseURL + path + "?" + q.Encode(), nil
}

// sign returns the hex HMAC-SHA256 of payload.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseKline(k []any) (signal.Bar, error) {
	if len(k) < 6 {
		return signal.Bar{}, fmt.Errorf("short kline row (%d fields)", len(k))
	}
	openMs, ok := k[0].(float64)
	if !ok {
		return signal.Bar{}, fmt.Errorf("open time %v is not a number", k[0])
	}
	fields := make([]decimal.Decimal, 5)
	for i := range fields {
		s, ok := k[i+1].(string)
		if !ok {
			return signal.Bar{}, fmt.Errorf("field %d is not a string", i+1)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return signal.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = d
	}
	return signal.Bar{
		OpenTime: time.UnixMilli(int64(openMs)).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

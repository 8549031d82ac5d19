// Package exchange hosts the spot venue connectors and price history sources.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Calim38/sniper/internal/metrics"
	"github.com/Calim38/sniper/internal/signal"
	"github.com/Calim38/sniper/internal/store"
)

const (
	// ProviderStub serves deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance polls klines from the Binance REST API every cycle.
	ProviderBinance = "binance"
	// ProviderBinanceStream keeps klines current from the Binance websocket, seeded over REST.
	ProviderBinanceStream = "binance_ws"
)

// History is anything that can return the most recent bars for a symbol, oldest first.
type History interface {
	PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error)
}

// Feed fronts a History backend with the tracked symbol universe.
type Feed struct {
	provider string
	history  History
	cache    store.BarStore
	symbols  []string
	log      zerolog.Logger
	mu       sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithHistory sets the backend bars are read from.
func WithHistory(h History) Option {
	return func(f *Feed) {
		if h != nil {
			f.history = h
		}
	}
}

// WithBarCache writes every fetched bar through to a BarStore.
func WithBarCache(cache store.BarStore) Option {
	return func(f *Feed) { f.cache = cache }
}

// NewFeed constructs a feed for the requested provider. Without WithHistory it serves stub bars.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider: strings.ToLower(provider),
		log:      log,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	if f.history == nil {
		f.history = NewStub()
	}
	return f
}

// Provider reports the configured provider name.
func (f *Feed) Provider() string { return f.provider }

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = make([]string, 0, len(unique))
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Symbols returns a copy of the tracked universe.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// PriceHistory returns at most limit bars for symbol, ascending and without duplicate open times.
func (f *Feed) PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error) {
	bars, err := f.history.PriceHistory(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	bars = tail(normalizeBars(bars), limit)
	metrics.BarsTotal.WithLabelValues(symbol).Add(float64(len(bars)))

	if f.cache != nil && len(bars) > 0 {
		if err := f.cache.InsertBars(ctx, symbol, interval, bars); err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
		}
	}
	return bars, nil
}

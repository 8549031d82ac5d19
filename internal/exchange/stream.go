package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

const (
	// DefaultStreamURL is the public Binance market stream endpoint.
	DefaultStreamURL = "wss://stream.binance.com:9443"
	defaultMaxBars   = 1000
)

type klineEnvelope struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// Stream caches klines per symbol and keeps them current from the websocket kline
// stream. Every (re)connect reseeds the cache over REST; symbols that are not live
// are always read over REST.
type Stream struct {
	url      string
	interval string
	rest     History
	maxBars  int
	log      zerolog.Logger

	mu   sync.RWMutex
	bars map[string][]signal.Bar
	live map[string]bool
}

// NewStream builds a kline cache for interval, seeded from rest.
func NewStream(url, interval string, rest History, log zerolog.Logger) *Stream {
	if url == "" {
		url = DefaultStreamURL
	}
	return &Stream{
		url:      strings.TrimSuffix(url, "/"),
		interval: interval,
		rest:     rest,
		maxBars:  defaultMaxBars,
		log:      log,
		bars:     make(map[string][]signal.Bar),
		live:     make(map[string]bool),
	}
}

// PriceHistory serves live symbols from the cache and everything else over REST.
func (s *Stream) PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error) {
	symbol = strings.ToUpper(symbol)
	if interval == s.interval {
		s.mu.RLock()
		cached := s.bars[symbol]
		if s.live[symbol] && limit > 0 && len(cached) >= limit {
			out := append([]signal.Bar(nil), tail(cached, limit)...)
			s.mu.RUnlock()
			return out, nil
		}
		s.mu.RUnlock()
	}
	return s.rest.PriceHistory(ctx, symbol, interval, limit)
}

// seed replaces the cache with fresh REST history and marks the seeded symbols live.
func (s *Stream) seed(ctx context.Context, symbols []string) {
	fresh := make(map[string][]signal.Bar, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		bars, err := s.rest.PriceHistory(ctx, sym, s.interval, s.maxBars)
		if err != nil {
			s.log.Warn().Err(err).Str("sym", sym).Msg("kline seed failed")
			continue
		}
		fresh[sym] = tail(normalizeBars(append([]signal.Bar(nil), bars...)), s.maxBars)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = fresh
	s.live = make(map[string]bool, len(fresh))
	for sym, bars := range fresh {
		if len(bars) > 0 {
			s.live[sym] = true
		}
	}
}

func (s *Stream) drop() {
	s.mu.Lock()
	s.live = make(map[string]bool)
	s.mu.Unlock()
}

// Run subscribes to the kline streams of symbols until ctx is canceled, reconnecting with backoff.
func (s *Stream) Run(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("kline stream requires at least one symbol")
	}

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + s.interval
	}

	url := fmt.Sprintf("%s/stream?streams=%s", s.url, strings.Join(streams, "/"))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, url, symbols); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("kline stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (s *Stream) consume(ctx context.Context, url string, symbols []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer s.drop()

	s.seed(ctx, symbols)
	s.log.Info().Str("provider", ProviderBinanceStream).Strs("symbols", symbols).Str("interval", s.interval).Msg("connected kline stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("kline stream ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblocks ReadMessage
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var env klineEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode kline message")
			continue
		}
		if err := s.apply(env.Data); err != nil {
			s.log.Warn().Err(err).Str("stream", env.Stream).Msg("invalid kline update")
		}
	}
}

// apply upserts one kline into a live symbol's cache. Other symbols are ignored
// so the cache never holds a history with gaps; a kline that skips a bar takes the
// symbol off the live set until the next seed.
func (s *Stream) apply(ev klineEvent) error {
	if ev.Kline.Interval != "" && ev.Kline.Interval != s.interval {
		return nil
	}
	bar, err := klineBar(ev)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(ev.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	cached := s.bars[symbol]
	if !s.live[symbol] || len(cached) == 0 {
		return nil
	}
	last := cached[len(cached)-1]
	switch {
	case bar.OpenTime.Equal(last.OpenTime):
		cached[len(cached)-1] = bar
	case bar.OpenTime.After(last.OpenTime):
		if step, err := ParseInterval(s.interval); err == nil && bar.OpenTime.Sub(last.OpenTime) > step {
			delete(s.live, symbol)
			s.log.Warn().Str("sym", symbol).Time("last", last.OpenTime).Time("next", bar.OpenTime).Msg("kline gap, falling back to rest")
			return nil
		}
		cached = tail(append(cached, bar), s.maxBars)
	}
	s.bars[symbol] = cached
	return nil
}

func klineBar(ev klineEvent) (signal.Bar, error) {
	k := ev.Kline
	vals := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	parsed := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return signal.Bar{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		parsed[i] = d
	}
	return signal.Bar{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     parsed[0],
		High:     parsed[1],
		Low:      parsed[2],
		Close:    parsed[3],
		Volume:   parsed[4],
	}, nil
}

package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/config"
)

// Discovery modes.
const (
	// DiscoveryVolume keeps quote-asset pairs whose 24h quote volume clears a floor.
	DiscoveryVolume = "volume"
	// DiscoveryListing keeps every TRADING pair quoted in the quote asset.
	DiscoveryListing = "listing"
)

// Discovery periodically rebuilds the feed symbol universe from exchange listings.
type Discovery struct {
	log        zerolog.Logger
	feed       *Feed
	manual     []string
	client     *Client
	quoteAsset string
	cfg        config.Discovery
	mu         sync.Mutex
	lastSet    []string
}

// Pair is a discovered symbol with its 24h quote volume (zero in listing mode).
type Pair struct {
	Symbol      string
	QuoteVolume decimal.Decimal
}

// NewDiscovery constructs a discovery service; returns nil if disabled or nil feed.
func NewDiscovery(log zerolog.Logger, feed *Feed, client *Client, manual []string, quoteAsset string, cfg config.Discovery) *Discovery {
	if feed == nil || client == nil || !cfg.Enabled {
		return nil
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Discovery{
		log:        log,
		feed:       feed,
		manual:     append([]string(nil), manual...),
		client:     client,
		quoteAsset: strings.ToUpper(quoteAsset),
		cfg:        cfg,
	}
}

// Start launches the discovery loop in a goroutine.
func (d *Discovery) Start(ctx context.Context) {
	if d == nil {
		return
	}
	go d.loop(ctx)
}

func (d *Discovery) loop(ctx context.Context) {
	interval := time.Duration(d.cfg.RefreshInterval) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Refresh(ctx); err != nil {
				d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
			}
		}
	}
}

// Refresh performs a single discovery cycle and returns the resulting universe.
func (d *Discovery) Refresh(ctx context.Context) ([]string, error) {
	if d == nil {
		return nil, nil
	}
	candidates, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	discovered := make([]string, len(candidates))
	for i, cand := range candidates {
		discovered[i] = cand.Symbol
	}
	combined := mergeSymbols(d.manual, discovered)
	d.feed.SetSymbols(combined)
	d.logDiscoveryChange(combined, candidates)
	return combined, nil
}

// Discover lists matching pairs without touching the feed, highest quote volume first.
func (d *Discovery) Discover(ctx context.Context) ([]Pair, error) {
	var (
		candidates []Pair
		err        error
	)
	switch strings.ToLower(d.cfg.Mode) {
	case DiscoveryListing:
		candidates, err = d.listing(ctx)
	case "", DiscoveryVolume:
		candidates, err = d.byVolume(ctx)
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", d.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]struct{}, len(d.cfg.Exclude))
	for _, sym := range d.cfg.Exclude {
		exclude[strings.ToUpper(strings.TrimSpace(sym))] = struct{}{}
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := exclude[c.Symbol]; !ok {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if c := kept[i].QuoteVolume.Cmp(kept[j].QuoteVolume); c != 0 {
			return c > 0
		}
		return kept[i].Symbol < kept[j].Symbol
	})
	if d.cfg.MaxPairs > 0 && len(kept) > d.cfg.MaxPairs {
		kept = kept[:d.cfg.MaxPairs]
	}
	return kept, nil
}

func (d *Discovery) byVolume(ctx context.Context) ([]Pair, error) {
	tickers, err := d.client.Tickers24h(ctx)
	if err != nil {
		return nil, err
	}
	minVolume := decimal.NewFromFloat(d.cfg.MinQuoteVolume)
	out := make([]Pair, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, d.quoteAsset) || t.Symbol == d.quoteAsset {
			continue
		}
		if t.QuoteVolume.LessThan(minVolume) {
			continue
		}
		out = append(out, Pair{Symbol: t.Symbol, QuoteVolume: t.QuoteVolume})
	}
	return out, nil
}

func (d *Discovery) listing(ctx context.Context) ([]Pair, error) {
	symbols, err := d.client.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Pair, 0, len(symbols))
	for _, s := range symbols {
		if strings.EqualFold(s.QuoteAsset, d.quoteAsset) && s.Status == "TRADING" {
			out = append(out, Pair{Symbol: s.Symbol})
		}
	}
	return out, nil
}

func (d *Discovery) logDiscoveryChange(combined []string, discovered []Pair) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slicesEqual(combined, d.lastSet) {
		return
	}
	prev := append([]string(nil), d.lastSet...)
	d.lastSet = append([]string(nil), combined...)
	d.log.Info().
		Int("symbols", len(combined)).
		Int("discovered", len(discovered)).
		Strs("manual", d.manual).
		Int("previous", len(prev)).
		Msg("updated symbol universe")
}

// PairSymbols returns the symbol names of candidates in order.
func PairSymbols(candidates []Pair) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Symbol
	}
	return out
}

func mergeSymbols(manual, discovered []string) []string {
	set := make(map[string]struct{}, len(manual)+len(discovered))
	for _, sym := range manual {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			set[sym] = struct{}{}
		}
	}
	for _, sym := range discovered {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package exchange

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

// Stub produces deterministic synthetic bars: a per-symbol base price with a slow
// oscillation, aligned to the interval grid ending at the current time.
type Stub struct {
	now func() time.Time
}

// StubOption configures Stub.
type StubOption func(*Stub)

// WithClock pins the stub to a fixed clock.
func WithClock(now func() time.Time) StubOption {
	return func(s *Stub) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStub returns a synthetic history source.
func NewStub(opts ...StubOption) *Stub {
	s := &Stub{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PriceHistory implements History.
func (s *Stub) PriceHistory(ctx context.Context, symbol, interval string, limit int) ([]signal.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []signal.Bar{}, nil
	}

	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := h.Sum32()
	base := 50 + float64(seed%500)
	phase := float64(seed%360) * math.Pi / 180

	end := s.now().UTC().Truncate(step)
	first := end.Add(-time.Duration(limit-1) * step)
	bars := make([]signal.Bar, limit)
	prev := base
	for i := range bars {
		openTime := first.Add(time.Duration(i) * step)
		n := float64(openTime.Unix() / int64(step/time.Second))
		px := base * (1 + 0.04*math.Sin(n/9+phase) + 0.01*math.Sin(n/2.5))
		open := decimal.NewFromFloat(prev).Round(4)
		cls := decimal.NewFromFloat(px).Round(4)
		bars[i] = signal.Bar{
			OpenTime: openTime,
			Open:     open,
			High:     decimal.Max(open, cls),
			Low:      decimal.Min(open, cls),
			Close:    cls,
			Volume:   decimal.NewFromInt(int64(1000 + seed%1000)),
		}
		prev = px
	}
	return bars, nil
}

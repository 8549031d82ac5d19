package exchange

import (
	"fmt"
	"sort"
	"time"

	"github.com/Calim38/sniper/internal/signal"
)

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval maps an exchange kline interval such as "30m" to its duration.
func ParseInterval(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d, nil
}

// normalizeBars sorts by open time and drops duplicate open times, keeping the last one seen.
func normalizeBars(bars []signal.Bar) []signal.Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(b.OpenTime) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func tail(bars []signal.Bar, limit int) []signal.Bar {
	if limit > 0 && len(bars) > limit {
		return bars[len(bars)-limit:]
	}
	return bars
}

// Package indicator computes moving averages, RSI and MACD over a bar series.
//
// All functions are pure: the same input always yields the same output and the
// input slice is never modified. Values that are not yet defined are NaN.
package indicator

import (
	"math"

	"github.com/Calim38/sniper/internal/signal"
)

const (
	macdFastSpan   = 12
	macdSlowSpan   = 26
	macdSignalSpan = 9
)

// Params holds the configurable window lengths.
type Params struct {
	FastPeriod int
	SlowPeriod int
	RSIPeriod  int
}

// MinBars is the number of bars required before a snapshot may be trusted.
func (p Params) MinBars() int {
	n := p.SlowPeriod
	if p.RSIPeriod > n {
		n = p.RSIPeriod
	}
	if macdSlowSpan > n {
		n = macdSlowSpan
	}
	return n + 1
}

// Snapshot holds the indicator values attached to one bar.
type Snapshot struct {
	FastMA     float64
	SlowMA     float64
	RSI        float64
	MACD       float64
	MACDSignal float64
}

// Available reports whether every value in the snapshot is defined.
func (s Snapshot) Available() bool {
	return !math.IsNaN(s.FastMA) && !math.IsNaN(s.SlowMA) && !math.IsNaN(s.RSI) &&
		!math.IsNaN(s.MACD) && !math.IsNaN(s.MACDSignal)
}

// Compute returns one Snapshot per bar, aligned with the input.
func Compute(bars []signal.Bar, p Params) []Snapshot {
	closes := signal.Closes(bars)
	fast := SMA(closes, p.FastPeriod)
	slow := SMA(closes, p.SlowPeriod)
	rsi := RSI(closes, p.RSIPeriod)
	macd, sig := MACD(closes)

	out := make([]Snapshot, len(bars))
	for i := range out {
		out[i] = Snapshot{
			FastMA:     fast[i],
			SlowMA:     slow[i],
			RSI:        rsi[i],
			MACD:       macd[i],
			MACDSignal: sig[i],
		}
	}
	return out
}

// SMA over the trailing p points, NaN for the first p-1 points.
func SMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i >= p-1 {
			out[i] = sum / float64(p)
		}
	}
	return out
}

// EMA with smoothing 2/(span+1), seeded with the first value and no bias adjustment.
func EMA(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 || span <= 0 {
		return out
	}
	k := 2.0 / float64(span+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = x[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI uses simple rolling means of gains and losses over the trailing n deltas.
//
// When the average loss is zero the ratio is undefined: RSI is 100 if there was
// any gain and 50 for a completely flat window. The first n points are NaN.
func RSI(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	if n <= 0 || len(x) <= n {
		return out
	}
	gains := make([]float64, len(x))
	losses := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	var sumGain, sumLoss float64
	for i := 1; i < len(x); i++ {
		sumGain += gains[i]
		sumLoss += losses[i]
		if i > n {
			sumGain -= gains[i-n]
			sumLoss -= losses[i-n]
		}
		if i < n {
			continue
		}
		out[i] = rsiValue(sumGain/float64(n), sumLoss/float64(n))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	// rolling subtraction can leave tiny negative residue
	if avgLoss <= 1e-12 {
		if avgGain <= 1e-12 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the EMA(12)-EMA(26) spread and its EMA(9) signal line.
func MACD(x []float64) (macd, sig []float64) {
	fast := EMA(x, macdFastSpan)
	slow := EMA(x, macdSlowSpan)
	macd = make([]float64, len(x))
	for i := range x {
		macd[i] = fast[i] - slow[i]
	}
	return macd, EMA(macd, macdSignalSpan)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

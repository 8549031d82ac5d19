package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Calim38/sniper/internal/signal"
)

func barsFromCloses(closes []float64) []signal.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]signal.Bar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		out[i] = signal.Bar{OpenTime: start.Add(time.Duration(i) * 30 * time.Minute), Open: px, High: px, Low: px, Close: px, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func TestSMAWarmupAndValues(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestEMASeededWithFirstValue(t *testing.T) {
	out := EMA([]float64{10, 20}, 3)
	assert.Equal(t, 10.0, out[0])
	// k = 0.5
	assert.InDelta(t, 15.0, out[1], 1e-12)
}

func TestRSIKnownRatio(t *testing.T) {
	// 14 deltas: one loss of 11, nine gains of 1, four flat
	closes := []float64{100, 89, 90, 91, 92, 93, 94, 95, 96, 97, 98, 98, 98, 98, 98}
	out := RSI(closes, 14)
	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be warm-up", i)
	}
	assert.InDelta(t, 45.0, out[14], 1e-9)
}

func TestRSIZeroLossBranches(t *testing.T) {
	rising := RSI([]float64{1, 2, 3, 4}, 3)
	assert.Equal(t, 100.0, rising[3])

	flat := RSI([]float64{5, 5, 5, 5}, 3)
	assert.Equal(t, 50.0, flat[3])

	falling := RSI([]float64{4, 3, 2, 1}, 3)
	assert.Equal(t, 0.0, falling[3])
}

func TestRSIShortSeries(t *testing.T) {
	out := RSI([]float64{1, 2}, 14)
	require.Len(t, out, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 42
	}
	macd, sig := MACD(closes)
	for i := range closes {
		assert.InDelta(t, 0, macd[i], 1e-12)
		assert.InDelta(t, 0, sig[i], 1e-12)
	}
}

func TestMinBars(t *testing.T) {
	assert.Equal(t, 27, Params{FastPeriod: 5, SlowPeriod: 10, RSIPeriod: 14}.MinBars())
	assert.Equal(t, 51, Params{FastPeriod: 20, SlowPeriod: 50, RSIPeriod: 14}.MinBars())
	assert.Equal(t, 31, Params{FastPeriod: 5, SlowPeriod: 10, RSIPeriod: 30}.MinBars())
}

func TestComputeIsIdempotent(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/4)
	}
	bars := barsFromCloses(closes)
	p := Params{FastPeriod: 5, SlowPeriod: 10, RSIPeriod: 14}

	first := Compute(bars, p)
	second := Compute(bars, p)
	require.Len(t, first, len(bars))
	for i := range first {
		assertSameFloat(t, first[i].FastMA, second[i].FastMA)
		assertSameFloat(t, first[i].SlowMA, second[i].SlowMA)
		assertSameFloat(t, first[i].RSI, second[i].RSI)
		assertSameFloat(t, first[i].MACD, second[i].MACD)
		assertSameFloat(t, first[i].MACDSignal, second[i].MACDSignal)
	}
	assert.False(t, first[8].Available())
	assert.True(t, first[len(first)-1].Available())
}

func assertSameFloat(t *testing.T, a, b float64) {
	t.Helper()
	if math.IsNaN(a) {
		assert.True(t, math.IsNaN(b))
		return
	}
	assert.Equal(t, a, b)
}

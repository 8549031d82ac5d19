// Package metrics registers the process-wide prometheus collectors and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sniper"

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bars_total", Help: "Count of price bars ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "orders_total", Help: "Simulated orders filled"},
		[]string{"symbol", "side"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cycles_total", Help: "Engine cycles by outcome"},
		[]string{"result"},
	)
	SymbolsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "symbols_skipped_total", Help: "Symbols skipped during a cycle"},
		[]string{"reason"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Entry and exit signals emitted"},
		[]string{"kind", "rule"},
	)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "exchange_requests_total", Help: "Exchange REST requests"},
		[]string{"endpoint", "code"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "open_positions", Help: "Open paper positions"},
	)
	AvailableCapital = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "available_capital", Help: "Quote balance at cycle start"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "cycle_duration_seconds", Help: "Wall time of one engine cycle", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
	)
)

func init() {
	prometheus.MustRegister(
		BarsTotal,
		OrdersTotal,
		CyclesTotal,
		SymbolsSkippedTotal,
		SignalsTotal,
		RequestsTotal,
		OpenPositions,
		AvailableCapital,
		CycleDuration,
	)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

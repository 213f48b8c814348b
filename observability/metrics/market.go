package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks host call outcomes and value leaving escrow.
type MarketMetrics struct {
	calls    *prometheus.CounterVec
	released *prometheus.CounterVec
	height   prometheus.Gauge
	lots     prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide market metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agora_market_calls_total",
				Help: "Count of host calls segmented by call type and outcome.",
			}, []string{"op", "outcome"}),
			released: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agora_market_escrow_released_total",
				Help: "Count of escrow releases by kind (payment, refund, margin, fee).",
			}, []string{"kind"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "agora_host_height",
				Help: "Last committed host height.",
			}),
			lots: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "agora_market_lots",
				Help: "Number of lots listed since genesis.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.calls,
			marketRegistry.released,
			marketRegistry.height,
			marketRegistry.lots,
		)
	})
	return marketRegistry
}

// RecordCall counts one applied or rejected call.
func (m *MarketMetrics) RecordCall(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(op, outcome).Inc()
}

func (m *MarketMetrics) RecordRelease(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.released.WithLabelValues(kind).Inc()
}

func (m *MarketMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func (m *MarketMetrics) SetLots(count uint64) {
	if m == nil {
		return
	}
	m.lots.Set(float64(count))
}

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 是引擎暴露的 Prometheus 指标。
// 通过 NewMetrics(reg) 注册到调用方提供的 Registerer，测试中使用独立的 Registry。
type Metrics struct {
	Requests        *prometheus.CounterVec
	Padding         prometheus.Counter
	OracleAnomalies *prometheus.CounterVec
	Duration        prometheus.Histogram
	BundleLoaded    prometheus.Gauge
}

// NewMetrics 创建并注册引擎指标。reg 为 nil 时指标不注册（仍可正常计数）。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recserve_recommend_requests_total",
				Help: "Total number of recommendation requests by serving path",
			},
			[]string{"path"}, // "cold_start", "personalized", "padded", "degraded"
		),
		Padding: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "recserve_recommend_padding_total",
				Help: "Total number of fallback items used to pad short personalized results",
			},
		),
		OracleAnomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recserve_oracle_anomalies_total",
				Help: "Total number of scoring oracle anomalies handled by falling back",
			},
			[]string{"reason"}, // "unrecognized_output", "error", "unknown_index"
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recserve_recommend_duration_seconds",
				Help:    "Duration of recommendation lookups in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		BundleLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "recserve_bundle_loaded",
				Help: "Whether a model bundle is loaded (1) or not (0)",
			},
		),
	}
}

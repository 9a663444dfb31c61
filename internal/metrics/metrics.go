// Package metrics 暴露 Prometheus 指标
//
// 所有 Record* 方法在接收者为 nil 时什么都不做，组件可以不注入指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classifyhub"

// Metrics 汇总全部指标，每个实例使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	FetchTotal       *prometheus.CounterVec
	RateRemaining    prometheus.Gauge
	Classifications  *prometheus.CounterVec
	ItemFailures     *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	LearningRuns     *prometheus.CounterVec
	CacheInvalidated prometheus.Counter
	ActiveWorkers    prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Repository fetches by source (cache, remote) and outcome",
		}, []string{"source", "outcome"}),
		RateRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_remaining",
			Help:      "Last observed remaining GitHub API requests, -1 when unknown",
		}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Successful classifications by class",
		}, []string{"class"}),
		ItemFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Failed batch items by error kind",
		}, []string{"kind"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a classification batch",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		LearningRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_runs_total",
			Help:      "Learning pipeline runs by outcome",
		}, []string{"outcome"}),
		CacheInvalidated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_total",
			Help:      "Cache entries removed by maintenance",
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently processing an item",
		}),
	}
}

// Handler 返回 /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) SetRateRemaining(n int) {
	if m == nil {
		return
	}
	m.RateRemaining.Set(float64(n))
}

func (m *Metrics) RecordClassification(class string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordItemFailure(kind string) {
	if m == nil {
		return
	}
	m.ItemFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordLearning(outcome string) {
	if m == nil {
		return
	}
	m.LearningRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddCacheInvalidated(n int64) {
	if m == nil {
		return
	}
	m.CacheInvalidated.Add(float64(n))
}

func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Add(delta)
}

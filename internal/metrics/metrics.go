// Package metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "engine"

type Metrics struct {
	registry         *prometheus.Registry
	signalsGenerated *prometheus.CounterVec
	signalsVetoed    prometheus.Counter
	signalsExpired   prometheus.Counter
	orders           *prometheus.CounterVec
	positionsClosed  *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signalsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_generated_total",
			Help:      "Pending trade signals created, by strategy.",
		}, []string{"strategy"}),
		signalsVetoed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_vetoed_total",
			Help:      "Symbols skipped by the news veto.",
		}),
		signalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_expired_total",
			Help:      "Pending signals expired by the sweep.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Broker orders by outcome.",
		}, []string{"result"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Closed positions by close reason.",
		}, []string{"reason"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Market data cache lookups by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signalsGenerated, m.signalsVetoed, m.signalsExpired, m.orders,
		m.positionsClosed, m.cacheRequests, m.jobDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SignalGenerated(strategy string) {
	if m == nil {
		return
	}
	m.signalsGenerated.WithLabelValues(strategy).Inc()
}

func (m *Metrics) SignalVetoed() {
	if m == nil {
		return
	}
	m.signalsVetoed.Inc()
}

func (m *Metrics) SignalsExpired(n int) {
	if m == nil {
		return
	}
	m.signalsExpired.Add(float64(n))
}

func (m *Metrics) Order(result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(result).Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.positionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveJob(job, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job, status).Observe(d.Seconds())
}

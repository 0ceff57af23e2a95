package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tongai"

// Registry owns the service's collectors. It implements ai.Observer and usage.Observer.
type Registry struct {
	reg *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	providerRequestsTotal *prometheus.CounterVec
	providerLatency       *prometheus.HistogramVec

	usageTasksTotal *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),

		providerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of AI provider calls by outcome",
			},
			[]string{"provider", "model", "outcome"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "AI provider call latency",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		usageTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_tasks_total",
				Help:      "Usage tasks by kind and outcome (enqueued, dropped, applied, ignored, failed)",
			},
			[]string{"kind", "outcome"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.providerRequestsTotal,
		r.providerLatency,
		r.usageTasksTotal,
	)
	return r
}

func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (r *Registry) ObserveProviderCall(provider, model, outcome string, d time.Duration) {
	r.providerRequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	r.providerLatency.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (r *Registry) ObserveUsage(kind, outcome string) {
	r.usageTasksTotal.WithLabelValues(kind, outcome).Inc()
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}


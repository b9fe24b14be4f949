package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	reloadDuration *prometheus.HistogramVec
	fetches        *prometheus.CounterVec
	versionInfo    *prometheus.GaugeVec
	serviceReady   *prometheus.GaugeVec

	mu          sync.Mutex
	lastVersion map[string]string
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		reloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ressor_reload_duration_seconds",
				Help:    "Duration of reload attempts in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"resource", "status"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressor_fetches_total",
				Help: "Total number of requests issued against sources",
			},
			[]string{"resource", "method"},
		),
		versionInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ressor_resource_version_info",
				Help: "Current version token per resource, value is always 1",
			},
			[]string{"resource", "version"},
		),
		serviceReady: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ressor_service_ready",
				Help: "Whether a service holds at least one instance",
			},
			[]string{"service"},
		),
		lastVersion: make(map[string]string),
	}
}

func (p *PrometheusMetrics) ObserveReload(resource string, status ReloadStatus, duration time.Duration) {
	p.reloadDuration.WithLabelValues(resource, string(status)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) AddFetch(resource string, method string) {
	p.fetches.WithLabelValues(resource, method).Inc()
}

// SetResourceVersion replaces the version label for a resource so the
// series count stays bounded at one per resource.
func (p *PrometheusMetrics) SetResourceVersion(resource string, version string) {
	p.mu.Lock()
	previous, seen := p.lastVersion[resource]
	p.lastVersion[resource] = version
	p.mu.Unlock()

	if seen && previous != version {
		p.versionInfo.DeleteLabelValues(resource, previous)
	}
	p.versionInfo.WithLabelValues(resource, version).Set(1)
}

func (p *PrometheusMetrics) SetServiceReady(service string, ready bool) {
	value := 0.0
	if ready {
		value = 1.0
	}
	p.serviceReady.WithLabelValues(service).Set(value)
}

var _ Metrics = (*PrometheusMetrics)(nil)

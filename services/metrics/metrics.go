package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estateworker"

// Metrics holds the harvest collectors of one registry
type Metrics struct {
	FetchTotal     *prometheus.CounterVec
	FetchDelay     *prometheus.HistogramVec
	RecordsTotal   *prometheus.CounterVec
	GeocodeTotal   *prometheus.CounterVec
	ProxyPool      *prometheus.GaugeVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	LastRunSuccess prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Page fetch attempts by domain and outcome.",
		}, []string{"domain", "outcome"}),
		FetchDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_delay_seconds",
			Help:      "Delay waited before each fetch attempt.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"domain"}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Processed records by source and outcome.",
		}, []string{"source", "outcome"}),
		GeocodeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_total",
			Help:      "Location resolutions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProxyPool: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool",
			Help:      "Proxies by health state.",
		}, []string{"state"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed harvest runs by status.",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of harvest runs.",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10),
		}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without error.",
		}),
	}
}

// ObserveFetch records one fetch attempt
func (m *Metrics) ObserveFetch(domain, outcome string, delay time.Duration) {
	m.FetchTotal.WithLabelValues(domain, outcome).Inc()
	if delay > 0 {
		m.FetchDelay.WithLabelValues(domain).Observe(delay.Seconds())
	}
}

// ObserveRecord records the outcome of one record
func (m *Metrics) ObserveRecord(source, outcome string) {
	m.RecordsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveGeocode records one location resolution
func (m *Metrics) ObserveGeocode(provider, outcome string) {
	m.GeocodeTotal.WithLabelValues(provider, outcome).Inc()
}

// SetProxyStats publishes the proxy pool health
func (m *Metrics) SetProxyStats(healthy, quarantined int) {
	m.ProxyPool.WithLabelValues("healthy").Set(float64(healthy))
	m.ProxyPool.WithLabelValues("quarantined").Set(float64(quarantined))
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(err error, elapsed time.Duration) {
	m.RunDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.RunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("ok").Inc()
	m.LastRunSuccess.SetToCurrentTime()
}

// Handler serves the collectors of g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for analysis runs and
// the HTTP surface.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run statuses used as the runs_total label.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
	StatusInvalidInput     = "invalid_input"
	StatusFailed           = "failed"
)

// Collector holds every starcover metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	PropagationDuration prometheus.Histogram
	Propagations        prometheus.Counter
	PropagationSkipped  prometheus.Counter
	HandoverEvents      prometheus.Histogram
	CatalogSatellites   prometheus.Gauge
	CatalogAge          prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers the collector's metrics on reg, reusing any that are already
// registered under the same name.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.RunsTotal, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "starcover_runs_total",
		Help: "Analysis runs by final status.",
	}, []string{"status"}), "starcover_runs_total"); err != nil {
		return nil, err
	}
	if c.RunDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "starcover_run_duration_seconds",
		Help:    "Wall time of a complete analysis run.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}), "starcover_run_duration_seconds"); err != nil {
		return nil, err
	}
	if c.PropagationDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "starcover_propagation_duration_seconds",
		Help:    "Wall time of the visibility propagation loop.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}), "starcover_propagation_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Propagations, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "starcover_propagations_total",
		Help: "Successful (instant, satellite) propagations.",
	}), "starcover_propagations_total"); err != nil {
		return nil, err
	}
	if c.PropagationSkipped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "starcover_propagation_skipped_total",
		Help: "(instant, satellite) pairs skipped after a propagation failure.",
	}), "starcover_propagation_skipped_total"); err != nil {
		return nil, err
	}
	if c.HandoverEvents, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "starcover_handover_events",
		Help:    "Hand-over events detected per run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}), "starcover_handover_events"); err != nil {
		return nil, err
	}
	if c.CatalogSatellites, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "starcover_catalog_satellites",
		Help: "Satellites in the loaded catalog.",
	}), "starcover_catalog_satellites"); err != nil {
		return nil, err
	}
	if c.CatalogAge, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "starcover_catalog_age_seconds",
		Help: "Seconds since the loaded catalog was fetched.",
	}), "starcover_catalog_age_seconds"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "starcover_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "code"}), "starcover_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starcover_http_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"}), "starcover_http_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the gatherer paired with the registerer given to New.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler serves the collector's gatherer in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// RecordPropagation records one visibility loop.
func (c *Collector) RecordPropagation(d time.Duration, ok, skipped int) {
	if c == nil {
		return
	}
	c.PropagationDuration.Observe(d.Seconds())
	c.Propagations.Add(float64(ok))
	c.PropagationSkipped.Add(float64(skipped))
}

// RecordRun counts a finished run under status.
func (c *Collector) RecordRun(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunDuration.Observe(d.Seconds())
}

// ObserveHandovers records the number of hand-over events in a run.
func (c *Collector) ObserveHandovers(n int) {
	if c == nil {
		return
	}
	c.HandoverEvents.Observe(float64(n))
}

// SetCatalog updates the catalog gauges.
func (c *Collector) SetCatalog(satellites int, age time.Duration) {
	if c == nil {
		return
	}
	c.CatalogSatellites.Set(float64(satellites))
	c.CatalogAge.Set(age.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// knownRoutes are the exact paths served by the API; anything else is
// labelled "other" to bound label cardinality.
var knownRoutes = map[string]bool{
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/catalog/metadata": true,
	"/api/v1/analyses":         true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// Middleware records request count and duration for each request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		c.HTTPRequests.WithLabelValues(route, r.Method, code).Inc()
		c.HTTPDuration.WithLabelValues(route, r.Method).Observe(duration)
	})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

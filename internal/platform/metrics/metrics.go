// Package metrics exposes Prometheus instruments for the HTTP surface, the
// table store and the registry's own events.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	StoreCallDuration *prometheus.HistogramVec
	StoreErrorsTotal  *prometheus.CounterVec

	PatientMutationsTotal *prometheus.CounterVec
	ExportsTotal          prometheus.Counter
	AuditFailuresTotal    prometheus.Counter
	LoginsTotal           *prometheus.CounterVec
	PatientAccessTotal    *prometheus.CounterVec
}

// NewCollector registers every instrument on a fresh registry, together
// with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		StoreCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Table store call latency by table and action.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
		}, []string{"table", "action"}),

		StoreErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed table store calls by table and action.",
		}, []string{"table", "action"}),

		PatientMutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "patient_mutations_total",
			Help:      "Successful patient mutations by kind (create, update, delete).",
		}, []string{"kind"}),

		ExportsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "exports_total",
			Help:      "Spreadsheet exports produced.",
		}),

		AuditFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "audit_failures_total",
			Help:      "Last-edit updates that failed after a successful mutation.",
		}),

		LoginsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),

		PatientAccessTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "patient_access_total",
			Help:      "Authenticated registry requests by action and status class.",
		}, []string{"action", "class"}),
	}
}

// Registerer allows callers to add their own collectors, e.g. a gauge of
// live sessions.
func (c *Collector) Registerer() prometheus.Registerer { return c.registry }

// Gatherer exposes the registry for tests.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStoreCall records one table store call. op has the form
// "table.action".
func (c *Collector) ObserveStoreCall(op string, d time.Duration, err error) {
	table, action, ok := strings.Cut(op, ".")
	if !ok {
		action = "call"
	}
	c.StoreCallDuration.WithLabelValues(table, action).Observe(d.Seconds())
	if err != nil {
		c.StoreErrorsTotal.WithLabelValues(table, action).Inc()
	}
}

// PatientMutated counts a successful create, update or delete.
func (c *Collector) PatientMutated(kind string) {
	c.PatientMutationsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) ExportProduced() { c.ExportsTotal.Inc() }

func (c *Collector) AuditFailed() { c.AuditFailuresTotal.Inc() }

// Login counts a login attempt; outcome is "ok" or "rejected".
func (c *Collector) Login(outcome string) {
	c.LoginsTotal.WithLabelValues(outcome).Inc()
}

// PatientAccessed counts one authenticated request. status is collapsed
// to its class ("2xx", "4xx", ...).
func (c *Collector) PatientAccessed(action string, status int) {
	c.PatientAccessTotal.WithLabelValues(action, statusClass(status)).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Middleware records request count, latency and in-flight requests keyed
// by the matched route, so path parameters do not explode cardinality.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			if ec.Request().URL.Path == "/metrics" {
				return next(ec)
			}
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !ec.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			path := ec.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{ec.Request().Method, path, strconv.Itoa(status)}
			c.RequestsTotal.WithLabelValues(labels...).Inc()
			c.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

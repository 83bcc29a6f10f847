package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	listenerUp            *prometheus.GaugeVec
	bindFailures          *prometheus.CounterVec
	refreshTotal          prometheus.Counter
	refreshDuration       prometheus.Histogram
	credentialGenerations *prometheus.CounterVec
	certValidDays         prometheus.Gauge
	certCompliant         prometheus.Gauge
	certExpiryTimestamp   prometheus.Gauge
	settingsSaves         *prometheus.CounterVec
	authFailures          *prometheus.CounterVec
	registry              *prometheus.Registry
}

// NewMetrics creates a new Metrics instance registered on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "localrest"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.listenerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_up",
			Help: "Whether the listener is bound " +
				"(1=bound, 0=closed)",
		},
		[]string{"listener"},
	)

	m.bindFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_bind_failures_total",
			Help:      "Total number of listener bind failures",
		},
		[]string{"listener"},
	)

	m.refreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_refresh_total",
			Help:      "Total number of listener refresh operations",
		},
	)

	m.refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "listener_refresh_duration_seconds",
			Help:      "Duration of listener refresh operations",
			Buckets: []float64{
				.001, .005, .01, .05, .1, .5, 1, 5,
			},
		},
	)

	m.credentialGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_generations_total",
			Help: "Total number of credential generations " +
				"by kind and result",
		},
		[]string{"kind", "result"},
	)

	m.certValidDays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_valid_days",
			Help: "Days until the active certificate expires " +
				"(negative when expired)",
		},
	)

	m.certCompliant = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_standards_compliant",
			Help: "Whether the active certificate meets current " +
				"digest, key size and extension requirements",
		},
	)

	m.certExpiryTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_expiry_timestamp_seconds",
			Help:      "Unix timestamp when the active certificate expires",
		},
	)

	m.settingsSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_saves_total",
			Help:      "Total number of settings persistence attempts",
		},
		[]string{"result"},
	)

	m.authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected bearer authentications",
		},
		[]string{"reason"},
	)

	m.registry.MustRegister(
		m.listenerUp,
		m.bindFailures,
		m.refreshTotal,
		m.refreshDuration,
		m.credentialGenerations,
		m.certValidDays,
		m.certCompliant,
		m.certExpiryTimestamp,
		m.settingsSaves,
		m.authFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// SetListenerUp records whether the named listener is bound.
func (m *Metrics) SetListenerUp(listener string, up bool) {
	if m == nil {
		return
	}
	m.listenerUp.WithLabelValues(listener).Set(boolToFloat(up))
}

// RecordBindFailure records a failed bind for the named listener.
func (m *Metrics) RecordBindFailure(listener string) {
	if m == nil {
		return
	}
	m.bindFailures.WithLabelValues(listener).Inc()
}

// RecordRefresh records a completed refresh.
func (m *Metrics) RecordRefresh(duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// RecordCredentialGeneration records an API key or identity generation.
func (m *Metrics) RecordCredentialGeneration(kind string, err error) {
	if m == nil {
		return
	}
	m.credentialGenerations.WithLabelValues(kind, result(err)).Inc()
}

// SetCertificateHealth updates the certificate gauges.
func (m *Metrics) SetCertificateHealth(validDays float64, compliant bool, notAfter time.Time) {
	if m == nil {
		return
	}
	m.certValidDays.Set(validDays)
	m.certCompliant.Set(boolToFloat(compliant))
	if notAfter.IsZero() {
		m.certExpiryTimestamp.Set(0)
		return
	}
	m.certExpiryTimestamp.Set(float64(notAfter.Unix()))
}

// RecordSettingsSave records a settings persistence attempt.
func (m *Metrics) RecordSettingsSave(err error) {
	if m == nil {
		return
	}
	m.settingsSaves.WithLabelValues(result(err)).Inc()
}

// RecordAuthFailure records a rejected request.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Package router provides the HTTP handler served on both listeners.
//
// It exposes the active certificate at a well-known path, a status document,
// Prometheus metrics, and an /api group gated by the bearer API key. Secrets
// and the certificate are read from a Source on every request, so settings
// edits take effect without rebuilding the router.
package router

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/localrest/internal/inspector"
	"github.com/vyrodovalexey/localrest/internal/observability"
)

// CertificatePath is the well-known path of the certificate download.
const CertificatePath = "/localrest.crt"

// ServiceName is reported by the status endpoint.
const ServiceName = "localrest"

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Source supplies the values the router needs on each request.
type Source interface {
	// APIKey returns the current bearer secret.
	APIKey() string
	// AuthorizationHeaderName returns the header carrying the bearer token.
	AuthorizationHeaderName() string
	// CertificatePEM returns the active certificate, or "".
	CertificatePEM() string
	// CertificateReport returns the inspection report of the active
	// certificate, or nil when there is none.
	CertificateReport(now time.Time) *inspector.Report
}

// Router is the gin engine with the service routes installed.
type Router struct {
	engine  *gin.Engine
	source  Source
	logger  observability.Logger
	metrics *observability.Metrics
	limiter *FailureLimiter
	version string
	now     func() time.Time
}

// Option is a functional option for configuring the Router.
type Option func(*Router)

// WithLogger sets the logger for the router.
func WithLogger(logger observability.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics exposed at /metrics and fed by auth failures.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// WithVersion sets the version reported by the status endpoint.
func WithVersion(version string) Option {
	return func(r *Router) {
		r.version = version
	}
}

// WithFailureLimiter replaces the failed-authentication limiter.
func WithFailureLimiter(limiter *FailureLimiter) Option {
	return func(r *Router) {
		r.limiter = limiter
	}
}

// WithNow sets the time source used for certificate reports.
func WithNow(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a Router reading secrets from source.
func New(source Source, opts ...Option) *Router {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	r := &Router{
		source:  source,
		logger:  observability.NopLogger(),
		version: "dev",
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.limiter == nil {
		r.limiter = NewFailureLimiter(DefaultFailureRate, DefaultFailureBurst)
	}

	engine := gin.New()
	// Local service: client IP is always the socket peer.
	_ = engine.SetTrustedProxies(nil)
	engine.HandleMethodNotAllowed = false

	engine.Use(
		recovery(r.logger),
		requestID(),
		accessLog(r.logger),
	)

	engine.GET("/", r.handleStatus)
	engine.GET(CertificatePath, r.handleCertificate)
	engine.GET("/metrics", r.requireAuth(), gin.WrapH(r.metrics.Handler()))

	api := engine.Group("/api", r.requireAuth())
	api.GET("/status", r.handleAPIStatus)

	engine.NoRoute(r.handleNotFound)

	r.engine = engine
	return r
}

// Handler returns the router as an http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}

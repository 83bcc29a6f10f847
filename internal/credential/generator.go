// Package credential produces the secrets the local REST service runs on:
// the bearer API key and the self-signed TLS identity.
//
// Generation is pure computation. Callers own persistence and decide when to
// regenerate; a generation failure must abort activation.
package credential

import (
	"crypto/rand"
	"io"

	"github.com/vyrodovalexey/localrest/internal/observability"
)

// Credential kinds used in logs and metrics.
const (
	KindAPIKey   = "api_key"
	KindIdentity = "identity"
)

// Generator creates API keys and identities.
type Generator struct {
	random  io.Reader
	logger  observability.Logger
	metrics *observability.Metrics
}

// Option is a functional option for configuring the Generator.
type Option func(*Generator)

// WithLogger sets the logger for the generator.
func WithLogger(logger observability.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink for the generator.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Generator) {
		g.metrics = metrics
	}
}

// WithRandom overrides the entropy source for API keys.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

// NewGenerator creates a new Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		random: rand.Reader,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

var defaultGenerator = NewGenerator()

// GenerateAPIKey creates an API key with the default generator.
func GenerateAPIKey() (string, error) {
	return defaultGenerator.APIKey()
}

// GenerateIdentity creates an identity with the default generator.
func GenerateIdentity(cfg IdentityConfig) (*Identity, error) {
	return defaultGenerator.Identity(cfg)
}

// Package listener owns the secure and insecure listener sockets of the
// local REST service.
//
// The Orchestrator reconciles live listeners with a settings snapshot through
// one idempotent Refresh operation. Every prior listener is closed before its
// replacement is bound, and the secure listener is always rebuilt before the
// insecure listener's desired state is evaluated.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/util"
)

// DefaultShutdownTimeout bounds graceful shutdown of one listener.
const DefaultShutdownTimeout = 5 * time.Second

// State is the orchestrator's listener state.
type State int

const (
	// StateStopped means no listener is bound.
	StateStopped State = iota
	// StateSecureOnly means only the secure listener is bound.
	StateSecureOnly
	// StateSecureAndInsecure means both listeners are bound.
	StateSecureAndInsecure
	// StateInsecureOnly means the secure bind failed while the insecure
	// listener is bound.
	StateInsecureOnly
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateSecureOnly:
		return "SecureOnly"
	case StateSecureAndInsecure:
		return "SecureAndInsecure"
	case StateInsecureOnly:
		return "InsecureOnly"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the listener-relevant part of the settings.
type Snapshot struct {
	BindingHost    string
	Port           int
	InsecurePort   int
	EnableInsecure bool
	CertificatePEM string
	PrivateKeyPEM  string
}

// SecureAddr returns the configured secure listener address.
func (s Snapshot) SecureAddr() string {
	return net.JoinHostPort(s.BindingHost, strconv.Itoa(s.Port))
}

// InsecureAddr returns the configured insecure listener address.
func (s Snapshot) InsecureAddr() string {
	return net.JoinHostPort(s.BindingHost, strconv.Itoa(s.InsecurePort))
}

// ListenerOutcome is the result of reconciling one listener.
type ListenerOutcome struct {
	// Addr is the bound address, or the attempted address on failure.
	Addr string
	// Bound reports whether the listener is live after the refresh.
	Bound bool
	// Err is a *util.ListenerError when the bind failed.
	Err error
}

// RefreshResult reports the outcome of each listener separately.
type RefreshResult struct {
	Secure   ListenerOutcome
	Insecure ListenerOutcome
}

// Err joins the per-listener errors. It is nil when every requested listener
// bound.
func (r *RefreshResult) Err() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Secure.Err, r.Insecure.Err)
}

// Orchestrator owns the secure and insecure listeners.
type Orchestrator struct {
	handler         http.Handler
	logger          observability.Logger
	metrics         *observability.Metrics
	shutdownTimeout time.Duration
	listenConfig    net.ListenConfig

	mu       sync.Mutex
	secure   *server
	insecure *server
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for the orchestrator.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics for the orchestrator.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithShutdownTimeout bounds graceful shutdown of each listener.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.shutdownTimeout = timeout
	}
}

// WithListenConfig sets the socket options used to bind listeners.
func WithListenConfig(lc net.ListenConfig) Option {
	return func(o *Orchestrator) {
		o.listenConfig = lc
	}
}

// NewOrchestrator creates an orchestrator serving handler on every listener.
func NewOrchestrator(handler http.Handler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		handler:         handler,
		logger:          observability.NopLogger(),
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Refresh reconciles the listeners with snap. The secure listener is closed
// and rebound first; then the insecure listener is closed and, when enabled,
// rebound. Bind failures are reported per listener in the result and never
// returned as a panic or a single error.
func (o *Orchestrator) Refresh(ctx context.Context, snap Snapshot) *RefreshResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	result := &RefreshResult{}

	_ = o.closeLocked(ctx, KindSecure)
	result.Secure = o.bindLocked(ctx, KindSecure, snap)

	_ = o.closeLocked(ctx, KindInsecure)
	if snap.EnableInsecure {
		result.Insecure = o.bindLocked(ctx, KindInsecure, snap)
	} else {
		result.Insecure = ListenerOutcome{Addr: snap.InsecureAddr()}
	}

	o.metrics.RecordRefresh(time.Since(start))

	o.logger.Info("listeners refreshed",
		observability.String("state", o.stateLocked().String()),
		observability.Bool("secureBound", result.Secure.Bound),
		observability.Bool("insecureBound", result.Insecure.Bound),
		observability.Duration("duration", time.Since(start)),
	)

	return result
}

// Shutdown closes both listeners. It is safe to call repeatedly.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	errs := []error{
		o.closeLocked(ctx, KindSecure),
		o.closeLocked(ctx, KindInsecure),
	}

	return errors.Join(errs...)
}

// State returns the current listener state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Addr returns the bound address of the listener, or "" when not bound.
func (o *Orchestrator) Addr(kind Kind) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s := o.slot(kind); *s != nil {
		return (*s).addr()
	}
	return ""
}

// Ready returns a channel closed once the listener's serve loop is running.
// It returns nil when the listener is not bound.
func (o *Orchestrator) Ready(kind Kind) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s := o.slot(kind); *s != nil {
		return (*s).ready
	}
	return nil
}

func (o *Orchestrator) slot(kind Kind) **server {
	if kind == KindSecure {
		return &o.secure
	}
	return &o.insecure
}

func (o *Orchestrator) stateLocked() State {
	switch {
	case o.secure != nil && o.insecure != nil:
		return StateSecureAndInsecure
	case o.secure != nil:
		return StateSecureOnly
	case o.insecure != nil:
		return StateInsecureOnly
	default:
		return StateStopped
	}
}

// closeLocked stops the listener of the given kind if one is bound.
func (o *Orchestrator) closeLocked(ctx context.Context, kind Kind) error {
	s := o.slot(kind)
	if *s == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, o.shutdownTimeout)
	defer cancel()

	err := (*s).stop(stopCtx)
	*s = nil
	o.metrics.SetListenerUp(string(kind), false)

	if err != nil {
		o.logger.Warn("listener did not shut down gracefully",
			observability.String("listener", string(kind)),
			observability.Error(err),
		)
	}
	return err
}

// bindLocked binds and starts the listener of the given kind.
func (o *Orchestrator) bindLocked(ctx context.Context, kind Kind, snap Snapshot) ListenerOutcome {
	addr := snap.InsecureAddr()
	if kind == KindSecure {
		addr = snap.SecureAddr()
	}

	fail := func(cause error) ListenerOutcome {
		err := util.NewListenerError(string(kind), addr, cause)
		o.metrics.RecordBindFailure(string(kind))
		o.logger.Error("failed to bind listener",
			observability.String("listener", string(kind)),
			observability.String("address", addr),
			observability.Error(err),
		)
		return ListenerOutcome{Addr: addr, Err: err}
	}

	var tlsConfig *tls.Config
	if kind == KindSecure {
		cfg, err := TLSConfigFromPEM(snap.CertificatePEM, snap.PrivateKeyPEM)
		if err != nil {
			return fail(err)
		}
		tlsConfig = cfg
	}

	ln, err := o.listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return fail(err)
	}

	s := newServer(kind, ln, o.handler, tlsConfig, o.logger)
	*o.slot(kind) = s
	s.start()

	o.metrics.SetListenerUp(string(kind), true)
	o.logger.Info("listener started",
		observability.String("listener", string(kind)),
		observability.String("address", s.addr()),
	)

	return ListenerOutcome{Addr: s.addr(), Bound: true}
}

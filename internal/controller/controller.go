// Package controller owns the live settings of the local REST service.
//
// The Controller is the only component that mutates settings. It populates
// missing credentials, persists every change, keeps the certificate health
// metrics current and drives the listener orchestrator. Edits are coalesced
// so a burst of changes causes a single rebind; resets rebind immediately.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/localrest/internal/coalesce"
	"github.com/vyrodovalexey/localrest/internal/credential"
	"github.com/vyrodovalexey/localrest/internal/inspector"
	"github.com/vyrodovalexey/localrest/internal/listener"
	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/settings"
)

// DefaultDebounce is the quiescence window for coalescing edits.
const DefaultDebounce = time.Second

var (
	// ErrNotActive is returned by mutating calls before Activate succeeds.
	ErrNotActive = errors.New("controller not active")

	// ErrShutdown is returned by calls made after Shutdown.
	ErrShutdown = errors.New("controller shut down")
)

// Controller is the single owner of the in-memory settings.
type Controller struct {
	store        settings.Store
	generator    *credential.Generator
	orchestrator *listener.Orchestrator
	logger       observability.Logger
	metrics      *observability.Metrics
	clock        coalesce.Clock
	debounce     time.Duration
	refresher    *coalesce.Coalescer[revision]

	// writeMu serializes mutations. Credentials are generated under it,
	// never under mu.
	writeMu sync.Mutex

	mu          sync.RWMutex
	current     *settings.Settings
	generation  uint64
	lastRefresh *listener.RefreshResult
	watcher     *settings.Watcher
	active      bool
	closed      bool

	refreshMu sync.Mutex
	applied   uint64

	saveMu sync.Mutex
	saves  sync.WaitGroup
}

// revision is a settings snapshot tagged with the generation it was taken
// at. Refreshes never apply a generation older than the last one applied.
type revision struct {
	settings   *settings.Settings
	generation uint64
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithLogger sets the logger for the controller.
func WithLogger(logger observability.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink for the controller.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = metrics
	}
}

// WithClock sets the clock for edit coalescing and certificate issuance.
func WithClock(clock coalesce.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithDebounce sets the edit coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		c.debounce = d
	}
}

// New creates a Controller. Call Activate before use.
func New(
	store settings.Store,
	generator *credential.Generator,
	orchestrator *listener.Orchestrator,
	opts ...Option,
) *Controller {
	c := &Controller{
		store:        store,
		generator:    generator,
		orchestrator: orchestrator,
		logger:       observability.NopLogger(),
		clock:        coalesce.RealClock(),
		debounce:     DefaultDebounce,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.refresher = coalesce.Wrap(func(rev revision) {
		c.refresh(context.Background(), rev)
	}, c.debounce, coalesce.WithClock(c.clock))

	return c
}

// Activate loads the settings, generates any missing credentials, persists
// them and binds the listeners. A credential generation failure is returned
// and must abort startup. Bind failures are not: they are logged and visible
// through LastRefresh.
func (c *Controller) Activate(ctx context.Context) error {
	loaded, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	loaded.ApplyDefaults()
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("stored settings: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrShutdown
	}

	generated, err := c.ensureCredentials(loaded)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.current = loaded
	c.active = true
	rev := c.commitLocked()
	c.mu.Unlock()
	snap := rev.settings

	if generated {
		c.persist()
	}
	c.checkCertificate(snap)

	c.logger.Info("settings activated",
		observability.Int("port", snap.Port),
		observability.Int("insecurePort", snap.InsecurePort),
		observability.String("bindingHost", snap.BindingHost),
		observability.Bool("enableInsecureServer", snap.EnableInsecureServer),
	)

	c.refresh(ctx, rev)
	return nil
}

// Snapshot returns a copy of the current settings.
func (c *Controller) Snapshot() settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return *settings.Defaults()
	}
	return *c.current.Clone()
}

// Update applies mutate to a copy of the settings. The result is validated
// before it replaces the live settings; it is then persisted and a coalesced
// refresh is scheduled. Clearing APIKey or Crypto regenerates them.
func (c *Controller) Update(mutate func(*settings.Settings)) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev, err := c.liveCopy()
	if err != nil {
		return err
	}

	next := prev.Clone()
	mutate(next)
	next.ApplyDefaults()

	if err := next.Validate(); err != nil {
		return err
	}

	if _, err := c.ensureCredentials(next); err != nil {
		return err
	}

	rev, err := c.commit(next)
	if err != nil {
		return err
	}
	cryptoChanged := !sameCrypto(prev.Crypto, next.Crypto)

	c.persist()
	if cryptoChanged {
		c.checkCertificate(rev.settings)
	}
	c.refresher.Trigger(rev)

	return nil
}

// ResetAll replaces both the API key and the identity, then rebinds
// immediately.
func (c *Controller) ResetAll(ctx context.Context) error {
	return c.regenerate(ctx, true)
}

// RegenerateCertificate replaces the identity, keeping the API key, then
// rebinds immediately.
func (c *Controller) RegenerateCertificate(ctx context.Context) error {
	return c.regenerate(ctx, false)
}

func (c *Controller) regenerate(ctx context.Context, apiKey bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, err := c.liveCopy()
	if err != nil {
		return err
	}

	if apiKey {
		next.APIKey = ""
	}
	next.Crypto = nil

	if _, err := c.ensureCredentials(next); err != nil {
		return err
	}

	rev, err := c.commit(next)
	if err != nil {
		return err
	}

	c.logger.Info("credentials regenerated", observability.Bool("apiKey", apiKey))

	c.persist()
	c.checkCertificate(rev.settings)

	// A pending coalesced refresh would carry the old identity.
	c.refresher.Cancel()
	c.refresh(ctx, rev)

	return nil
}

// ReplaceSettings swaps in settings edited outside the process. Invalid
// settings are rejected; missing credentials are generated.
func (c *Controller) ReplaceSettings(s *settings.Settings) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev, err := c.liveCopy()
	if err != nil {
		return err
	}

	next := s.Clone()
	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	generated, err := c.ensureCredentials(next)
	if err != nil {
		return err
	}

	rev, err := c.commit(next)
	if err != nil {
		return err
	}
	cryptoChanged := !sameCrypto(prev.Crypto, next.Crypto)

	c.logger.Info("settings replaced by external edit")

	if generated {
		c.persist()
	}
	if cryptoChanged {
		c.checkCertificate(rev.settings)
	}
	c.refresher.Trigger(rev)

	return nil
}

// Watch starts a watcher on store's file that feeds external edits into
// ReplaceSettings. The watcher is stopped by Shutdown.
func (c *Controller) Watch(ctx context.Context, store *settings.FileStore, opts ...settings.WatcherOption) error {
	base := []settings.WatcherOption{
		settings.WithLogger(c.logger),
		settings.WithErrorCallback(func(err error) {
			c.logger.Warn("ignoring unreadable settings file", observability.Error(err))
		}),
	}

	w, err := settings.NewWatcher(store, func(s *settings.Settings) {
		if err := c.ReplaceSettings(s); err != nil {
			c.logger.Warn("rejected external settings edit", observability.Error(err))
		}
	}, append(base, opts...)...)
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = w.Stop()
		return ErrShutdown
	}
	if c.watcher != nil {
		c.mu.Unlock()
		_ = w.Stop()
		return errors.New("settings watcher already running")
	}
	c.watcher = w
	c.mu.Unlock()

	return w.Start(ctx)
}

// CertificateReport inspects the active certificate. It returns nil when no
// certificate is set or it cannot be parsed.
func (c *Controller) CertificateReport(now time.Time) *inspector.Report {
	certPEM := c.CertificatePEM()
	if certPEM == "" {
		return nil
	}

	report, err := inspector.Inspect(certPEM, now)
	if err != nil {
		c.logger.Debug("failed to inspect certificate", observability.Error(err))
		return nil
	}
	return report
}

// LastRefresh returns the outcome of the most recent listener refresh.
func (c *Controller) LastRefresh() *listener.RefreshResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// APIKey returns the current bearer secret.
func (c *Controller) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return ""
	}
	return c.current.APIKey
}

// AuthorizationHeaderName returns the header carrying the bearer token.
func (c *Controller) AuthorizationHeaderName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return settings.DefaultAuthorizationHeaderName
	}
	return c.current.AuthorizationHeaderName
}

// CertificatePEM returns the active certificate, or "" if none is set.
func (c *Controller) CertificatePEM() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil || c.current.Crypto == nil {
		return ""
	}
	return c.current.Crypto.CertificatePEM
}

// Shutdown drops any pending refresh, stops the watcher, closes the
// listeners and waits for in-flight saves. A mutation already in progress
// completes first; no listener is bound once Shutdown returns. It is safe to
// call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	c.refresher.Stop()

	var errs []error
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop settings watcher: %w", err))
		}
	}

	// writeMu waits out a mutation that committed before closed was set;
	// refreshMu waits out a refresh already binding.
	c.writeMu.Lock()
	c.refreshMu.Lock()
	err := c.orchestrator.Shutdown(ctx)
	c.refreshMu.Unlock()
	c.writeMu.Unlock()
	if err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		c.saves.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for settings save: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// liveCopy returns a copy of the live settings for a mutation to work on.
func (c *Controller) liveCopy() (*settings.Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	return c.current.Clone(), nil
}

// commit installs next as the live settings unless the controller was shut
// down while next was prepared.
func (c *Controller) commit(next *settings.Settings) (revision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return revision{}, ErrShutdown
	}
	c.current = next
	return c.commitLocked(), nil
}

func (c *Controller) usableLocked() error {
	if c.closed {
		return ErrShutdown
	}
	if !c.active {
		return ErrNotActive
	}
	return nil
}

// ensureCredentials fills a missing API key or identity in s. It reports
// whether anything was generated. Key generation is slow; callers hold
// writeMu, not mu.
func (c *Controller) ensureCredentials(s *settings.Settings) (bool, error) {
	generated := false

	if s.APIKey == "" {
		key, err := c.generator.APIKey()
		if err != nil {
			return false, err
		}
		s.APIKey = key
		generated = true
	}

	if s.Crypto == nil {
		cfg := credential.IdentityConfigFromSettings(s)
		cfg.Now = c.clock.Now

		id, err := c.generator.Identity(cfg)
		if err != nil {
			return false, err
		}
		s.Crypto = id.Crypto()
		generated = true
	}

	return generated, nil
}

// persist saves the live settings without blocking the caller. Saves are
// serialized and each writes the newest state, so a slow save cannot
// overwrite a later one.
func (c *Controller) persist() {
	c.saves.Add(1)
	go func() {
		defer c.saves.Done()

		c.saveMu.Lock()
		defer c.saveMu.Unlock()

		c.mu.RLock()
		snap := c.current.Clone()
		c.mu.RUnlock()

		err := c.store.Save(snap)
		c.metrics.RecordSettingsSave(err)
		if err != nil {
			c.logger.Error("failed to save settings", observability.Error(err))
		}
	}()
}

// checkCertificate publishes certificate health and warns when the
// certificate is expired or not standards compliant.
func (c *Controller) checkCertificate(s *settings.Settings) {
	if s.Crypto == nil {
		return
	}

	report, err := inspector.Inspect(s.Crypto.CertificatePEM, c.clock.Now())
	if err != nil {
		c.logger.Warn("stored certificate cannot be parsed", observability.Error(err))
		return
	}

	c.metrics.SetCertificateHealth(report.RemainingDays, report.Compliant, report.NotAfter)

	if report.Expired {
		c.logger.Warn("certificate has expired, regenerate it",
			observability.Time("notAfter", report.NotAfter),
		)
	}
	if !report.Compliant {
		c.logger.Warn("certificate is not standards compliant, regenerate it",
			observability.Strings("problems", report.Problems),
		)
	}
}

// commitLocked bumps the generation and returns a snapshot of the live
// settings tagged with it.
func (c *Controller) commitLocked() revision {
	c.generation++
	return revision{settings: c.current.Clone(), generation: c.generation}
}

func (c *Controller) refresh(ctx context.Context, rev revision) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.isClosed() {
		return
	}
	if rev.generation < c.applied {
		c.logger.Debug("skipping stale refresh",
			observability.Int64("generation", int64(rev.generation)),
			observability.Int64("applied", int64(c.applied)),
		)
		return
	}
	c.applied = rev.generation

	result := c.orchestrator.Refresh(ctx, SnapshotFromSettings(rev.settings))
	if err := result.Err(); err != nil {
		c.logger.Warn("listener refresh incomplete", observability.Error(err))
	}

	c.mu.Lock()
	c.lastRefresh = result
	c.mu.Unlock()
}

// SnapshotFromSettings extracts the listener configuration from s.
func SnapshotFromSettings(s *settings.Settings) listener.Snapshot {
	snap := listener.Snapshot{
		BindingHost:    s.BindingHost,
		Port:           s.Port,
		InsecurePort:   s.InsecurePort,
		EnableInsecure: s.EnableInsecureServer,
	}
	if s.Crypto != nil {
		snap.CertificatePEM = s.Crypto.CertificatePEM
		snap.PrivateKeyPEM = s.Crypto.PrivateKeyPEM
	}
	return snap
}

func sameCrypto(a, b *settings.Crypto) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

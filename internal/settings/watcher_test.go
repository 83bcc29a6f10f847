package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/localrest/internal/observability"
)

func newTestWatcher(t *testing.T, store *FileStore) (*Watcher, <-chan *Settings, <-chan error) {
	t.Helper()

	changes := make(chan *Settings, 4)
	errs := make(chan error, 4)

	w, err := NewWatcher(store, func(s *Settings) { changes <- s },
		WithDebounceDelay(20*time.Millisecond),
		WithLogger(observability.NopLogger()),
		WithErrorCallback(func(err error) { errs <- err }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, w.Stop())
		cancel()
	})

	return w, changes, errs
}

func TestNewWatcher_Options(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "localrest.yaml"))
	logger := observability.NopLogger()

	w, err := NewWatcher(store, func(*Settings) {},
		WithDebounceDelay(250*time.Millisecond),
		WithLogger(logger),
	)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, w.debounceDelay)
	assert.Equal(t, logger, w.logger)
	assert.True(t, filepath.IsAbs(w.path))
	require.NoError(t, w.Stop())
}

func TestWatcher_ExternalEditTriggersCallback(t *testing.T) {
	// Not parallel due to file system notifications

	path := filepath.Join(t.TempDir(), "localrest.yaml")
	store := NewFileStore(path)
	require.NoError(t, store.Save(Defaults()))

	_, changes, _ := newTestWatcher(t, store)

	require.NoError(t, os.WriteFile(path, []byte("port: 9999\nenableInsecureServer: true\n"), 0o600))

	select {
	case s := <-changes:
		assert.Equal(t, 9999, s.Port)
		assert.True(t, s.EnableInsecureServer)
	case <-time.After(5 * time.Second):
		t.Fatal("expected change callback")
	}
}

func TestWatcher_OwnWriteIgnored(t *testing.T) {
	// Not parallel due to file system notifications

	path := filepath.Join(t.TempDir(), "localrest.yaml")
	store := NewFileStore(path)
	require.NoError(t, store.Save(Defaults()))

	_, changes, errs := newTestWatcher(t, store)

	s := Defaults()
	s.Port = 1234
	require.NoError(t, store.Save(s))

	select {
	case got := <-changes:
		t.Fatalf("unexpected callback for own write: %+v", got)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_InvalidEditReportsError(t *testing.T) {
	// Not parallel due to file system notifications

	path := filepath.Join(t.TempDir(), "localrest.yaml")
	store := NewFileStore(path)
	require.NoError(t, store.Save(Defaults()))

	_, changes, errs := newTestWatcher(t, store)

	require.NoError(t, os.WriteFile(path, []byte("port: 70000\n"), 0o600))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case s := <-changes:
		t.Fatalf("invalid settings must not reach the callback: %+v", s)
	case <-time.After(5 * time.Second):
		t.Fatal("expected error callback")
	}
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "localrest.yaml"))
	var mu sync.Mutex
	w, err := NewWatcher(store, func(*Settings) { mu.Lock(); mu.Unlock() })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

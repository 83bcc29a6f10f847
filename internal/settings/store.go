package settings

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/vyrodovalexey/localrest/internal/util"
)

// Store persists settings. Load returns stored values merged over Defaults.
type Store interface {
	Load() (*Settings, error)
	Save(s *Settings) error
}

// OpenStore picks a Store implementation from the path extension: ".db" and
// ".bolt" open a BoltStore, anything else a YAML FileStore.
func OpenStore(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, util.NewConfigError("settingsPath", "must not be empty")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".bolt":
		return OpenBoltStore(path)
	default:
		return NewFileStore(path), nil
	}
}

// MemoryStore keeps settings in memory. It is used by embedding hosts that
// own persistence themselves and by tests.
type MemoryStore struct {
	mu    sync.Mutex
	saved *Settings
	saves int
}

// NewMemoryStore creates a MemoryStore, optionally seeded with initial.
func NewMemoryStore(initial *Settings) *MemoryStore {
	return &MemoryStore{saved: initial.Clone()}
}

// Load implements Store.
func (m *MemoryStore) Load() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saved == nil {
		return Defaults(), nil
	}
	s := m.saved.Clone()
	s.ApplyDefaults()
	return s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = s.Clone()
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

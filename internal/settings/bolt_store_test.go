package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_EmptyDatabaseReturnsDefaults(t *testing.T) {
	t.Parallel()

	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "state", "localrest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestBoltStore_SaveLoadAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "localrest.db")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)

	s := Defaults()
	s.APIKey = "feedface"
	s.Crypto = &Crypto{CertificatePEM: "c", PrivateKeyPEM: "k", PublicKeyPEM: "p"}
	s.BindingHost = "0.0.0.0"
	s.SubjectAltNames = "a.local\nb.local"
	require.NoError(t, store.Save(s))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestBoltStore_OverwriteReplacesCryptoAtomically(t *testing.T) {
	t.Parallel()

	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "localrest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	first := Defaults()
	first.Crypto = &Crypto{CertificatePEM: "c1", PrivateKeyPEM: "k1", PublicKeyPEM: "p1"}
	require.NoError(t, store.Save(first))

	second := first.Clone()
	second.Crypto = &Crypto{CertificatePEM: "c2", PrivateKeyPEM: "k2", PublicKeyPEM: "p2"}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, second.Crypto, loaded.Crypto)
}

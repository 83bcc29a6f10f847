package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var (
	bucketSettings = []byte("settings")
	keyCurrent     = []byte("current")
)

// BoltStore persists settings as a CBOR document in a bbolt database. It is
// meant for hosts that already keep their state in a single database file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load implements Store.
func (b *BoltStore) Load() (*Settings, error) {
	s := Defaults()

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(keyCurrent)
		if data == nil {
			return nil
		}
		return cbor.Unmarshal(data, s)
	})
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.ApplyDefaults()

	return s, nil
}

// Save implements Store.
func (b *BoltStore) Save(s *Settings) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keyCurrent, data)
	})
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

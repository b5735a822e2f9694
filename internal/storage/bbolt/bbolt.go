// Package bbolt provides a BBolt-backed storage tier.
package bbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"archivist/internal/storage"
)

// Bucket names for the two vault tiers.
const (
	SecureBucket = "secure"
	CacheBucket  = "cache"
)

// DefaultOpenTimeout bounds how long Open waits for the database file lock.
const DefaultOpenTimeout = 2 * time.Second

// Store implements storage.Store on a single bucket of a BBolt database.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store on bucket, creating the bucket if needed.
func NewStore(db *bbolt.DB, bucket string) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return &Store{db: db, bucket: []byte(bucket)}, nil
}

func (s *Store) Set(key, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		// data is only valid inside the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Remove(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// OpenVault opens (or creates) the database at path and returns a vault
// whose secure tier is sealed with sealer. bbolt holds an exclusive file
// lock, so a database is owned by one process at a time.
func OpenVault(path string, sealer *storage.Sealer) (*storage.Vault, error) {
	if sealer == nil {
		return nil, fmt.Errorf("bbolt vault requires a sealer")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating bbolt directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: DefaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}

	secure, err := NewStore(db, SecureBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	cache, err := NewStore(db, CacheBucket)
	if err != nil {
		db.Close()
		return nil, err
	}

	return storage.NewVault(storage.NewSealedStore(secure, sealer), cache, db), nil
}

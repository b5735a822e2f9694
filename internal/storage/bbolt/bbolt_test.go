package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"archivist/internal/storage"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSealer(t *testing.T) *storage.Sealer {
	t.Helper()
	master := make([]byte, storage.MasterKeySize)
	for i := range master {
		master[i] = byte(i * 3)
	}
	s, err := storage.NewSealer(master)
	require.NoError(t, err)
	return s
}

func TestStore_SetGetRemove(t *testing.T) {
	s, err := NewStore(openTestDB(t), CacheBucket)
	require.NoError(t, err)

	_, err = s.Get(storage.KeyProfile)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(storage.KeyProfile, `{"id":"u1"}`))
	v, err := s.Get(storage.KeyProfile)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, v)

	require.NoError(t, s.Remove(storage.KeyProfile))
	_, err = s.Get(storage.KeyProfile)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, s.Remove(storage.KeyProfile))
}

func TestStore_BucketsAreIndependent(t *testing.T) {
	db := openTestDB(t)
	secure, err := NewStore(db, SecureBucket)
	require.NoError(t, err)
	cache, err := NewStore(db, CacheBucket)
	require.NoError(t, err)

	require.NoError(t, secure.Set(storage.KeyAccessToken, "a"))
	_, err = cache.Get(storage.KeyAccessToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_InvalidKey(t *testing.T) {
	s, err := NewStore(openTestDB(t), CacheBucket)
	require.NoError(t, err)
	assert.Error(t, s.Set("../escape", "v"))
}

func TestOpenVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archivist.db")
	sealer := testSealer(t)

	v, err := OpenVault(path, sealer)
	require.NoError(t, err)
	require.NoError(t, v.Secure().Set(storage.KeyRefreshToken, "r1"))
	require.NoError(t, v.Cache().Set(storage.KeyProfile, "p"))
	assert.Empty(t, v.WatchDirs())
	require.NoError(t, v.Close())

	v, err = OpenVault(path, sealer)
	require.NoError(t, err)
	defer v.Close()

	got, err := v.Secure().Get(storage.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "r1", got)

	got, err = v.Cache().Get(storage.KeyProfile)
	require.NoError(t, err)
	assert.Equal(t, "p", got)
}

func TestOpenVault_SecureTierIsSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivist.db")
	v, err := OpenVault(path, testSealer(t))
	require.NoError(t, err)
	require.NoError(t, v.Secure().Set(storage.KeyAccessToken, "plain-value"))
	require.NoError(t, v.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	raw, err := (&Store{db: db, bucket: []byte(SecureBucket)}).Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.NotContains(t, raw, "plain-value")
}

func TestOpenVault_RequiresSealer(t *testing.T) {
	_, err := OpenVault(filepath.Join(t.TempDir(), "x.db"), nil)
	assert.Error(t, err)
}

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealedStore_CiphertextAtRest(t *testing.T) {
	inner := NewMemoryStore()
	s := NewSealedStore(inner, testSealer(t))

	require.NoError(t, s.Set(KeyAccessToken, "plain-access-token"))

	raw, err := inner.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, "plain-access-token")
}

func TestSealedStore_KeyBinding(t *testing.T) {
	inner := NewMemoryStore()
	s := NewSealedStore(inner, testSealer(t))

	require.NoError(t, s.Set(KeyAccessToken, "access"))

	// Copy the access token ciphertext into the refresh token slot.
	raw, err := inner.Get(KeyAccessToken)
	require.NoError(t, err)
	require.NoError(t, inner.Set(KeyRefreshToken, raw))

	_, err = s.Get(KeyRefreshToken)
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestSealedStore_WrongKey(t *testing.T) {
	inner := NewMemoryStore()
	require.NoError(t, NewSealedStore(inner, testSealer(t)).Set(KeyAccessToken, "access"))

	other := make([]byte, MasterKeySize)
	for i := range other {
		other[i] = 0xff
	}
	otherSealer, err := NewSealer(other)
	require.NoError(t, err)

	_, err = NewSealedStore(inner, otherSealer).Get(KeyAccessToken)
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestSealedStore_PlaintextRejected(t *testing.T) {
	inner := NewMemoryStore()
	require.NoError(t, inner.Set(KeyAccessToken, "not-sealed"))

	_, err := NewSealedStore(inner, testSealer(t)).Get(KeyAccessToken)
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestNewSealer_WipesMaster(t *testing.T) {
	master := make([]byte, MasterKeySize)
	for i := range master {
		master[i] = 7
	}
	_, err := NewSealer(master)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, MasterKeySize), master)

	_, err = NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestLoadOrCreateMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	first, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	assert.Len(t, first, MasterKeySize)
	firstCopy := append([]byte(nil), first...)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	assert.Equal(t, firstCopy, second, "an existing key must be reused")
}

func TestLoadOrCreateMasterKey_ConcurrentFirstStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	const n = 8
	keys := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = LoadOrCreateMasterKey(path)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i], "every caller must see the same key")
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must be cleaned up")
	assert.Equal(t, "master.key", entries[0].Name())
}

func TestLoadOrCreateMasterKey_InvalidSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0600))

	_, err := LoadOrCreateMasterKey(path)
	assert.ErrorContains(t, err, "invalid size")
}

func TestFileVault_SurvivesReopen(t *testing.T) {
	root := t.TempDir()
	keyPath := filepath.Join(root, "master.key")

	open := func() *Vault {
		master, err := LoadOrCreateMasterKey(keyPath)
		require.NoError(t, err)
		sealer, err := NewSealer(master)
		require.NoError(t, err)
		v, err := OpenFileVault(root, sealer)
		require.NoError(t, err)
		return v
	}

	v := open()
	require.NoError(t, v.Secure().Set(KeyRefreshToken, "r1"))
	require.NoError(t, v.Cache().Set(KeyProfile, `{"id":"u1"}`))
	assert.Len(t, v.WatchDirs(), 2)
	require.NoError(t, v.Close())

	v = open()
	got, err := v.Secure().Get(KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "r1", got)

	got, err = v.Cache().Get(KeyProfile)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, got)

	// Cache tier is not sealed; secure tier is.
	_, err = v.Secure().Get(KeyProfile)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryVault(t *testing.T) {
	v := NewMemoryVault()
	require.NoError(t, v.Secure().Set(KeyOIDCState, "s"))
	_, err := v.Cache().Get(KeyOIDCState)
	assert.ErrorIs(t, err, ErrNotFound, "tiers are independent")
	assert.Empty(t, v.WatchDirs())
	assert.NoError(t, v.Close())
}

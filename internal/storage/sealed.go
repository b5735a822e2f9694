package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the length of the on-disk master key.
	MasterKeySize = 32

	sealedPrefix = "v1:"
	hkdfInfo     = "archivist secure tier v1"
)

// ErrSealedValue is returned when a stored value fails authentication.
var ErrSealedValue = errors.New("storage: sealed value could not be opened")

// Sealer encrypts values with AES-256-GCM under a key held in a memguard
// enclave. The key material is decrypted only for the duration of a single
// seal or open.
type Sealer struct {
	key *memguard.Enclave
}

// NewSealer derives a sealing key from master with HKDF-SHA256. master is
// wiped before returning.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("invalid master key size: got %d, want %d", len(master), MasterKeySize)
	}
	defer memguard.WipeBytes(master)

	h := hkdf.New(sha256.New, master, nil, []byte(hkdfInfo))
	derived := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(h, derived); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}

	// NewEnclave wipes derived.
	return &Sealer{key: memguard.NewEnclave(derived)}, nil
}

func (s *Sealer) aead() (cipher.AEAD, func(), error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening sealing key: %w", err)
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, buf.Destroy, nil
}

// Seal encrypts plaintext; aad binds the ciphertext to its context.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	gcm, done, err := s.aead()
	if err != nil {
		return nil, err
	}
	defer done()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts a ciphertext produced by Seal with the same aad.
func (s *Sealer) Open(ciphertext, aad []byte) ([]byte, error) {
	gcm, done, err := s.aead()
	if err != nil {
		return nil, err
	}
	defer done()

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrSealedValue)
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedValue, err)
	}
	return plaintext, nil
}

// SealedStore encrypts every value before handing it to the wrapped store.
// The key name is used as additional data so a ciphertext copied from one
// key to another fails to open.
type SealedStore struct {
	inner  Store
	sealer *Sealer
}

var _ Store = (*SealedStore)(nil)

// NewSealedStore wraps inner with sealer.
func NewSealedStore(inner Store, sealer *Sealer) *SealedStore {
	return &SealedStore{inner: inner, sealer: sealer}
}

func (s *SealedStore) Set(key, value string) error {
	ct, err := s.sealer.Seal([]byte(value), []byte(key))
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return s.inner.Set(key, sealedPrefix+base64.RawStdEncoding.EncodeToString(ct))
}

func (s *SealedStore) Get(key string) (string, error) {
	raw, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}

	encoded, ok := strings.CutPrefix(raw, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %s has an unknown format", ErrSealedValue, key)
	}
	ct, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSealedValue, key, err)
	}
	pt, err := s.sealer.Open(ct, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return string(pt), nil
}

func (s *SealedStore) Remove(key string) error {
	return s.inner.Remove(key)
}

// LoadOrCreateMasterKey reads the master key at path, creating a new random
// key with 0600 permissions when none exists.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	// #nosec G304 -- path comes from configuration
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != MasterKeySize {
			memguard.WipeBytes(data)
			return nil, fmt.Errorf("master key %s has invalid size %d", path, len(data))
		}
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	// The key is written in full to a temp file and then linked into place,
	// so path never holds a partial key. Link fails if another process won
	// the race; its key is used instead.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".master-*.tmp")
	if err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeKeyFile(tmp, key); err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}
	if err := os.Link(tmpPath, path); err != nil {
		memguard.WipeBytes(key)
		if errors.Is(err, fs.ErrExist) {
			return LoadOrCreateMasterKey(path)
		}
		return nil, fmt.Errorf("failed to install master key: %w", err)
	}
	return key, nil
}

func writeKeyFile(f *os.File, key []byte) error {
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

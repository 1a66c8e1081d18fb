package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/loc_remind/internal/domain"
)

const (
	stateKeyFileName = ".state.key"
	stateKeySize     = 32 // SQLCipher raw key
)

// StateKeyFile implements domain.KeyProvider for the state database key.
// The key is stored hex encoded in a 0600 file next to the database.
type StateKeyFile struct {
	path string
}

// NewStateKeyFile creates a key provider for dataDir.
func NewStateKeyFile(dataDir string) *StateKeyFile {
	return &StateKeyFile{path: filepath.Join(dataDir, stateKeyFileName)}
}

// Path returns the key file path.
func (k *StateKeyFile) Path() string {
	return k.path
}

// GetKey reads and validates the stored key.
func (k *StateKeyFile) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode state key: %w", err)
	}
	if len(key) != stateKeySize {
		return nil, fmt.Errorf("invalid state key size: got %d, want %d", len(key), stateKeySize)
	}
	return key, nil
}

// StoreKey persists key atomically with owner-only permissions.
func (k *StateKeyFile) StoreKey(key []byte) error {
	if len(key) != stateKeySize {
		return fmt.Errorf("invalid state key size: got %d, want %d", len(key), stateKeySize)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := atomicWriteFile(k.path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write state key: %w", err)
	}
	return nil
}

// KeyExists reports whether a key file is present.
func (k *StateKeyFile) KeyExists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

// GenerateKey returns a new random state database key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, stateKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating and storing one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenStateDBWithKeyFile opens the state database in dataDir, creating its key if needed.
func OpenStateDBWithKeyFile(dataDir string) (*StateDB, error) {
	key, err := EnsureKey(NewStateKeyFile(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load state key: %w", err)
	}
	return OpenStateDB(dataDir, key)
}

// Ensure StateKeyFile implements domain.KeyProvider.
var _ domain.KeyProvider = (*StateKeyFile)(nil)

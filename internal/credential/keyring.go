package credential

import (
	"fmt"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/exchange/auth"
)

const serviceName = "exchangestack"

type Config struct {
	FileDir      string `env:"CREDENTIALS_FILE_DIR" envDefault:"~/.config/exchangestack/credentials"`
	FilePassword string `env:"CREDENTIALS_FILE_PASSWORD" envDefault:"exchangestack-file-key"`
	// FileOnly skips the desktop keychains, for servers without one.
	FileOnly bool `env:"CREDENTIALS_FILE_ONLY" envDefault:"true"`
}

// KeyringStore keeps OAuth2 refresh tokens in the system keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// Open returns a store backed by the first available keyring backend.
func Open(cfg Config) (*KeyringStore, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.FileOnly {
		backends = []keyring.BackendType{keyring.FileBackend}
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load returns the refresh token stored under key.
func (s *KeyringStore) Load(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", auth.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (s *KeyringStore) Save(key, refreshToken string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(refreshToken),
		Label: serviceName + " refresh token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (s *KeyringStore) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

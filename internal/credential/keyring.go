package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"github.com/nhle/mailreader/internal/model"
)

const (
	serviceName = "mailreader"

	// MasterKeyItem is the keyring entry holding the master key.
	MasterKeyItem = "master-key"
)

// ErrNoMasterKey is returned when neither the configuration nor the
// keyring provides a master key.
var ErrNoMasterKey = errors.New("master key is not configured")

// OpenKeyring returns a configured keyring instance.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailreader/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailreader-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// MasterKey returns the configured master key. When the configuration has
// none and cfg.UseKeyring is set, the key is read from the keyring
// returned by open.
func MasterKey(cfg model.SecurityConfig, open func() (keyring.Keyring, error)) (string, error) {
	if key := strings.TrimSpace(cfg.MasterKey); key != "" {
		return key, nil
	}
	if !cfg.UseKeyring {
		return "", ErrNoMasterKey
	}

	ring, err := open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(MasterKeyItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoMasterKey
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", MasterKeyItem, err)
	}

	key := strings.TrimSpace(string(item.Data))
	if key == "" {
		return "", ErrNoMasterKey
	}
	return key, nil
}

// StoreMasterKey writes key to the keyring.
func StoreMasterKey(ring keyring.Keyring, key string) error {
	err := ring.Set(keyring.Item{
		Key:   MasterKeyItem,
		Data:  []byte(key),
		Label: "mailreader master key",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", MasterKeyItem, err)
	}
	return nil
}

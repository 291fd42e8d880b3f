package identity

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
)

const keyringServiceName = "tierstake"

// keyringKey scopes the stored password to one wallet address.
func keyringKey(addr common.Address) string {
	return "wallet-password:" + strings.ToLower(addr.Hex())
}

// StoreWalletPassword saves the password for addr in the platform keyring
// and returns the backend name.
func StoreWalletPassword(addr common.Address, password string) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}
	err = ring.Set(keyring.Item{
		Key:         keyringKey(addr),
		Data:        []byte(password),
		Label:       "tierstake wallet password",
		Description: "Password for the tierstake keystore " + addr.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}
	return backend, nil
}

// RetrieveWalletPassword returns ("", nil) when the keyring is available
// but holds nothing for addr.
func RetrieveWalletPassword(addr common.Address) (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(keyringKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeleteWalletPassword removes the stored password for addr.
func DeleteWalletPassword(addr common.Address) error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(keyringKey(addr)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func openKeyring() (keyring.Keyring, string, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, keyringBackendName(), nil
}

func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service"
	default:
		return "system keyring"
	}
}

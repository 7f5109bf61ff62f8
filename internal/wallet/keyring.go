package wallet

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
)

const (
	keyringServiceName = "crowdstake"
	passwordKeyPrefix  = "wallet-password-"

	// PasswordEnv overrides every other password source.
	PasswordEnv = "CROWDSTAKE_WALLET_PASSWORD"
)

// openKeyring opens the platform-native keyring and returns the backend
// name. Tests replace it with an in-memory keyring.
var openKeyring = openPlatformKeyring

func passwordKey(addr common.Address) string {
	return passwordKeyPrefix + addr.Hex()
}

// StorePassword stores the password for addr's keystore in the platform
// keyring and returns the backend name (e.g. "macOS Keychain").
func StorePassword(addr common.Address, password string) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}
	err = ring.Set(keyring.Item{
		Key:         passwordKey(addr),
		Data:        []byte(password),
		Label:       "crowdstake wallet password",
		Description: "Password for the crowdstake wallet keystore of " + addr.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}
	return backend, nil
}

// RetrievePassword returns the stored password for addr. It returns
// ("", nil) if the keyring is available but holds no password.
func RetrievePassword(addr common.Address) (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeletePassword removes the stored password for addr. Removing a
// password that was never stored is not an error.
func DeletePassword(addr common.Address) error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Remove(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// ResolvePassword looks up the password for addr without prompting:
// first PasswordEnv, then the keyring when useKeyring is set. ok is false
// when neither source has one.
func ResolvePassword(addr common.Address, useKeyring bool) (password string, ok bool) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, true
	}
	if !useKeyring {
		return "", false
	}
	pw, err := RetrievePassword(addr)
	if err != nil || pw == "" {
		return "", false
	}
	return pw, true
}

func openPlatformKeyring() (keyring.Keyring, string, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
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
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	default:
		return "system keyring"
	}
}

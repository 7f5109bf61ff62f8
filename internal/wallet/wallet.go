// Package wallet holds the staker's signing key in an encrypted go-ethereum
// keystore and, optionally, its password in the platform keyring.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MinPasswordLength is the shortest password Create and Import accept.
const MinPasswordLength = 8

var (
	// ErrNoWallet is returned by Load when the keystore holds no account.
	ErrNoWallet = errors.New("no wallet found")
	// ErrWalletExists is returned by Create and Import when the keystore
	// already holds an account.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// scrypt cost parameters; tests lower them.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Manager is the staker's wallet: one account in a keystore directory.
type Manager struct {
	keystore *keystore.KeyStore
	dir      string
	account  accounts.Account

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// Load opens the wallet in dir. It returns ErrNoWallet if dir holds no
// account; callers fall back to read-only operation.
func Load(dir string) (*Manager, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accts := ks.Accounts()
	if len(accts) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoWallet, dir)
	}
	return &Manager{keystore: ks, dir: dir, account: accts[0]}, nil
}

// Create generates a new key in dir, encrypted with password.
func Create(dir, password string) (*Manager, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	ks, err := openEmptyKeystore(dir)
	if err != nil {
		return nil, err
	}
	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Manager{keystore: ks, dir: dir, account: account}, nil
}

// Import stores an existing hex-encoded private key in dir, encrypted with
// password. A 0x prefix is accepted.
func Import(dir, privKeyHex, password string) (*Manager, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	ks, err := openEmptyKeystore(dir)
	if err != nil {
		return nil, err
	}
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Manager{keystore: ks, dir: dir, account: account}, nil
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

func openEmptyKeystore(dir string) (*keystore.KeyStore, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("%w in %s", ErrWalletExists, dir)
	}
	return ks, nil
}

// Address returns the staker address
func (m *Manager) Address() common.Address {
	return m.account.Address
}

// Dir returns the keystore directory
func (m *Manager) Dir() string {
	return m.dir
}

// PrivateKey decrypts and returns the signing key. The key is cached after
// the first successful call.
func (m *Manager) PrivateKey(password string) (*ecdsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil {
		return m.key, nil
	}

	keyJSON, err := os.ReadFile(m.account.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	if key.Address != m.account.Address {
		return nil, fmt.Errorf("key file address %s does not match account %s", key.Address.Hex(), m.account.Address.Hex())
	}

	m.key = key.PrivateKey
	return m.key, nil
}

// ClearCachedKey zeros and drops the cached private key.
func (m *Manager) ClearCachedKey() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil {
		m.key.D.SetUint64(0)
		m.key = nil
	}
}

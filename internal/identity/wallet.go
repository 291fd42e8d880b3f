package identity

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

// ErrWalletExists is returned when creating or importing into a keystore
// directory that already holds an account.
var ErrWalletExists = errors.New("wallet already exists")

// Scrypt cost used for new keystore files. Tests lower it.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet is a single-account geth V3 keystore. The daemon uses it as the
// custody signer and the CLI uses it to sign API requests.
type Wallet struct {
	dir     string
	account accounts.Account

	mu  sync.Mutex
	key *ecdsa.PrivateKey // cached after Unlock
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// LoadWallet opens the first account in dir. It returns (nil, nil) when the
// directory holds no account.
func LoadWallet(dir string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accts := ks.Accounts()
	if len(accts) == 0 {
		return nil, nil
	}
	return &Wallet{dir: dir, account: accts[0]}, nil
}

// CreateWallet generates a new key in dir, encrypted with password.
func CreateWallet(dir, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("%w in %s", ErrWalletExists, dir)
	}

	acct, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{dir: dir, account: acct}, nil
}

// ImportWallet stores a hex private key (with or without 0x) in dir.
func ImportWallet(dir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("%w in %s", ErrWalletExists, dir)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	acct, err := ks.ImportECDSA(key, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{dir: dir, account: acct}, nil
}

// Address returns the wallet address
func (w *Wallet) Address() common.Address {
	return w.account.Address
}

// KeystoreDir returns the keystore directory
func (w *Wallet) KeystoreDir() string {
	return w.dir
}

// Unlock decrypts the key file and caches the key until Lock.
func (w *Wallet) Unlock(password string) (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.key != nil {
		return w.key, nil
	}
	keyJSON, err := os.ReadFile(w.account.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	w.key = key.PrivateKey
	return w.key, nil
}

// Lock zeroes and drops the cached key.
func (w *Wallet) Lock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key != nil {
		w.key.D.SetUint64(0)
		w.key = nil
	}
}

// SignHash signs a 32-byte hash with the wallet key.
func (w *Wallet) SignHash(hash []byte, password string) ([]byte, error) {
	key, err := w.Unlock(password)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	return sig, nil
}

// SignMessage produces an EIP-191 personal_sign signature with V in {27, 28}.
func (w *Wallet) SignMessage(message []byte, password string) ([]byte, error) {
	sig, err := w.SignHash(accounts.TextHash(message), password)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

package identity

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const testPassword = "correct-horse-battery"

func TestLoadWallet_EmptyDir(t *testing.T) {
	w, err := LoadWallet(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWallet on empty dir: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil wallet for empty keystore dir")
	}
}

func TestLoadWallet_CreatesDirWithPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "keystore")

	if _, err := LoadWallet(dir); err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("expected keystore dir permissions 0700, got %04o", perm)
	}
}

func TestCreateWallet_ThenLoad(t *testing.T) {
	dir := t.TempDir()

	created, err := CreateWallet(dir, testPassword)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if created.Address() == (common.Address{}) {
		t.Fatal("expected non-zero address")
	}

	loaded, err := LoadWallet(dir)
	if err != nil || loaded == nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	if loaded.Address() != created.Address() {
		t.Errorf("address mismatch: %s vs %s", loaded.Address().Hex(), created.Address().Hex())
	}
	if loaded.KeystoreDir() != dir {
		t.Errorf("keystore dir = %s", loaded.KeystoreDir())
	}
}

func TestCreateWallet_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := CreateWallet(dir, testPassword); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateWallet(dir, testPassword); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestUnlock_WrongPassword(t *testing.T) {
	w, err := CreateWallet(t.TempDir(), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Unlock("wrong"); err == nil {
		t.Fatal("expected decrypt failure")
	}
}

func TestUnlock_CachesUntilLock(t *testing.T) {
	w, err := CreateWallet(t.TempDir(), testPassword)
	if err != nil {
		t.Fatal(err)
	}

	k1, err := w.Unlock(testPassword)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	// cached key is returned without checking the password again
	k2, err := w.Unlock("ignored")
	if err != nil || k1 != k2 {
		t.Fatalf("expected cached key, got %v", err)
	}

	w.Lock()
	if k1.D.Sign() != 0 {
		t.Error("expected cached key to be zeroed")
	}
	if _, err := w.Unlock("ignored"); err == nil {
		t.Error("expected password check after Lock")
	}
}

func TestImportWallet_RoundTrip(t *testing.T) {
	orig, _ := crypto.GenerateKey()
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(orig))

	w, err := ImportWallet(t.TempDir(), hexKey, testPassword)
	if err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if w.Address() != crypto.PubkeyToAddress(orig.PublicKey) {
		t.Fatal("imported address does not match key")
	}
	got, err := w.Unlock(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if !orig.Equal(got) {
		t.Error("unlocked key does not match imported key")
	}
}

func TestImportWallet_InvalidHex(t *testing.T) {
	if _, err := ImportWallet(t.TempDir(), "not-hex", testPassword); err == nil {
		t.Fatal("expected error with invalid hex key")
	}
}

func TestSignMessage_RecoversAddress(t *testing.T) {
	w, err := CreateWallet(t.TempDir(), testPassword)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("tierstake-auth:1700000000")

	sig, err := w.SignMessage(msg, testPassword)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected V in {27,28}, got %d", sig[64])
	}

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(*pub) != w.Address() {
		t.Error("recovered address does not match wallet")
	}
}

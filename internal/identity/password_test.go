package identity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var walletAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func noKeyrings(s *PasswordSources) {
	s.keyring = func(common.Address) (string, error) { return "", errors.New("no keyring") }
	s.kernel = func(common.Address) (string, error) { return "", errors.New("no keyctl") }
	s.getenv = func(string) string { return "" }
	s.isTTY = func(int) bool { return false }
}

func TestResolvePassword_EnvFirst(t *testing.T) {
	src := PasswordSources{File: "/does/not/matter"}
	noKeyrings(&src)
	src.getenv = func(k string) string {
		if k == PasswordEnv {
			return "from-env"
		}
		return ""
	}

	pw, from, err := ResolvePassword(walletAddr, src)
	if err != nil || pw != "from-env" || from != "env" {
		t.Fatalf("got %q from %q, err %v", pw, from, err)
	}
}

func TestResolvePassword_FileTrimsNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(path, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	src := PasswordSources{File: path}
	noKeyrings(&src)

	pw, from, err := ResolvePassword(walletAddr, src)
	if err != nil || pw != "from-file" || from != "file" {
		t.Fatalf("got %q from %q, err %v", pw, from, err)
	}
}

func TestResolvePassword_MissingFile(t *testing.T) {
	src := PasswordSources{File: filepath.Join(t.TempDir(), "missing")}
	noKeyrings(&src)

	if _, _, err := ResolvePassword(walletAddr, src); err == nil {
		t.Fatal("expected error for unreadable password file")
	}
}

func TestResolvePassword_KeyringThenKernel(t *testing.T) {
	src := PasswordSources{}
	noKeyrings(&src)
	src.kernel = func(a common.Address) (string, error) {
		if a != walletAddr {
			t.Errorf("unexpected address %s", a.Hex())
		}
		return "from-kernel", nil
	}

	pw, from, err := ResolvePassword(walletAddr, src)
	if err != nil || pw != "from-kernel" || from != "kernel-keyring" {
		t.Fatalf("got %q from %q, err %v", pw, from, err)
	}

	src.keyring = func(common.Address) (string, error) { return "from-keyring", nil }
	pw, from, _ = ResolvePassword(walletAddr, src)
	if pw != "from-keyring" || from != "keyring" {
		t.Fatalf("expected platform keyring before kernel, got %q from %q", pw, from)
	}
}

func TestResolvePassword_Prompt(t *testing.T) {
	var out bytes.Buffer
	src := PasswordSources{Prompt: true, Stderr: &out}
	noKeyrings(&src)
	src.isTTY = func(int) bool { return true }
	src.readPass = func(int) ([]byte, error) { return []byte("typed"), nil }

	pw, from, err := ResolvePassword(walletAddr, src)
	if err != nil || pw != "typed" || from != "prompt" {
		t.Fatalf("got %q from %q, err %v", pw, from, err)
	}
	if !bytes.Contains(out.Bytes(), []byte(walletAddr.Hex())) {
		t.Errorf("prompt should name the wallet, got %q", out.String())
	}
}

func TestResolvePassword_NoSource(t *testing.T) {
	src := PasswordSources{Prompt: true}
	noKeyrings(&src)

	if _, _, err := ResolvePassword(walletAddr, src); !errors.Is(err, ErrNoPassword) {
		t.Fatalf("expected ErrNoPassword, got %v", err)
	}
}

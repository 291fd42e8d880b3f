package identity

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"
)

// PasswordEnv is the environment variable checked for the wallet password.
const PasswordEnv = "TIERSTAKE_WALLET_PASSWORD"

// ErrNoPassword is returned when no source yields a password.
var ErrNoPassword = errors.New("wallet password not available")

// PasswordSources lists where ResolvePassword looks, in order: the
// environment, a password file, the platform keyring, the kernel keyring,
// then an interactive prompt.
type PasswordSources struct {
	File   string
	Prompt bool
	Stdin  *os.File  // prompt input; defaults to os.Stdin
	Stderr io.Writer // prompt output; defaults to os.Stderr

	// overridable in tests
	getenv   func(string) string
	keyring  func(common.Address) (string, error)
	kernel   func(common.Address) (string, error)
	readPass func(fd int) ([]byte, error)
	isTTY    func(fd int) bool
}

// ResolvePassword returns the password for addr and the name of the
// source it came from.
func ResolvePassword(addr common.Address, src PasswordSources) (string, string, error) {
	src.defaults()

	if pw := src.getenv(PasswordEnv); pw != "" {
		return pw, "env", nil
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password file: %w", err)
		}
		if pw := strings.TrimRight(string(data), "\r\n"); pw != "" {
			return pw, "file", nil
		}
	}
	if pw, err := src.keyring(addr); err == nil && pw != "" {
		return pw, "keyring", nil
	}
	if pw, err := src.kernel(addr); err == nil && pw != "" {
		return pw, "kernel-keyring", nil
	}
	if src.Prompt && src.isTTY(int(src.Stdin.Fd())) {
		pw, err := PromptPassword(src, "Wallet password for "+addr.Hex()+": ")
		if err != nil {
			return "", "", err
		}
		if pw != "" {
			return pw, "prompt", nil
		}
	}
	return "", "", ErrNoPassword
}

// PromptPassword reads a line from the terminal with echo disabled.
func PromptPassword(src PasswordSources, prompt string) (string, error) {
	src.defaults()
	fmt.Fprint(src.Stderr, prompt)
	b, err := src.readPass(int(src.Stdin.Fd()))
	fmt.Fprintln(src.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// RememberPassword stores the password in the best available keyring and
// returns where it went.
func RememberPassword(addr common.Address, password string) (string, error) {
	backend, err := StoreWalletPassword(addr, password)
	if err == nil {
		return backend, nil
	}
	kerr := StoreKernelKeyring(addr, password)
	if kerr != nil {
		return "", errors.Join(err, kerr)
	}
	return "kernel keyring", nil
}

// ForgetPassword removes the password from every keyring. It reports
// whether anything was removed.
func ForgetPassword(addr common.Address) bool {
	removed := false
	if pw, err := RetrieveWalletPassword(addr); err == nil && pw != "" {
		removed = DeleteWalletPassword(addr) == nil
	}
	if _, err := RetrieveKernelKeyring(addr); err == nil {
		removed = DeleteKernelKeyring(addr) == nil || removed
	}
	return removed
}

func (s *PasswordSources) defaults() {
	if s.Stdin == nil {
		s.Stdin = os.Stdin
	}
	if s.Stderr == nil {
		s.Stderr = os.Stderr
	}
	if s.getenv == nil {
		s.getenv = os.Getenv
	}
	if s.keyring == nil {
		s.keyring = RetrieveWalletPassword
	}
	if s.kernel == nil {
		s.kernel = RetrieveKernelKeyring
	}
	if s.readPass == nil {
		s.readPass = term.ReadPassword
	}
	if s.isTTY == nil {
		s.isTTY = term.IsTerminal
	}
}

//go:build linux

package identity

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// kernelKeyName names the user-session key holding addr's password.
func kernelKeyName(addr common.Address) string {
	return "tierstake-wallet-" + strings.ToLower(addr.Hex()[2:10])
}

// StoreKernelKeyring keeps the password in the user session keyring. It is
// lost on reboot and needs the keyctl binary (keyutils).
func StoreKernelKeyring(addr common.Address, password string) error {
	cmd := exec.Command("keyctl", "padd", "user", kernelKeyName(addr), "@u")
	cmd.Stdin = strings.NewReader(password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keyctl padd failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RetrieveKernelKeyring reads the password stored by StoreKernelKeyring.
func RetrieveKernelKeyring(addr common.Address) (string, error) {
	id, err := kernelKeyID(addr)
	if err != nil {
		return "", err
	}
	out, err := exec.Command("keyctl", "pipe", id).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl pipe failed: %w", err)
	}
	return string(out), nil
}

// DeleteKernelKeyring unlinks the stored password. A missing key is not an error.
func DeleteKernelKeyring(addr common.Address) error {
	id, err := kernelKeyID(addr)
	if err != nil {
		return nil
	}
	_, err = exec.Command("keyctl", "unlink", id, "@u").Output()
	return err
}

func kernelKeyID(addr common.Address) (string, error) {
	out, err := exec.Command("keyctl", "search", "@u", "user", kernelKeyName(addr)).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl search failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

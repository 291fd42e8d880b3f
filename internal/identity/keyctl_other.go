//go:build !linux

package identity

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errNoKernelKeyring = errors.New("kernel keyring is only available on Linux")

// StoreKernelKeyring is not available on non-Linux platforms.
func StoreKernelKeyring(common.Address, string) error { return errNoKernelKeyring }

// RetrieveKernelKeyring is not available on non-Linux platforms.
func RetrieveKernelKeyring(common.Address) (string, error) { return "", errNoKernelKeyring }

// DeleteKernelKeyring is not available on non-Linux platforms.
func DeleteKernelKeyring(common.Address) error { return errNoKernelKeyring }

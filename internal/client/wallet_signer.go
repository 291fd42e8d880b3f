package client

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/moltbunker/tierstake/internal/api"
)

// MessageSigner produces EIP-191 personal_sign signatures. identity.Wallet
// implements it.
type MessageSigner interface {
	Address() common.Address
	SignMessage(msg []byte, password string) ([]byte, error)
}

// WalletSigner signs HTTP API requests with the user's wallet.
type WalletSigner struct {
	wallet   MessageSigner
	password string
	clock    clockwork.Clock
}

// NewWalletSigner creates a signer from an existing wallet and password.
func NewWalletSigner(wallet MessageSigner, password string) *WalletSigner {
	return &WalletSigner{wallet: wallet, password: password, clock: clockwork.NewRealClock()}
}

// Address returns the checksummed wallet address.
func (s *WalletSigner) Address() string {
	return s.wallet.Address().Hex()
}

// SignAuth produces the three inline-auth header values. Every call uses a
// fresh nonce because the server accepts each message once.
func (s *WalletSigner) SignAuth() (address, signature, message string, err error) {
	address = s.wallet.Address().Hex()
	message = api.FormatAuthMessage(s.clock.Now(), uuid.NewString())

	sig, err := s.wallet.SignMessage([]byte(message), s.password)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to sign auth message: %w", err)
	}
	return address, "0x" + hex.EncodeToString(sig), message, nil
}

package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"

	"github.com/moltbunker/tierstake/internal/logging"
)

// AuthPrefix starts every inline auth message: "tierstake-auth:{unix}:{nonce}".
const AuthPrefix = "tierstake-auth:"

// Inline auth headers.
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletMessage   = "X-Wallet-Message"
)

// maxClockSkew bounds how far in the future a message timestamp may be.
const maxClockSkew = 60 * time.Second

var (
	ErrAuthMissing  = errors.New("missing wallet auth headers")
	ErrAuthExpired  = errors.New("auth message timestamp expired or invalid")
	ErrAuthReplayed = errors.New("auth message already used")
	ErrAuthMismatch = errors.New("signature does not match claimed address")
)

// WalletAuth verifies stateless wallet-signed requests. Each message may be
// used once within the window, so a captured request cannot be replayed to
// repeat a stake or withdrawal.
type WalletAuth struct {
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	seen map[string]time.Time // message -> expiry
}

// NewWalletAuth creates a verifier accepting messages up to window old.
func NewWalletAuth(window time.Duration, clock clockwork.Clock) *WalletAuth {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WalletAuth{
		window: window,
		clock:  clock,
		seen:   make(map[string]time.Time),
	}
}

// FormatAuthMessage builds the message a client signs.
func FormatAuthMessage(ts time.Time, nonce string) string {
	return fmt.Sprintf("%s%d:%s", AuthPrefix, ts.Unix(), nonce)
}

// VerifySignature checks an EIP-191 personal_sign signature over message and
// returns the recovered address when it matches claimed.
func VerifySignature(message, signature, claimed string) (common.Address, error) {
	if !common.IsHexAddress(claimed) {
		return common.Address{}, fmt.Errorf("invalid claimed address format")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature format: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: expected %d, got %d", crypto.SignatureLength, len(sig))
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256([]byte(prefixed))
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(claimed) {
		logging.Warn("wallet signature verification failed - address mismatch",
			"claimed", claimed,
			logging.Wallet(recovered),
			logging.Component("api"))
		return common.Address{}, ErrAuthMismatch
	}
	return recovered, nil
}

// VerifyInline validates the three inline auth header values.
func (a *WalletAuth) VerifyInline(addr, signature, message string) (common.Address, error) {
	if addr == "" || signature == "" || message == "" {
		return common.Address{}, ErrAuthMissing
	}
	now := a.clock.Now()
	ts, err := parseAuthTimestamp(message)
	if err != nil {
		return common.Address{}, err
	}
	if now.Sub(ts) > a.window || ts.Sub(now) > maxClockSkew {
		return common.Address{}, ErrAuthExpired
	}

	recovered, err := VerifySignature(message, signature, addr)
	if err != nil {
		return common.Address{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)
	key := strings.ToLower(recovered.Hex()) + "|" + message
	if _, used := a.seen[key]; used {
		return common.Address{}, ErrAuthReplayed
	}
	a.seen[key] = ts.Add(a.window)
	return recovered, nil
}

func (a *WalletAuth) pruneLocked(now time.Time) {
	for k, exp := range a.seen {
		if now.After(exp) {
			delete(a.seen, k)
		}
	}
}

func parseAuthTimestamp(message string) (time.Time, error) {
	rest, ok := strings.CutPrefix(message, AuthPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unexpected message format", ErrAuthExpired)
	}
	tsPart, nonce, _ := strings.Cut(rest, ":")
	if nonce == "" {
		return time.Time{}, fmt.Errorf("%w: missing nonce", ErrAuthExpired)
	}
	unix, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp", ErrAuthExpired)
	}
	return time.Unix(unix, 0), nil
}

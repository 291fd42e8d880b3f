package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/identity"
)

// WalletChecker checks that the keystore holds a wallet. The daemon needs
// it as custody when payments are real, the CLI needs it to sign requests.
type WalletChecker struct {
	dir  string
	mock bool
}

func NewWalletChecker(keystoreDir string, mockPayments bool) *WalletChecker {
	return &WalletChecker{dir: keystoreDir, mock: mockPayments}
}

func (c *WalletChecker) Name() string       { return "Wallet" }
func (c *WalletChecker) Category() Category { return CategoryWallet }

func (c *WalletChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	w, err := identity.LoadWallet(c.dir)
	if err != nil {
		return r.fail("Wallet: Unable to check", err.Error())
	}
	if w == nil {
		r = r.fix("stakingd wallet create --keystore " + c.dir)
		if c.mock {
			return r.warn("Wallet: Not configured", "Only signed CLI commands need a wallet while payments are mocked")
		}
		return r.fail("Wallet: Not configured", "The daemon holds staked principal in this wallet")
	}
	return r.ok(fmt.Sprintf("Wallet: %s", shortAddress(w.Address())))
}

// PasswordChecker checks that the wallet can be unlocked without a prompt.
type PasswordChecker struct {
	dir          string
	passwordFile string
	mock         bool

	resolve func(common.Address, identity.PasswordSources) (string, string, error)
}

func NewPasswordChecker(keystoreDir, passwordFile string, mockPayments bool) *PasswordChecker {
	return &PasswordChecker{
		dir:          keystoreDir,
		passwordFile: passwordFile,
		mock:         mockPayments,
		resolve:      identity.ResolvePassword,
	}
}

func (c *PasswordChecker) Name() string       { return "Wallet password" }
func (c *PasswordChecker) Category() Category { return CategoryWallet }

func (c *PasswordChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	w, err := identity.LoadWallet(c.dir)
	if err != nil || w == nil {
		return r.skip("Wallet password: No wallet")
	}

	pw, source, err := c.resolve(w.Address(), identity.PasswordSources{File: c.passwordFile})
	switch {
	case errors.Is(err, identity.ErrNoPassword):
		details := "stakingd will prompt for it on a terminal"
		if !c.mock {
			details = "stakingd serve --no-prompt will fail to unlock custody"
		}
		return r.warn("Wallet password: Not stored", details).
			fix("export " + identity.PasswordEnv + "=... or set chain.password_file")
	case err != nil:
		return r.fail("Wallet password: Unreadable", err.Error())
	}

	if _, err := w.Unlock(pw); err != nil {
		return r.fail("Wallet password: Wrong password from "+source, err.Error()).
			fix("stakingd wallet forget-password")
	}
	w.Lock()
	return r.ok("Wallet password: Unlocks from " + source)
}

func shortAddress(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}

package daemon

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/identity"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/payment"
	"github.com/moltbunker/tierstake/pkg/types"
)

// MockCustody holds principal and the reward pool when payments are mocked.
var MockCustody = common.BytesToAddress(crypto.Keccak256([]byte("tierstake/mock-custody"))[12:])

// openToken returns the mock token, or unlocks the custody wallet and
// connects to the chain.
func openToken(ctx context.Context, cfg *config.Config, opts Options) (*payment.TokenContract, *payment.BaseClient, error) {
	if cfg.Chain.MockPayments {
		return openMockToken(cfg), nil, nil
	}

	wallet, err := identity.LoadWallet(cfg.Chain.KeystoreDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load custody wallet: %w", err)
	}
	if wallet == nil {
		return nil, nil, fmt.Errorf("no custody wallet in %s; run 'stakingd wallet create --keystore %s'",
			cfg.Chain.KeystoreDir, cfg.Chain.KeystoreDir)
	}

	password, source, err := identity.ResolvePassword(wallet.Address(), identity.PasswordSources{
		File:   cfg.Chain.PasswordFile,
		Prompt: opts.PasswordPrompt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unlock custody wallet %s: %w", wallet.Address().Hex(), err)
	}
	key, err := wallet.Unlock(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unlock custody wallet (wrong password?): %w", err)
	}
	logging.Info("custody wallet unlocked",
		logging.Wallet(wallet.Address()),
		"password_source", source,
		logging.Component("daemon"))

	bcfg := payment.DefaultBaseClientConfig()
	bcfg.RPCURLs = cfg.Chain.ResolvedRPCURLs()
	bcfg.ChainID = cfg.Chain.ChainID
	bcfg.BlockConfirmations = cfg.Chain.BlockConfirmations
	if cfg.Chain.TxTimeoutSecs > 0 {
		bcfg.TxTimeout = time.Duration(cfg.Chain.TxTimeoutSecs) * time.Second
	}
	bcfg.Clock = opts.Clock

	bc, err := payment.NewBaseClient(bcfg, key)
	if err != nil {
		return nil, nil, err
	}
	if err := bc.Connect(ctx); err != nil {
		return nil, nil, err
	}

	tc, err := payment.NewTokenContract(bc, common.HexToAddress(cfg.Chain.TokenAddress))
	if err != nil {
		bc.Close()
		return nil, nil, err
	}
	if err := tc.VerifyDecimals(ctx); err != nil {
		bc.Close()
		return nil, nil, err
	}
	return tc, bc, nil
}

// openMockToken seeds the configured balances with unlimited allowances
// toward custody.
func openMockToken(cfg *config.Config) *payment.TokenContract {
	tc := payment.NewMockTokenContract(MockCustody)
	for hexAddr, bal := range cfg.Chain.MockBalances {
		amount, err := types.ParseAmount(bal)
		if err != nil {
			// Validate already rejected this
			continue
		}
		addr := common.HexToAddress(hexAddr)
		tc.SetMockBalance(addr, amount)
		tc.MockApprove(addr, MockCustody, math.MaxBig256)
	}
	logging.Info("mock payments enabled",
		"custody", MockCustody.Hex(),
		"funded_wallets", len(cfg.Chain.MockBalances),
		logging.Component("daemon"))
	return tc
}

// refundMockCustody gives custody what a restored ledger says it holds,
// since mock balances do not survive a restart.
func refundMockCustody(tc *payment.TokenContract, held *big.Int) {
	if !tc.IsMockMode() || held.Sign() == 0 {
		return
	}
	tc.SetMockBalance(MockCustody, held)
}

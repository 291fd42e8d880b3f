package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
	tstypes "github.com/moltbunker/tierstake/pkg/types"
)

var (
	// ErrInsufficientBalance is returned when the payer holds fewer tokens
	// than the transfer amount.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrInsufficientAllowance is returned when the user has not approved
	// custody for the transfer amount.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
)

// TokenContract moves the staked ERC-20 token in and out of the custody
// wallet. It implements staking.Token.
type TokenContract struct {
	baseClient   *BaseClient
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
	custody      common.Address
	mockMode     bool

	// sends are serialized so local nonces reach the node in order
	txMu sync.Mutex

	mockMu         sync.RWMutex
	mockBalances   map[common.Address]*big.Int
	mockAllowances map[common.Address]map[common.Address]*big.Int
}

var _ staking.Token = (*TokenContract)(nil)

// NewTokenContract binds the token at contractAddr. The client's signer is
// the custody wallet.
func NewTokenContract(baseClient *BaseClient, contractAddr common.Address) (*TokenContract, error) {
	if baseClient == nil || !baseClient.IsConnected() {
		return nil, fmt.Errorf("token contract: %w", ErrNotConnected)
	}
	if (baseClient.Address() == common.Address{}) {
		return nil, fmt.Errorf("token contract: no custody key configured")
	}
	parsed, err := parsedERC20()
	if err != nil {
		return nil, err
	}

	client := baseClient.Client()
	return &TokenContract{
		baseClient:   baseClient,
		contract:     bind.NewBoundContract(contractAddr, parsed, client, client, client),
		contractABI:  parsed,
		contractAddr: contractAddr,
		custody:      baseClient.Address(),
	}, nil
}

// NewMockTokenContract creates an in-memory token with custody held by
// custody. Used by tests and mock-payments mode.
func NewMockTokenContract(custody common.Address) *TokenContract {
	return &TokenContract{
		custody:        custody,
		mockMode:       true,
		mockBalances:   make(map[common.Address]*big.Int),
		mockAllowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// IsMockMode returns whether running in mock mode
func (tc *TokenContract) IsMockMode() bool {
	return tc.mockMode
}

// Custody returns the address holding staked principal and the reward pool.
func (tc *TokenContract) Custody() common.Address {
	return tc.custody
}

// Address returns the token contract address. Zero in mock mode.
func (tc *TokenContract) Address() common.Address {
	return tc.contractAddr
}

// Pull moves amount from the user into custody using the user's allowance.
func (tc *TokenContract) Pull(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if tc.mockMode {
		return tc.mockPull(from, amount)
	}

	if err := tc.requireFunds(ctx, from, amount, true); err != nil {
		return err
	}
	_, err := tc.send(ctx, "transferFrom", from, tc.custody, amount)
	return err
}

// Push moves amount from custody to the recipient.
func (tc *TokenContract) Push(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if tc.mockMode {
		return tc.mockPush(to, amount)
	}

	if err := tc.requireFunds(ctx, tc.custody, amount, false); err != nil {
		return err
	}
	_, err := tc.send(ctx, "transfer", to, amount)
	return err
}

// BalanceOf returns the token balance for an address
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.mockMu.RLock()
		defer tc.mockMu.RUnlock()
		return copyOrZero(tc.mockBalances[account]), nil
	}
	v, err := tc.callUint(ctx, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return v, nil
}

// Allowance returns how much spender may move on behalf of owner.
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.mockMu.RLock()
		defer tc.mockMu.RUnlock()
		return copyOrZero(tc.mockAllowances[owner][spender]), nil
	}
	v, err := tc.callUint(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return v, nil
}

// VerifyDecimals checks the deployed token uses the ledger's precision.
func (tc *TokenContract) VerifyDecimals(ctx context.Context) error {
	if tc.mockMode {
		return nil
	}
	var out []interface{}
	if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return fmt.Errorf("failed to get decimals: %w", err)
	}
	if len(out) == 0 {
		return fmt.Errorf("decimals: empty result")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	if int(d) != tstypes.TokenDecimals {
		return fmt.Errorf("token has %d decimals, ledger expects %d", d, tstypes.TokenDecimals)
	}
	return nil
}

// SetMockBalance sets a balance in mock mode.
func (tc *TokenContract) SetMockBalance(account common.Address, amount *big.Int) {
	tc.mockMu.Lock()
	defer tc.mockMu.Unlock()
	tc.mockBalances[account] = new(big.Int).Set(amount)
}

// MockApprove records owner's allowance for spender in mock mode.
// A maximum uint256 allowance is never decremented.
func (tc *TokenContract) MockApprove(owner, spender common.Address, amount *big.Int) {
	tc.mockMu.Lock()
	defer tc.mockMu.Unlock()
	if tc.mockAllowances[owner] == nil {
		tc.mockAllowances[owner] = make(map[common.Address]*big.Int)
	}
	tc.mockAllowances[owner][spender] = new(big.Int).Set(amount)

	logging.Debug("mock approval",
		logging.Component("payment"),
		logging.Wallet(owner),
		"spender", spender.Hex(),
		logging.Amount("amount", amount))
}

func (tc *TokenContract) mockPull(from common.Address, amount *big.Int) error {
	tc.mockMu.Lock()
	defer tc.mockMu.Unlock()

	allowance := copyOrZero(tc.mockAllowances[from][tc.custody])
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := tc.mockMove(from, tc.custody, amount); err != nil {
		return err
	}
	if allowance.Cmp(math.MaxBig256) != 0 {
		tc.mockAllowances[from][tc.custody] = allowance.Sub(allowance, amount)
	}
	return nil
}

func (tc *TokenContract) mockPush(to common.Address, amount *big.Int) error {
	tc.mockMu.Lock()
	defer tc.mockMu.Unlock()
	return tc.mockMove(tc.custody, to, amount)
}

// mockMove transfers between balances. Callers hold mockMu.
func (tc *TokenContract) mockMove(from, to common.Address, amount *big.Int) error {
	bal := copyOrZero(tc.mockBalances[from])
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	tc.mockBalances[from] = bal.Sub(bal, amount)
	tc.mockBalances[to] = new(big.Int).Add(copyOrZero(tc.mockBalances[to]), amount)

	logging.Debug("mock transfer",
		logging.Component("payment"),
		"from", from.Hex(),
		"to", to.Hex(),
		logging.Amount("amount", amount))
	return nil
}

// requireFunds fails early with a typed error instead of a reverted tx.
func (tc *TokenContract) requireFunds(ctx context.Context, payer common.Address, amount *big.Int, needAllowance bool) error {
	bal, err := tc.BalanceOf(ctx, payer)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, payer.Hex(), bal, amount)
	}
	if !needAllowance {
		return nil
	}
	allowance, err := tc.Allowance(ctx, payer, tc.custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	return nil
}

// send signs and submits a token call from custody and waits for it to
// confirm. A failed submit resyncs the nonce.
func (tc *TokenContract) send(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	tc.txMu.Lock()
	defer tc.txMu.Unlock()

	data, err := tc.contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	gas, err := tc.baseClient.EstimateGas(ctx, ethereum.CallMsg{
		From: tc.custody,
		To:   &tc.contractAddr,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	auth, err := tc.baseClient.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}
	auth.GasLimit = gas

	tx, err := tc.contract.Transact(auth, method, args...)
	if err != nil {
		if serr := tc.baseClient.SyncNonce(context.WithoutCancel(ctx)); serr != nil {
			logging.Warn("nonce resync failed", logging.Component("payment"), logging.Err(serr))
		}
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	receipt, err := tc.baseClient.WaitForTransaction(ctx, tx)
	if err != nil {
		return receipt, err
	}
	logging.Info("token transfer confirmed",
		logging.Component("payment"),
		"method", method,
		"tx_hash", tx.Hash().Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"gas_used", receipt.GasUsed)
	return receipt, nil
}

func (tc *TokenContract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

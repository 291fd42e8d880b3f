package payment

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/util"
)

// ErrNotConnected is returned by chain calls made before Connect.
var ErrNotConnected = errors.New("not connected")

// BaseClientConfig holds configuration for the chain client
type BaseClientConfig struct {
	RPCURLs            []string
	ChainID            int64
	BlockConfirmations int
	GasLimitMultiplier float64 // applied to estimated gas (default: 1.2)
	MaxGasPrice        *big.Int
	TxTimeout          time.Duration
	PollInterval       time.Duration // confirmation polling
	RetryConfig        *util.RetryConfig
	Clock              clockwork.Clock
}

// DefaultBaseClientConfig returns defaults for Base mainnet
func DefaultBaseClientConfig() *BaseClientConfig {
	return &BaseClientConfig{
		RPCURLs:            []string{"https://mainnet.base.org"},
		ChainID:            8453,
		BlockConfirmations: 2,
		GasLimitMultiplier: 1.2,
		MaxGasPrice:        big.NewInt(100e9), // 100 gwei
		TxTimeout:          2 * time.Minute,
		PollInterval:       2 * time.Second,
		RetryConfig:        util.ChainRetryConfig(),
	}
}

// BaseClient holds the RPC connection and the custody signer.
type BaseClient struct {
	config     *BaseClientConfig
	clock      clockwork.Clock
	endpoints  *EndpointTracker
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	nonceMu      sync.Mutex
	pendingNonce uint64

	mu        sync.RWMutex
	client    *ethclient.Client
	activeURL string
}

// NewBaseClient creates a chain client signing with privateKey. A nil key
// gives a read-only client.
func NewBaseClient(config *BaseClientConfig, privateKey *ecdsa.PrivateKey) (*BaseClient, error) {
	if config == nil {
		config = DefaultBaseClientConfig()
	}
	if len(config.RPCURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs configured")
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.RetryConfig == nil {
		config.RetryConfig = util.ChainRetryConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.RetryConfig.Clock == nil {
		config.RetryConfig.Clock = clock
	}

	bc := &BaseClient{
		config:     config,
		clock:      clock,
		endpoints:  NewEndpointTracker(config.RPCURLs, clock),
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		bc.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return bc, nil
}

// Connect dials the healthiest endpoint, falling back through the rest,
// and verifies the chain id.
func (bc *BaseClient) Connect(ctx context.Context) error {
	client, url, result := bc.dial(ctx)
	if result.LastError != nil {
		return fmt.Errorf("failed to connect to RPC: %w", result.LastError)
	}

	if bc.privateKey != nil {
		nonce, err := client.PendingNonceAt(ctx, bc.address)
		if err != nil {
			client.Close()
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		bc.nonceMu.Lock()
		bc.pendingNonce = nonce
		bc.nonceMu.Unlock()
	}

	bc.mu.Lock()
	if bc.client != nil {
		bc.client.Close()
	}
	bc.client = client
	bc.activeURL = url
	bc.mu.Unlock()

	logging.Info("connected to chain",
		logging.Component("payment"),
		"rpc", url,
		"chain_id", bc.chainID.String(),
		"attempts", result.Attempts)
	return nil
}

// dial tries endpoints in health order on every retry attempt.
func (bc *BaseClient) dial(ctx context.Context) (*ethclient.Client, string, *util.RetryResult) {
	var url string
	client, result := util.RetryWithValue(ctx, bc.config.RetryConfig, func() (*ethclient.Client, error) {
		candidates := bc.endpoints.Ordered()
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no healthy RPC endpoints")
		}
		var errs []error
		for _, candidate := range candidates {
			start := bc.clock.Now()
			c, err := bc.dialOne(ctx, candidate)
			if err != nil {
				bc.endpoints.RecordError(candidate)
				errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
				if errors.Is(err, errChainMismatch) {
					return nil, util.MarkNonRetryable(errors.Join(errs...))
				}
				continue
			}
			bc.endpoints.RecordSuccess(candidate, bc.clock.Since(start))
			url = candidate
			return c, nil
		}
		return nil, errors.Join(errs...)
	})
	return client, url, result
}

var errChainMismatch = errors.New("chain ID mismatch")

func (bc *BaseClient) dialOne(ctx context.Context, url string) (*ethclient.Client, error) {
	return dialChain(ctx, url, bc.chainID)
}

// dialChain connects to url and checks that it serves chainID.
func dialChain(ctx context.Context, url string, chainID *big.Int) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if id.Cmp(chainID) != 0 {
		c.Close()
		return nil, fmt.Errorf("%w: expected %s, got %s", errChainMismatch, chainID, id)
	}
	return c, nil
}

// ProbeEndpoint dials url once without retries and reports how long the
// chain ID round trip took.
func ProbeEndpoint(ctx context.Context, url string, chainID int64) (time.Duration, error) {
	start := time.Now()
	c, err := dialChain(ctx, url, big.NewInt(chainID))
	if err != nil {
		return 0, err
	}
	c.Close()
	return time.Since(start), nil
}

// Close closes the connection
func (bc *BaseClient) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.client != nil {
		bc.client.Close()
		bc.client = nil
	}
	bc.activeURL = ""
}

// IsConnected returns true if an RPC connection is open
func (bc *BaseClient) IsConnected() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.client != nil
}

// Client returns the underlying ethclient
func (bc *BaseClient) Client() *ethclient.Client {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.client
}

// ActiveEndpoint returns the URL of the open connection.
func (bc *BaseClient) ActiveEndpoint() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.activeURL
}

// Endpoints returns per-endpoint health for the health handler.
func (bc *BaseClient) Endpoints() []EndpointHealth {
	return bc.endpoints.Status()
}

// Address returns the signer address
func (bc *BaseClient) Address() common.Address {
	return bc.address
}

// ChainID returns the chain ID
func (bc *BaseClient) ChainID() *big.Int {
	return bc.chainID
}

func (bc *BaseClient) connected() (*ethclient.Client, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.client == nil {
		return nil, ErrNotConnected
	}
	return bc.client, nil
}

// GetTransactOpts creates signing options with the next local nonce.
func (bc *BaseClient) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if bc.privateKey == nil {
		return nil, fmt.Errorf("no private key configured")
	}
	client, err := bc.connected()
	if err != nil {
		return nil, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if bc.config.MaxGasPrice != nil && gasPrice.Cmp(bc.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(bc.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(bc.privateKey, bc.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	bc.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(bc.pendingNonce)
	bc.pendingNonce++
	bc.nonceMu.Unlock()

	return auth, nil
}

// WaitForTransaction waits for tx to be mined and confirmed, bounded by
// the configured transaction timeout.
func (bc *BaseClient) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client, err := bc.connected()
	if err != nil {
		return nil, err
	}
	if bc.config.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bc.config.TxTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("transaction reverted: %s", tx.Hash().Hex())
	}
	if bc.config.BlockConfirmations <= 0 {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + uint64(bc.config.BlockConfirmations)
	for {
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-bc.clock.After(bc.config.PollInterval):
			current, err := client.BlockNumber(ctx)
			if err != nil {
				logging.Debug("block number poll failed",
					logging.Component("payment"),
					"tx_hash", tx.Hash().Hex(),
					logging.Err(err))
				continue
			}
			if current >= target {
				return receipt, nil
			}
		}
	}
}

// EstimateGas applies the configured multiplier to a gas estimate.
func (bc *BaseClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	client, err := bc.connected()
	if err != nil {
		return 0, err
	}
	g, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	mult := bc.config.GasLimitMultiplier
	if mult < 1 {
		mult = 1
	}
	return uint64(float64(g) * mult), nil
}

// SyncNonce reloads the pending nonce after a failed send.
func (bc *BaseClient) SyncNonce(ctx context.Context) error {
	client, err := bc.connected()
	if err != nil {
		return err
	}
	nonce, err := client.PendingNonceAt(ctx, bc.address)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	bc.nonceMu.Lock()
	bc.pendingNonce = nonce
	bc.nonceMu.Unlock()
	return nil
}

// GetBlockNumber returns the current block number
func (bc *BaseClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	client, err := bc.connected()
	if err != nil {
		return 0, err
	}
	n, result := util.RetryWithValue(ctx, bc.config.RetryConfig, func() (uint64, error) {
		return client.BlockNumber(ctx)
	})
	return n, result.LastError
}

package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	API     APIConfig     `yaml:"api"`
	Chain   ChainConfig   `yaml:"chain"`
	Staking StakingConfig `yaml:"staking"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir   string `yaml:"data_dir"`
	StoreDir  string `yaml:"store_dir"` // badger directory for events and snapshots
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
}

// APIConfig contains API server settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// Rate limiting
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window per IP (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	MaxRequestSize int64 `yaml:"max_request_size"` // Max request body size in bytes (default: 1MB)
	MaxConnections int   `yaml:"max_connections"`  // Concurrent connections, websockets included; 0 is unlimited

	// Timeouts
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`

	// Inline wallet auth messages older than this are rejected
	AuthWindowSecs int `yaml:"auth_window_secs"`

	CORSOrigins   []string `yaml:"cors_origins"`
	EnableMetrics bool     `yaml:"enable_metrics"`
}

// DefaultAPIConfig returns the default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		ListenAddr:          "127.0.0.1:8547",
		RateLimitRequests:   100,
		RateLimitWindowSecs: 60,
		MaxRequestSize:      1 << 20,
		MaxConnections:      1024,
		ReadTimeoutSecs:     30,
		WriteTimeoutSecs:    30,
		IdleTimeoutSecs:     120,
		AuthWindowSecs:      300,
		EnableMetrics:       true,
	}
}

// ChainConfig contains token contract settings. With MockPayments the
// daemon keeps balances in memory and never dials an RPC endpoint.
type ChainConfig struct {
	MockPayments bool `yaml:"mock_payments"`

	ChainID            int64    `yaml:"chain_id"`
	RPCURL             string   `yaml:"rpc_url"`  // Primary RPC endpoint
	RPCURLs            []string `yaml:"rpc_urls"` // Additional RPC endpoints for failover
	TokenAddress       string   `yaml:"token_address"`
	BlockConfirmations int      `yaml:"block_confirmations"`
	TxTimeoutSecs      int      `yaml:"tx_timeout_secs"`

	// Custody wallet. Its address receives principal and pays rewards.
	KeystoreDir  string `yaml:"keystore_dir"`
	PasswordFile string `yaml:"password_file"`

	// Opening balances for the mock token, address to base units
	MockBalances map[string]string `yaml:"mock_balances,omitempty"`
}

// ResolvedRPCURLs merges the single RPCURL with the RPCURLs list, deduplicating.
// The single URL is placed first as the primary.
func (cc *ChainConfig) ResolvedRPCURLs() []string {
	return mergeURLs(cc.RPCURL, cc.RPCURLs)
}

// mergeURLs combines a primary URL with a list, deduplicating and preserving order.
func mergeURLs(primary string, extras []string) []string {
	seen := make(map[string]bool)
	var result []string

	if primary != "" {
		result = append(result, primary)
		seen[primary] = true
	}
	for _, u := range extras {
		if u != "" && !seen[u] {
			result = append(result, u)
			seen[u] = true
		}
	}
	return result
}

// StakingConfig seeds a fresh ledger. Once a snapshot exists the ledger
// state wins and these values are only read for tiers and params on first
// start.
type StakingConfig struct {
	Owner              string              `yaml:"owner"`
	Tiers              []*types.TierConfig `yaml:"tiers"`
	EmergencyFeeBps    uint64              `yaml:"emergency_fee_bps"`
	ClaimCooldownSecs  uint64              `yaml:"claim_cooldown_secs"`
	MaxStakesPerUser   int                 `yaml:"max_stakes_per_user"`
	MaxPremiumUsers    int                 `yaml:"max_premium_users"`
	MinCompoundAmount  string              `yaml:"min_compound_amount"` // base units
	RewardPool         string              `yaml:"reward_pool"`         // base units amortized over the duration
	RewardDurationSecs uint64              `yaml:"reward_duration_secs"`
	PremiumUsers       []string            `yaml:"premium_users,omitempty"`

	minCompound *big.Int
	rewardPool  *big.Int
}

// ParseAmounts parses the string amounts of the section and its tiers
func (sc *StakingConfig) ParseAmounts() error {
	var err error
	if sc.minCompound, err = types.ParseAmount(sc.MinCompoundAmount); err != nil {
		return fmt.Errorf("min_compound_amount: %w", err)
	}
	if sc.rewardPool, err = types.ParseAmount(sc.RewardPool); err != nil {
		return fmt.Errorf("reward_pool: %w", err)
	}
	for _, tier := range sc.Tiers {
		if tier == nil {
			return fmt.Errorf("empty tier entry")
		}
		if err := tier.ParseAmounts(); err != nil {
			return err
		}
	}
	return nil
}

// OwnerAddress returns the configured owner. The daemon refuses to start
// without one.
func (sc *StakingConfig) OwnerAddress() (common.Address, error) {
	if err := validateEthAddress("staking.owner", sc.Owner); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(sc.Owner), nil
}

// LedgerParams converts the section into ledger parameters.
// ParseAmounts must have been called.
func (sc *StakingConfig) LedgerParams() staking.Params {
	return staking.Params{
		EmergencyFeeBps:   sc.EmergencyFeeBps,
		ClaimCooldown:     sc.ClaimCooldownSecs,
		MaxStakesPerUser:  sc.MaxStakesPerUser,
		MaxPremiumUsers:   sc.MaxPremiumUsers,
		MinCompoundAmount: new(big.Int).Set(sc.minCompound),
		RewardPool:        new(big.Int).Set(sc.rewardPool),
		RewardDuration:    sc.RewardDurationSecs,
	}
}

// TierSpecs converts the configured tiers in order. Tier ids follow the
// list position.
func (sc *StakingConfig) TierSpecs() []staking.TierSpec {
	specs := make([]staking.TierSpec, len(sc.Tiers))
	for i, tc := range sc.Tiers {
		specs[i] = staking.TierSpec{
			TierParams:      staking.TierParamsFromConfig(tc),
			PremiumBonusBps: tc.PremiumBonusBps,
		}
	}
	return specs
}

// PremiumAddresses returns the configured premium roster
func (sc *StakingConfig) PremiumAddresses() []common.Address {
	out := make([]common.Address, 0, len(sc.PremiumUsers))
	for _, a := range sc.PremiumUsers {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".tierstake")

	params := staking.DefaultParams()
	cfg := &Config{
		Daemon: DaemonConfig{
			DataDir:   dataDir,
			StoreDir:  filepath.Join(dataDir, "store"),
			LogLevel:  "info",
			LogFormat: "text",
		},
		API: DefaultAPIConfig(),
		Chain: ChainConfig{
			MockPayments:       true,
			ChainID:            8453, // Base mainnet
			RPCURL:             "https://mainnet.base.org",
			BlockConfirmations: 2,
			TxTimeoutSecs:      120,
			KeystoreDir:        filepath.Join(dataDir, "keystore"),
		},
		Staking: StakingConfig{
			Tiers:              types.DefaultTierConfigs(),
			EmergencyFeeBps:    params.EmergencyFeeBps,
			ClaimCooldownSecs:  params.ClaimCooldown,
			MaxStakesPerUser:   params.MaxStakesPerUser,
			MaxPremiumUsers:    params.MaxPremiumUsers,
			MinCompoundAmount:  params.MinCompoundAmount.String(),
			RewardPool:         params.RewardPool.String(),
			RewardDurationSecs: params.RewardDuration,
		},
	}
	if err := cfg.Staking.ParseAmounts(); err != nil {
		panic(fmt.Sprintf("default staking config: %v", err))
	}
	return cfg
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Staking.ParseAmounts(); err != nil {
		return nil, fmt.Errorf("invalid staking config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the config as YAML with owner-only permissions
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration. Amounts must already be parsed.
func (c *Config) Validate() error {
	// Daemon validation
	if c.Daemon.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := logging.ParseLevel(c.Daemon.LogLevel); err != nil {
		return err
	}
	if c.Daemon.LogFormat != "json" && c.Daemon.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s", c.Daemon.LogFormat)
	}

	// API validation
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.API.RateLimitRequests < 1 || c.API.RateLimitWindowSecs < 1 {
		return fmt.Errorf("api rate limit must allow at least 1 request per window")
	}
	if c.API.MaxConnections < 0 {
		return fmt.Errorf("api.max_connections must not be negative")
	}
	if c.API.MaxRequestSize < 1 {
		return fmt.Errorf("api.max_request_size must be positive")
	}
	if c.API.AuthWindowSecs < 10 || c.API.AuthWindowSecs > 3600 {
		return fmt.Errorf("api.auth_window_secs must be between 10 and 3600, got %d", c.API.AuthWindowSecs)
	}

	// Chain validation (only when using real payments)
	if !c.Chain.MockPayments {
		if err := validateEthAddress("token_address", c.Chain.TokenAddress); err != nil {
			return err
		}
		if len(c.Chain.ResolvedRPCURLs()) == 0 {
			return fmt.Errorf("rpc_url is required when mock_payments is false")
		}
		if c.Chain.ChainID <= 0 {
			return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
		}
		if c.Chain.KeystoreDir == "" {
			return fmt.Errorf("keystore_dir is required when mock_payments is false")
		}
	}
	if c.Chain.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must not be negative")
	}
	for addr, bal := range c.Chain.MockBalances {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("mock_balances: invalid address %q", addr)
		}
		if _, err := types.ParseAmount(bal); err != nil {
			return fmt.Errorf("mock_balances[%s]: %w", addr, err)
		}
	}

	return c.Staking.validate()
}

func (sc *StakingConfig) validate() error {
	if sc.Owner != "" {
		if err := validateEthAddress("staking.owner", sc.Owner); err != nil {
			return err
		}
	}
	if sc.EmergencyFeeBps < staking.MinEmergencyFeeBps || sc.EmergencyFeeBps > staking.MaxEmergencyFeeBps {
		return fmt.Errorf("emergency_fee_bps must be between %d and %d, got %d",
			staking.MinEmergencyFeeBps, staking.MaxEmergencyFeeBps, sc.EmergencyFeeBps)
	}
	if sc.ClaimCooldownSecs > staking.MaxClaimCooldown {
		return fmt.Errorf("claim_cooldown_secs above %d", staking.MaxClaimCooldown)
	}
	if sc.MaxStakesPerUser < 1 {
		return fmt.Errorf("max_stakes_per_user must be at least 1")
	}
	if sc.MaxPremiumUsers < 0 {
		return fmt.Errorf("max_premium_users must not be negative")
	}
	if len(sc.PremiumUsers) > sc.MaxPremiumUsers {
		return fmt.Errorf("premium_users lists %d addresses, max_premium_users is %d", len(sc.PremiumUsers), sc.MaxPremiumUsers)
	}
	for _, a := range sc.PremiumUsers {
		if err := validateEthAddress("premium_users", a); err != nil {
			return err
		}
	}
	if sc.RewardDurationSecs == 0 {
		return fmt.Errorf("reward_duration_secs must be positive")
	}
	if len(sc.Tiers) > staking.MaxTiers {
		return fmt.Errorf("at most %d tiers are supported, got %d", staking.MaxTiers, len(sc.Tiers))
	}

	names := make(map[string]bool)
	for i, tier := range sc.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier %d: name is required", i)
		}
		if names[tier.Name] {
			return fmt.Errorf("duplicate tier name %q", tier.Name)
		}
		names[tier.Name] = true
		if tier.BaseRateBps+tier.PremiumBonusBps > staking.MaxRateBps {
			return fmt.Errorf("tier %q: base rate plus premium bonus above %d bps", tier.Name, staking.MaxRateBps)
		}
		if tier.MinStake.Sign() <= 0 {
			return fmt.Errorf("tier %q: min_stake must be positive", tier.Name)
		}
		if tier.MaxStake.Cmp(tier.MinStake) < 0 {
			return fmt.Errorf("tier %q: max_stake below min_stake", tier.Name)
		}
		if tier.TierMaxStake.Cmp(tier.MinStake) < 0 {
			return fmt.Errorf("tier %q: tier_max_stake below min_stake", tier.Name)
		}
	}
	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Daemon.StoreDir = expandPath(c.Daemon.StoreDir)
	c.Chain.KeystoreDir = expandPath(c.Chain.KeystoreDir)
	c.Chain.PasswordFile = expandPath(c.Chain.PasswordFile)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tierstake", "config.yaml")
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Daemon.DataDir,
		c.Daemon.StoreDir,
	}
	if !c.Chain.MockPayments {
		dirs = append(dirs, c.Chain.KeystoreDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

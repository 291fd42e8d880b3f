package types

import (
	"fmt"
	"math/big"
	"strings"
)

// TokenDecimals is the number of decimals of the staked token
const TokenDecimals = 18

// TierConfig defines a staking tier as it appears in configuration.
// Amounts are kept as decimal strings of base units so YAML can carry values
// beyond int64.
type TierConfig struct {
	Name               string `yaml:"name" json:"name"`
	LockDurationSecs   uint64 `yaml:"lock_duration_secs" json:"lock_duration_secs"`
	BaseRateBps        uint64 `yaml:"base_rate_bps" json:"base_rate_bps"`
	PremiumBonusBps    uint64 `yaml:"premium_bonus_bps" json:"premium_bonus_bps"`
	MinStakeString     string `yaml:"min_stake" json:"min_stake"`
	MaxStakeString     string `yaml:"max_stake" json:"max_stake"`
	TierMaxStakeString string `yaml:"tier_max_stake" json:"tier_max_stake"`
	Active             bool   `yaml:"active" json:"active"`

	MinStake     *big.Int `yaml:"-" json:"-"`
	MaxStake     *big.Int `yaml:"-" json:"-"`
	TierMaxStake *big.Int `yaml:"-" json:"-"`
}

// ParseAmounts parses the string amounts into big.Int fields
func (c *TierConfig) ParseAmounts() error {
	var err error
	if c.MinStake, err = ParseAmount(c.MinStakeString); err != nil {
		return fmt.Errorf("tier %q min_stake: %w", c.Name, err)
	}
	if c.MaxStake, err = ParseAmount(c.MaxStakeString); err != nil {
		return fmt.Errorf("tier %q max_stake: %w", c.Name, err)
	}
	if c.TierMaxStake, err = ParseAmount(c.TierMaxStakeString); err != nil {
		return fmt.Errorf("tier %q tier_max_stake: %w", c.Name, err)
	}
	return nil
}

// ParseAmount parses a non-negative base-unit integer. Empty means zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return v, nil
}

// DefaultTierConfigs returns the default tier lineup
func DefaultTierConfigs() []*TierConfig {
	const day = 24 * 60 * 60
	return []*TierConfig{
		{
			Name:               "flexible",
			LockDurationSecs:   7 * day,
			BaseRateBps:        500,
			PremiumBonusBps:    100,
			MinStakeString:     "100000000000000000000",       // 100 tokens
			MaxStakeString:     "100000000000000000000000",    // 100,000 tokens
			TierMaxStakeString: "10000000000000000000000000",  // 10,000,000 tokens
			Active:             true,
		},
		{
			Name:               "standard",
			LockDurationSecs:   30 * day,
			BaseRateBps:        1200,
			PremiumBonusBps:    200,
			MinStakeString:     "1000000000000000000000",      // 1,000 tokens
			MaxStakeString:     "500000000000000000000000",    // 500,000 tokens
			TierMaxStakeString: "25000000000000000000000000",  // 25,000,000 tokens
			Active:             true,
		},
		{
			Name:               "long",
			LockDurationSecs:   90 * day,
			BaseRateBps:        1800,
			PremiumBonusBps:    300,
			MinStakeString:     "5000000000000000000000",      // 5,000 tokens
			MaxStakeString:     "1000000000000000000000000",   // 1,000,000 tokens
			TierMaxStakeString: "50000000000000000000000000",  // 50,000,000 tokens
			Active:             true,
		},
		{
			Name:               "diamond",
			LockDurationSecs:   180 * day,
			BaseRateBps:        2500,
			PremiumBonusBps:    500,
			MinStakeString:     "10000000000000000000000",     // 10,000 tokens
			MaxStakeString:     "5000000000000000000000000",   // 5,000,000 tokens
			TierMaxStakeString: "100000000000000000000000000", // 100,000,000 tokens
			Active:             true,
		},
	}
}

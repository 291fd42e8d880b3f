package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StakeStatus is the lifecycle state of a stake. Closed states are terminal.
type StakeStatus uint8

const (
	StakeActive StakeStatus = iota
	StakeClosed
	StakeEmergencyClosed
)

// String returns the lowercase status name
func (s StakeStatus) String() string {
	switch s {
	case StakeActive:
		return "active"
	case StakeClosed:
		return "closed"
	case StakeEmergencyClosed:
		return "emergency_closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s StakeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *StakeStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StakeActive
	case "closed":
		*s = StakeClosed
	case "emergency_closed":
		*s = StakeEmergencyClosed
	default:
		return fmt.Errorf("invalid stake status: %q", string(b))
	}
	return nil
}

// Tier is a staking plan together with its running totals.
// Amounts are token base units (wei).
type Tier struct {
	ID              uint32   `json:"id"`
	Name            string   `json:"name"`
	LockDuration    uint64   `json:"lock_duration"` // seconds
	BaseRateBps     uint64   `json:"base_rate_bps"`
	PremiumBonusBps uint64   `json:"premium_bonus_bps"`
	MinStake        *big.Int `json:"min_stake"`
	MaxStake        *big.Int `json:"max_stake"`      // per user, across the user's active stakes in this tier
	TierMaxStake    *big.Int `json:"tier_max_stake"` // tier-wide capacity
	Active          bool     `json:"active"`

	TotalStaked  *big.Int `json:"total_staked"`
	StakersCount uint64   `json:"stakers_count"` // distinct users with an active stake
	ActiveStakes uint64   `json:"active_stakes"`
}

// Clone returns a deep copy of the tier
func (t *Tier) Clone() *Tier {
	c := *t
	c.MinStake = cloneInt(t.MinStake)
	c.MaxStake = cloneInt(t.MaxStake)
	c.TierMaxStake = cloneInt(t.TierMaxStake)
	c.TotalStaked = cloneInt(t.TotalStaked)
	return &c
}

// Stake is a single deposit. Stakes are never deleted; closed stakes stay
// for audit with a terminal Status.
type Stake struct {
	Owner          common.Address `json:"owner"`
	Amount         *big.Int       `json:"amount"`
	StartTime      int64          `json:"start_time"`
	LastClaimTime  int64          `json:"last_claim_time"` // last settlement
	RateBps        uint64         `json:"rate_bps"`        // base + premium bonus, fixed at creation
	TierID         uint32         `json:"tier_id"`
	Status         StakeStatus    `json:"status"`
	ClaimedRewards *big.Int       `json:"claimed_rewards"`
	AutoCompound   bool           `json:"auto_compound"`
}

// IsActive reports whether the stake still counts toward aggregates
func (s *Stake) IsActive() bool {
	return s.Status == StakeActive
}

// UnlockTime returns the first instant a normal unstake is allowed
func (s *Stake) UnlockTime(lockDuration uint64) int64 {
	return s.StartTime + int64(lockDuration)
}

// Clone returns a deep copy of the stake
func (s *Stake) Clone() *Stake {
	c := *s
	c.Amount = cloneInt(s.Amount)
	c.ClaimedRewards = cloneInt(s.ClaimedRewards)
	return &c
}

// IndexedStake pairs a stake with its stable per-user index.
type IndexedStake struct {
	Index int    `json:"index"`
	Stake *Stake `json:"stake"`
}

// UserAccount is the derived per-user view.
type UserAccount struct {
	Address      common.Address `json:"address"`
	StakeCount   int            `json:"stake_count"` // active stakes
	TotalStakes  int            `json:"total_stakes"`
	TotalStaked  *big.Int       `json:"total_staked"`
	TotalRewards *big.Int       `json:"total_rewards"`
	Premium      bool           `json:"premium"`
	PremiumSince int64          `json:"premium_since,omitempty"`
	LastClaim    int64          `json:"last_claim"`
}

// GlobalStats is the derived ledger-wide view.
type GlobalStats struct {
	TotalStaked       *big.Int `json:"total_staked"`
	TotalRewardsPaid  *big.Int `json:"total_rewards_paid"`
	TotalStakers      uint64   `json:"total_stakers"`
	RewardPool        *big.Int `json:"reward_pool"`
	RewardDuration    uint64   `json:"reward_duration"` // seconds
	RewardPerSecond   *big.Int `json:"reward_per_second"`
	RewardPoolBalance *big.Int `json:"reward_pool_balance"`
	PremiumUsers      int      `json:"premium_users"`
	Paused            bool     `json:"paused"`
}

// TierStats is a tier with its derived average stake size.
type TierStats struct {
	Tier         *Tier    `json:"tier"`
	AverageStake *big.Int `json:"average_stake"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

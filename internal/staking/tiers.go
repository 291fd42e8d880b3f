package staking

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/moltbunker/tierstake/pkg/types"
)

const (
	MaxTiers           = 16
	MaxRateBps         = 10_000
	MaxPremiumBonusBps = 5_000
	MaxLockDuration    = 5 * SecondsPerYear
)

// TierParams are the admin-editable parameters of a tier.
type TierParams struct {
	Name         string
	LockDuration uint64
	BaseRateBps  uint64
	MinStake     *big.Int
	MaxStake     *big.Int
	TierMaxStake *big.Int
	Active       bool
}

// TierParamsFromConfig converts a parsed tier config.
func TierParamsFromConfig(c *types.TierConfig) TierParams {
	return TierParams{
		Name:         c.Name,
		LockDuration: c.LockDurationSecs,
		BaseRateBps:  c.BaseRateBps,
		MinStake:     c.MinStake,
		MaxStake:     c.MaxStake,
		TierMaxStake: c.TierMaxStake,
		Active:       c.Active,
	}
}

// validate checks the parameters on their own. allocated is the amount
// already staked in the tier being edited (zero for a new tier).
func (p TierParams) validate(op string, allocated *big.Int) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return newError(KindValidation, op, ErrInvalidParameter, "tier name is required")
	case p.LockDuration > MaxLockDuration:
		return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("lock duration above %d seconds", MaxLockDuration))
	case p.BaseRateBps > MaxRateBps:
		return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("base rate above %d bps", MaxRateBps))
	case p.MinStake == nil || p.MinStake.Sign() <= 0:
		return newError(KindValidation, op, ErrInvalidParameter, "min stake must be positive")
	case p.MaxStake == nil || p.MaxStake.Cmp(p.MinStake) < 0:
		return newError(KindValidation, op, ErrInvalidParameter, "max stake below min stake")
	case p.TierMaxStake == nil || p.TierMaxStake.Cmp(p.MinStake) < 0:
		return newError(KindValidation, op, ErrInvalidParameter, "tier capacity below min stake")
	}
	if err := checkU256(p.TierMaxStake); err != nil {
		return err
	}
	if err := checkU256(p.MaxStake); err != nil {
		return err
	}
	if allocated != nil && p.TierMaxStake.Cmp(allocated) < 0 {
		e := boundError(KindValidation, op, ErrInvalidParameter, allocated, p.TierMaxStake)
		e.Detail = "tier capacity below allocated total"
		return e
	}
	return nil
}

// tierRegistry holds tier configuration and running totals. Ids are dense
// and sequential starting at zero.
type tierRegistry struct {
	tiers []*types.Tier
}

func newTierRegistry() *tierRegistry {
	return &tierRegistry{}
}

func (r *tierRegistry) get(id uint32) (*types.Tier, bool) {
	if int(id) >= len(r.tiers) {
		return nil, false
	}
	return r.tiers[id], true
}

func (r *tierRegistry) count() int {
	return len(r.tiers)
}

// add appends a tier built from p and returns its id.
func (r *tierRegistry) add(p TierParams, premiumBonusBps uint64) *types.Tier {
	t := &types.Tier{
		ID:              uint32(len(r.tiers)),
		PremiumBonusBps: premiumBonusBps,
		TotalStaked:     new(big.Int),
	}
	applyParams(t, p)
	r.tiers = append(r.tiers, t)
	return t
}

// update replaces the editable parameters. Totals and the premium bonus are
// left as they are; existing stakes keep their captured rates.
func (r *tierRegistry) update(t *types.Tier, p TierParams) {
	applyParams(t, p)
}

func (r *tierRegistry) list() []*types.Tier {
	out := make([]*types.Tier, len(r.tiers))
	for i, t := range r.tiers {
		out[i] = t.Clone()
	}
	return out
}

func applyParams(t *types.Tier, p TierParams) {
	t.Name = p.Name
	t.LockDuration = p.LockDuration
	t.BaseRateBps = p.BaseRateBps
	t.MinStake = new(big.Int).Set(p.MinStake)
	t.MaxStake = new(big.Int).Set(p.MaxStake)
	t.TierMaxStake = new(big.Int).Set(p.TierMaxStake)
	t.Active = p.Active
}

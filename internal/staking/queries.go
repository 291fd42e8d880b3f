package staking

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/pkg/types"
)

// GetTier returns a copy of the tier.
func (s *Service) GetTier(id uint32) (*types.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tierByID("get_tier", id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// ListTiers returns copies of all tiers in id order.
func (s *Service) ListTiers() []*types.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiers.list()
}

// GetTierStats returns the tier with its average active stake size.
func (s *Service) GetTierStats(id uint32) (*types.TierStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tierByID("get_tier_stats", id)
	if err != nil {
		return nil, err
	}
	avg := new(big.Int)
	if t.ActiveStakes > 0 {
		avg.Quo(t.TotalStaked, new(big.Int).SetUint64(t.ActiveStakes))
	}
	return &types.TierStats{Tier: t.Clone(), AverageStake: avg}, nil
}

// GetUserStakes returns every stake the user opened, closed ones included.
func (s *Service) GetUserStakes(user common.Address) []*types.Stake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.listUser(user)
}

// GetActiveStakes returns the user's active stakes with their original
// indices.
func (s *Service) GetActiveStakes(user common.Address) []types.IndexedStake {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.IndexedStake{}
	for _, idx := range s.ledger.activeIndices(user) {
		st, _ := s.ledger.get(user, idx)
		out = append(out, types.IndexedStake{Index: idx, Stake: st.Clone()})
	}
	return out
}

// GetUserStats returns the derived account view.
func (s *Service) GetUserStats(user common.Address) *types.UserAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.ledger.account(user)
	if since, ok := s.premium[user]; ok {
		acct.Premium = true
		acct.PremiumSince = since
	}
	return acct
}

// GetGlobalStats returns the derived ledger-wide view.
func (s *Service) GetGlobalStats() *types.GlobalStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalStatsLocked()
}

func (s *Service) globalStatsLocked() *types.GlobalStats {
	return &types.GlobalStats{
		TotalStaked:       new(big.Int).Set(s.ledger.totalStaked),
		TotalRewardsPaid:  new(big.Int).Set(s.ledger.totalRewardsPaid),
		TotalStakers:      s.ledger.totalStakers,
		RewardPool:        new(big.Int).Set(s.params.RewardPool),
		RewardDuration:    s.params.RewardDuration,
		RewardPerSecond:   new(big.Int).Set(s.rewardPerSecond),
		RewardPoolBalance: new(big.Int).Set(s.rewardPoolBalance),
		PremiumUsers:      len(s.premium),
		Paused:            s.paused,
	}
}

// Params returns a copy of the current global parameters.
func (s *Service) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneParams(s.params)
}

// Paused reports whether user operations are blocked.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// PendingReward returns the reward one stake would settle now.
func (s *Service) PendingReward(user common.Address, idx int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.ledger.get(user, idx)
	if !ok {
		return nil, newError(KindState, "pending_reward", ErrStakeNotFound, fmt.Sprintf("index %d", idx))
	}
	return PendingReward(st, s.now())
}

// PendingRewards returns the pending reward of every stake the user holds
// (zero for closed ones) and their sum.
func (s *Service) PendingRewards(user common.Address) ([]*big.Int, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	stakes := s.ledger.listUser(user)
	out := make([]*big.Int, len(stakes))
	total := new(big.Int)
	for i, st := range stakes {
		r, err := PendingReward(st, now)
		if err != nil {
			return nil, nil, err
		}
		out[i] = r
		total.Add(total, r)
	}
	return out, total, nil
}

// TimeUntilUnlock returns the seconds left before a normal unstake is
// allowed, zero once unlocked.
func (s *Service) TimeUntilUnlock(user common.Address, idx int) (uint64, error) {
	const op = "time_until_unlock"
	s.mu.Lock()
	defer s.mu.Unlock()
	st, tier, err := s.lookupStake(op, user, idx)
	if err != nil {
		return 0, err
	}
	unlock := st.UnlockTime(tier.LockDuration)
	if now := s.now(); now < unlock {
		return uint64(unlock - now), nil
	}
	return 0, nil
}

// ProjectedReward returns what amount would earn in the tier over one full
// lock period at the rate it would capture now.
func (s *Service) ProjectedReward(tierID uint32, amount *big.Int, premium bool) (*big.Int, error) {
	const op = "projected_reward"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tierByID(op, tierID)
	if err != nil {
		return nil, err
	}
	return projectReward(op, amount, EffectiveRate(t, premium), t.LockDuration)
}

// EstimateReward returns the reward amount would accrue at rateBps over
// seconds.
func (s *Service) EstimateReward(amount *big.Int, rateBps, seconds uint64) (*big.Int, error) {
	return projectReward("estimate_reward", amount, rateBps, seconds)
}

// projectReward is AccruedReward for caller-supplied inputs. A positive
// amount that earns nothing is reported instead of returned as zero.
func projectReward(op string, amount *big.Int, rateBps, seconds uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, newError(KindValidation, op, ErrInvalidParameter, "amount must not be negative")
	}
	reward, err := AccruedReward(amount, rateBps, seconds)
	if err != nil {
		return nil, err
	}
	if reward.Sign() == 0 && amount.Sign() > 0 && rateBps > 0 && seconds > 0 {
		return nil, newError(KindArithmetic, op, ErrPrecisionLoss, "reward rounds to zero")
	}
	return reward, nil
}

// CanStake runs the stake checks without side effects. The reason is empty
// when staking would be accepted, token transfer aside.
func (s *Service) CanStake(user common.Address, tierID uint32, amount *big.Int) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.checkStake("can_stake", user, tierID, amount)
	if err == nil {
		return true, ""
	}
	return false, reason(err)
}

// checkStake mirrors the validation order of Stake.
func (s *Service) checkStake(op string, user common.Address, tierID uint32, amount *big.Int) error {
	if err := s.requireNotPaused(op); err != nil {
		return err
	}
	tier, err := s.tierByID(op, tierID)
	if err != nil {
		return err
	}
	if !tier.Active {
		return newError(KindValidation, op, ErrTierInactive, tier.Name)
	}
	if amount == nil || amount.Sign() <= 0 {
		return newError(KindValidation, op, ErrZeroAmount, "")
	}
	if amount.Cmp(tier.MinStake) < 0 {
		return boundError(KindValidation, op, ErrAmountBelowMinimum, tier.MinStake, amount)
	}
	if err := s.checkHeadroom(op, user, tier, amount); err != nil {
		return err
	}
	if s.ledger.activeCount(user) >= s.params.MaxStakesPerUser {
		return newError(KindValidation, op, ErrMaxStakesReached, "")
	}
	if rate := EffectiveRate(tier, s.isPremium(user)); rate > 0 && AnnualReward(amount, rate).Sign() == 0 {
		return newError(KindArithmetic, op, ErrPrecisionLoss, "")
	}
	return nil
}

func reason(err error) string {
	var le *Error
	if !errors.As(err, &le) {
		return err.Error()
	}
	switch {
	case errors.Is(err, ErrPaused):
		return "staking is paused"
	case errors.Is(err, ErrInvalidTier):
		return "tier does not exist"
	case errors.Is(err, ErrTierInactive):
		return "tier is not active"
	case errors.Is(err, ErrZeroAmount):
		return "amount must be greater than zero"
	case errors.Is(err, ErrAmountBelowMinimum):
		return fmt.Sprintf("amount is below the tier minimum of %s", le.Required)
	case errors.Is(err, ErrTierCapacity):
		return "tier capacity would be exceeded"
	case errors.Is(err, ErrUserMaxExceeded):
		return fmt.Sprintf("amount would exceed the per-user maximum of %s", le.Required)
	case errors.Is(err, ErrMaxStakesReached):
		return "maximum number of active stakes reached"
	case errors.Is(err, ErrPrecisionLoss):
		return "amount too small to earn any reward"
	default:
		return le.Error()
	}
}

// Events returns up to limit audit records starting at sequence from.
func (s *Service) Events(from uint64, limit int) []Event {
	return s.events.page(from, limit)
}

package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/pkg/types"
)

// Receipt summarizes the token effect of a user operation.
type Receipt struct {
	Index      int      `json:"index"`
	Principal  *big.Int `json:"principal"`  // principal released
	Reward     *big.Int `json:"reward"`     // reward settled
	Compounded *big.Int `json:"compounded"` // part of Reward folded into principal
	Fee        *big.Int `json:"fee"`        // emergency fee sent to the owner
	Paid       *big.Int `json:"paid"`       // tokens pushed to the user
}

func newReceipt(idx int) *Receipt {
	return &Receipt{
		Index:      idx,
		Principal:  new(big.Int),
		Reward:     new(big.Int),
		Compounded: new(big.Int),
		Fee:        new(big.Int),
		Paid:       new(big.Int),
	}
}

// Stake locks amount into the tier and returns the new stake's index.
func (s *Service) Stake(ctx context.Context, user common.Address, tierID uint32, amount *big.Int) (idx int, err error) {
	const op = "stake"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if user == (common.Address{}) {
		return 0, newError(KindValidation, op, ErrInvalidParameter, "zero user address")
	}
	if err := s.checkStake(op, user, tierID, amount); err != nil {
		return 0, err
	}
	tier, _ := s.tiers.get(tierID)
	rate := EffectiveRate(tier, s.isPremium(user))
	if _, err := addU256(s.ledger.totalStaked, amount); err != nil {
		return 0, err
	}

	if err := s.token.Pull(ctx, user, amount); err != nil {
		return 0, externalError(op, err)
	}

	st := &types.Stake{
		Owner:          user,
		Amount:         new(big.Int).Set(amount),
		StartTime:      now,
		LastClaimTime:  now,
		RateBps:        rate,
		TierID:         tier.ID,
		Status:         types.StakeActive,
		ClaimedRewards: new(big.Int),
	}
	idx = s.ledger.open(st, tier)
	s.emit(now, Event{
		Kind:       EventStakeOpened,
		Actor:      user,
		User:       user,
		TierID:     u32ptr(tier.ID),
		StakeIndex: intptr(idx),
		Amount:     amt(amount),
		Value:      fmt.Sprintf("%d", rate),
	})
	s.log.Info("staking: stake opened", "user", user.Hex(), "tier", tier.ID, "index", idx, "amount", amount.String(), "rate_bps", rate)
	return idx, nil
}

// checkHeadroom enforces the tier-wide capacity first and the per-user tier
// maximum second.
func (s *Service) checkHeadroom(op string, user common.Address, tier *types.Tier, add *big.Int) error {
	tierTotal := new(big.Int).Add(tier.TotalStaked, add)
	if tierTotal.Cmp(tier.TierMaxStake) > 0 {
		return boundError(KindCapacity, op, ErrTierCapacity, tier.TierMaxStake, tierTotal)
	}
	userTotal := new(big.Int).Add(s.ledger.userTierStaked(user, tier.ID), add)
	if userTotal.Cmp(tier.MaxStake) > 0 {
		return boundError(KindValidation, op, ErrUserMaxExceeded, tier.MaxStake, userTotal)
	}
	return nil
}

// Unstake closes an unlocked stake and pays principal plus pending reward.
func (s *Service) Unstake(ctx context.Context, user common.Address, idx int) (rcpt *Receipt, err error) {
	const op = "unstake"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return nil, err
	}
	st, tier, err := s.lookupStake(op, user, idx)
	if err != nil {
		return nil, err
	}
	unlock := st.UnlockTime(tier.LockDuration)
	if now < unlock {
		e := boundError(KindState, op, ErrStakeLocked, big.NewInt(unlock), big.NewInt(now))
		e.Detail = fmt.Sprintf("unlocks in %ds", unlock-now)
		return nil, e
	}
	reward, err := PendingReward(st, now)
	if err != nil {
		return nil, err
	}
	if err := s.drawReward(op, reward); err != nil {
		return nil, err
	}
	payout, err := addU256(st.Amount, reward)
	if err != nil {
		return nil, err
	}

	if err := newTransferBatch(s.token).push(user, payout).exec(ctx, op); err != nil {
		return nil, err
	}

	rcpt = newReceipt(idx)
	rcpt.Principal.Set(st.Amount)
	rcpt.Reward.Set(reward)
	rcpt.Paid.Set(payout)

	s.ledger.settle(st, tier, reward, now, false)
	s.rewardPoolBalance.Sub(s.rewardPoolBalance, reward)
	s.ledger.close(st, tier, types.StakeClosed)
	s.emit(now, Event{
		Kind:       EventStakeClosed,
		Actor:      user,
		User:       user,
		TierID:     u32ptr(tier.ID),
		StakeIndex: intptr(idx),
		Amount:     amt(rcpt.Principal),
		Reward:     amt(reward),
	})
	s.log.Info("staking: stake closed", "user", user.Hex(), "index", idx, "principal", rcpt.Principal.String(), "reward", reward.String())
	return rcpt, nil
}

// claimPlan is a settlement computed but not yet committed.
type claimPlan struct {
	idx      int
	stake    *types.Stake
	tier     *types.Tier
	reward   *big.Int
	compound bool
}

// planClaim settles one stake on paper. tierAdd and userAdd carry principal
// already scheduled for compounding by earlier plans in the same operation.
func (s *Service) planClaim(user common.Address, idx int, st *types.Stake, tier *types.Tier, now int64, tierAdd, userAdd map[uint32]*big.Int) (*claimPlan, error) {
	reward, err := PendingReward(st, now)
	if err != nil {
		return nil, err
	}
	p := &claimPlan{idx: idx, stake: st, tier: tier, reward: reward}
	if reward.Sign() == 0 || !st.AutoCompound || reward.Cmp(s.params.MinCompoundAmount) < 0 {
		return p, nil
	}
	// Compounding must keep the tier and the user inside their caps;
	// otherwise the reward is paid out.
	tierTotal := new(big.Int).Add(tier.TotalStaked, reward)
	userTotal := new(big.Int).Add(s.ledger.userTierStaked(user, tier.ID), reward)
	if v, ok := tierAdd[tier.ID]; ok {
		tierTotal.Add(tierTotal, v)
		userTotal.Add(userTotal, userAdd[tier.ID])
	}
	if tierTotal.Cmp(tier.TierMaxStake) > 0 || userTotal.Cmp(tier.MaxStake) > 0 {
		return p, nil
	}
	if _, err := addU256(st.Amount, reward); err != nil {
		return nil, err
	}
	p.compound = true
	if _, ok := tierAdd[tier.ID]; !ok {
		tierAdd[tier.ID] = new(big.Int)
		userAdd[tier.ID] = new(big.Int)
	}
	tierAdd[tier.ID].Add(tierAdd[tier.ID], reward)
	userAdd[tier.ID].Add(userAdd[tier.ID], reward)
	return p, nil
}

func (s *Service) checkCooldown(op string, user common.Address, now int64) error {
	last := s.ledger.lastClaim(user)
	if last == 0 {
		return nil
	}
	next := last + int64(s.params.ClaimCooldown)
	if now < next {
		e := boundError(KindState, op, ErrCooldownActive, big.NewInt(next), big.NewInt(now))
		e.Detail = fmt.Sprintf("next claim in %ds", next-now)
		return e
	}
	return nil
}

// commitClaims applies settled plans and emits one record per stake.
// Callers hold s.mu and have already moved the tokens.
func (s *Service) commitClaims(user common.Address, plans []*claimPlan, now int64, rcpt *Receipt) {
	for _, p := range plans {
		s.ledger.settle(p.stake, p.tier, p.reward, now, p.compound)
		s.rewardPoolBalance.Sub(s.rewardPoolBalance, p.reward)
		rcpt.Reward.Add(rcpt.Reward, p.reward)
		if p.compound {
			rcpt.Compounded.Add(rcpt.Compounded, p.reward)
		} else {
			rcpt.Paid.Add(rcpt.Paid, p.reward)
		}
		s.emit(now, Event{
			Kind:       EventRewardsClaimed,
			Actor:      user,
			User:       user,
			TierID:     u32ptr(p.tier.ID),
			StakeIndex: intptr(p.idx),
			Reward:     amt(p.reward),
			Compounded: p.compound,
		})
	}
	s.ledger.setLastClaim(user, now)
}

// Claim settles one stake. A zero pending reward is a no-op that leaves the
// cooldown untouched.
func (s *Service) Claim(ctx context.Context, user common.Address, idx int) (rcpt *Receipt, err error) {
	const op = "claim"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return nil, err
	}
	st, tier, err := s.lookupStake(op, user, idx)
	if err != nil {
		return nil, err
	}
	if err := s.checkCooldown(op, user, now); err != nil {
		return nil, err
	}
	plan, err := s.planClaim(user, idx, st, tier, now, map[uint32]*big.Int{}, map[uint32]*big.Int{})
	if err != nil {
		return nil, err
	}
	rcpt = newReceipt(idx)
	if plan.reward.Sign() == 0 {
		return rcpt, nil
	}
	if err := s.drawReward(op, plan.reward); err != nil {
		return nil, err
	}
	if !plan.compound {
		if err := newTransferBatch(s.token).push(user, plan.reward).exec(ctx, op); err != nil {
			return nil, err
		}
	}
	s.commitClaims(user, []*claimPlan{plan}, now, rcpt)
	return rcpt, nil
}

// ClaimAll settles every active stake of the user in one transaction.
// Compounded rewards stay in their stakes; the rest is paid in one transfer.
func (s *Service) ClaimAll(ctx context.Context, user common.Address) (rcpt *Receipt, err error) {
	const op = "claim_all"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return nil, err
	}
	indices := s.ledger.activeIndices(user)
	if len(indices) == 0 {
		return nil, newError(KindState, op, ErrStakeNotFound, "no active stakes")
	}
	if err := s.checkCooldown(op, user, now); err != nil {
		return nil, err
	}

	tierAdd, userAdd := map[uint32]*big.Int{}, map[uint32]*big.Int{}
	var plans []*claimPlan
	total, payout := new(big.Int), new(big.Int)
	for _, idx := range indices {
		st, tier, err := s.lookupStake(op, user, idx)
		if err != nil {
			return nil, err
		}
		p, err := s.planClaim(user, idx, st, tier, now, tierAdd, userAdd)
		if err != nil {
			return nil, err
		}
		if p.reward.Sign() == 0 {
			continue
		}
		plans = append(plans, p)
		total.Add(total, p.reward)
		if !p.compound {
			payout.Add(payout, p.reward)
		}
	}
	rcpt = newReceipt(-1)
	if len(plans) == 0 {
		return rcpt, nil
	}
	if err := s.drawReward(op, total); err != nil {
		return nil, err
	}
	if err := checkU256(payout); err != nil {
		return nil, err
	}
	if err := newTransferBatch(s.token).push(user, payout).exec(ctx, op); err != nil {
		return nil, err
	}
	s.commitClaims(user, plans, now, rcpt)
	s.log.Info("staking: rewards claimed", "user", user.Hex(), "stakes", len(plans), "reward", rcpt.Reward.String(), "compounded", rcpt.Compounded.String())
	return rcpt, nil
}

// EmergencyUnstake closes a stake regardless of its lock. Pending reward is
// forfeited and the emergency fee goes to the owner.
func (s *Service) EmergencyUnstake(ctx context.Context, user common.Address, idx int) (rcpt *Receipt, err error) {
	const op = "emergency_unstake"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return nil, err
	}
	st, tier, err := s.lookupStake(op, user, idx)
	if err != nil {
		return nil, err
	}
	forfeited, err := PendingReward(st, now)
	if err != nil {
		return nil, err
	}
	fee := BpsOf(st.Amount, s.params.EmergencyFeeBps)
	if fee.Sign() == 0 {
		return nil, newError(KindArithmetic, op, ErrPrecisionLoss, "emergency fee rounds to zero")
	}
	payout := new(big.Int).Sub(st.Amount, fee)

	batch := newTransferBatch(s.token).push(s.owner, fee).push(user, payout)
	if err := batch.exec(ctx, op); err != nil {
		return nil, err
	}

	rcpt = newReceipt(idx)
	rcpt.Principal.Set(st.Amount)
	rcpt.Fee.Set(fee)
	rcpt.Paid.Set(payout)

	s.ledger.close(st, tier, types.StakeEmergencyClosed)
	s.emit(now, Event{
		Kind:       EventEmergencyExit,
		Actor:      user,
		User:       user,
		TierID:     u32ptr(tier.ID),
		StakeIndex: intptr(idx),
		Amount:     amt(rcpt.Principal),
		Fee:        amt(fee),
		Reward:     amt(forfeited),
	})
	s.log.Warn("staking: emergency exit", "user", user.Hex(), "index", idx, "fee", fee.String(), "forfeited", forfeited.String())
	return rcpt, nil
}

// ToggleAutoCompound flips the flag on one active stake and returns the new
// value.
func (s *Service) ToggleAutoCompound(user common.Address, idx int) (enabled bool, err error) {
	const op = "toggle_auto_compound"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return false, err
	}
	st, tier, err := s.lookupStake(op, user, idx)
	if err != nil {
		return false, err
	}
	st.AutoCompound = !st.AutoCompound
	s.emit(now, Event{
		Kind:       EventAutoCompoundToggled,
		Actor:      user,
		User:       user,
		TierID:     u32ptr(tier.ID),
		StakeIndex: intptr(idx),
		Enabled:    boolptr(st.AutoCompound),
	})
	return st.AutoCompound, nil
}

// SetAutoCompoundAll sets the flag on every active stake and returns how
// many stakes changed.
func (s *Service) SetAutoCompoundAll(user common.Address, enabled bool) (changed int, err error) {
	const op = "set_auto_compound_all"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireNotPaused(op); err != nil {
		return 0, err
	}
	for _, idx := range s.ledger.activeIndices(user) {
		st, _ := s.ledger.get(user, idx)
		if st.AutoCompound == enabled {
			continue
		}
		st.AutoCompound = enabled
		changed++
		s.emit(now, Event{
			Kind:       EventAutoCompoundToggled,
			Actor:      user,
			User:       user,
			TierID:     u32ptr(st.TierID),
			StakeIndex: intptr(idx),
			Enabled:    boolptr(enabled),
		})
	}
	return changed, nil
}

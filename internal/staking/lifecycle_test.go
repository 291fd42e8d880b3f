package staking

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltbunker/tierstake/pkg/types"
)

func TestStake_Boundaries(t *testing.T) {
	h := newHarness(t)

	// tier minimum
	_, err := h.svc.Stake(h.ctx, alice, 0, big.NewInt(999))
	require.ErrorIs(t, err, ErrAmountBelowMinimum)
	assert.Equal(t, KindValidation, KindOf(err))
	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "1000", le.Required.String())
	assert.Equal(t, "999", le.Actual.String())
	h.stake(t, alice, 0, 1_000)

	// per-user tier maximum counts every active stake in the tier
	h.stake(t, alice, 0, 99_000)
	_, err = h.svc.Stake(h.ctx, alice, 0, big.NewInt(1))
	require.ErrorIs(t, err, ErrAmountBelowMinimum)
	_, err = h.svc.Stake(h.ctx, alice, 0, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrUserMaxExceeded)

	// tier capacity
	h.stake(t, bob, 1, 50_000)
	h.stake(t, carol, 1, 10_000)
	_, err = h.svc.Stake(h.ctx, alice, 1, big.NewInt(100))
	require.ErrorIs(t, err, ErrTierCapacity)
	assert.Equal(t, KindCapacity, KindOf(err))

	requireConsistent(t, h.svc)
}

func TestStake_Rejections(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Stake(h.ctx, alice, 9, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrInvalidTier)

	_, err = h.svc.Stake(h.ctx, alice, 0, big.NewInt(0))
	require.ErrorIs(t, err, ErrZeroAmount)

	// annual reward of a single unit at 12% truncates to zero
	_, err = h.svc.Stake(h.ctx, alice, 2, big.NewInt(1))
	require.ErrorIs(t, err, ErrPrecisionLoss)
	assert.Equal(t, KindArithmetic, KindOf(err))

	for i := 0; i < 3; i++ {
		h.stake(t, alice, 2, 1_000)
	}
	_, err = h.svc.Stake(h.ctx, alice, 2, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrMaxStakesReached)

	h.token.failPull[bob] = errDeclined
	_, err = h.svc.Stake(h.ctx, bob, 0, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, errDeclined)
	assert.Equal(t, KindExternal, KindOf(err))
	assert.Empty(t, h.svc.GetUserStakes(bob))

	requireConsistent(t, h.svc)
}

func TestStake_InactiveTier(t *testing.T) {
	h := newHarness(t)
	p := testTiers()[0].TierParams
	p.Active = false
	require.NoError(t, h.svc.UpdateTier(owner, 0, p))

	_, err := h.svc.Stake(h.ctx, alice, 0, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrTierInactive)
}

func TestReward_Example(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	h.advance(30 * day)

	pending, err := h.svc.PendingReward(alice, idx)
	require.NoError(t, err)
	assert.Equal(t, "98", pending.String())
}

func TestUnstake_LockEnforcement(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	before := h.token.balance(alice)

	h.advance(29 * day)
	_, err := h.svc.Unstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrStakeLocked)
	assert.Equal(t, KindState, KindOf(err))

	left, err := h.svc.TimeUntilUnlock(alice, idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(day), left)

	h.advance(day + 1)
	rcpt, err := h.svc.Unstake(h.ctx, alice, idx)
	require.NoError(t, err)

	reward, err := AccruedReward(big.NewInt(10_000), 1200, 30*day+1)
	require.NoError(t, err)
	assert.Equal(t, reward.String(), rcpt.Reward.String())
	assert.Equal(t, "10000", rcpt.Principal.String())
	assert.Equal(t, new(big.Int).Add(before, rcpt.Paid).String(), h.token.balance(alice).String())

	stakes := h.svc.GetUserStakes(alice)
	require.Len(t, stakes, 1)
	assert.Equal(t, types.StakeClosed, stakes[0].Status)
	assert.Empty(t, h.svc.GetActiveStakes(alice))

	_, err = h.svc.Unstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrStakeInactive)
	_, err = h.svc.Claim(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrStakeInactive)
	_, err = h.svc.Unstake(h.ctx, alice, 7)
	require.ErrorIs(t, err, ErrStakeNotFound)

	requireConsistent(t, h.svc)
}

func TestUnstake_TransferFailureLeavesStakeUntouched(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	h.advance(31 * day)

	before := h.svc.Snapshot()
	h.token.failPush[alice] = errDeclined
	_, err := h.svc.Unstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrTransferFailed)

	after := h.svc.Snapshot()
	assert.Equal(t, before.Stakes, after.Stakes)
	assert.Equal(t, before.RewardPoolBalance.String(), after.RewardPoolBalance.String())
	assert.Equal(t, "10000", h.svc.GetGlobalStats().TotalStaked.String())
}

func TestEmergencyUnstake_Example(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	h.advance(10 * day)

	aliceBefore := h.token.balance(alice)
	ownerBefore := h.token.balance(owner)
	poolBefore := h.svc.GetGlobalStats().RewardPoolBalance

	rcpt, err := h.svc.EmergencyUnstake(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Equal(t, "2000", rcpt.Fee.String())
	assert.Equal(t, "8000", rcpt.Paid.String())
	assert.Equal(t, "0", rcpt.Reward.String())

	assert.Equal(t, new(big.Int).Add(aliceBefore, big.NewInt(8_000)).String(), h.token.balance(alice).String())
	assert.Equal(t, new(big.Int).Add(ownerBefore, big.NewInt(2_000)).String(), h.token.balance(owner).String())

	stats := h.svc.GetGlobalStats()
	assert.Equal(t, poolBefore.String(), stats.RewardPoolBalance.String())
	assert.Equal(t, "0", stats.TotalStaked.String())
	assert.Equal(t, types.StakeEmergencyClosed, h.svc.GetUserStakes(alice)[0].Status)

	evs := h.svc.Events(0, 0)
	last := evs[len(evs)-1]
	assert.Equal(t, EventEmergencyExit, last.Kind)
	assert.Equal(t, "2000", last.Fee.String())
	assert.Positive(t, last.Reward.Sign())

	requireConsistent(t, h.svc)
}

func TestEmergencyUnstake_CompensatesFee(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	ownerBefore := h.token.balance(owner)

	h.token.failPush[alice] = errDeclined
	_, err := h.svc.EmergencyUnstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrTransferFailed)

	// fee push went through and was pulled back
	assert.Equal(t, ownerBefore.String(), h.token.balance(owner).String())
	assert.True(t, h.svc.GetUserStakes(alice)[0].IsActive())
	requireConsistent(t, h.svc)
}

func TestClaim_Cooldown(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 100_000)
	h.advance(day)

	rcpt, err := h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Positive(t, rcpt.Paid.Sign())

	h.advance(60)
	before := h.svc.GetUserStakes(alice)[idx]
	_, err = h.svc.Claim(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, before, h.svc.GetUserStakes(alice)[idx])

	h.advance(3_600)
	_, err = h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	requireConsistent(t, h.svc)
}

func TestClock_NeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 100_000)
	h.advance(day)

	_, err := h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	last := h.svc.GetUserStakes(alice)[idx].LastClaimTime
	assert.Equal(t, h.clock.Now().Unix(), last)

	h.advance(-2 * day)
	pending, err := h.svc.PendingReward(alice, idx)
	require.NoError(t, err)
	assert.Zero(t, pending.Sign())

	bobIdx := h.stake(t, bob, 0, 10_000)
	assert.Equal(t, last, h.svc.GetUserStakes(bob)[bobIdx].StartTime)
	assert.Equal(t, last, h.svc.GetUserStakes(alice)[idx].LastClaimTime)

	// back at the clamped time nothing has accrued
	h.advance(2 * day)
	pending, err = h.svc.PendingReward(alice, idx)
	require.NoError(t, err)
	assert.Zero(t, pending.Sign())

	h.advance(day)
	_, err = h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Equal(t, last+day, h.svc.GetUserStakes(alice)[idx].LastClaimTime)
	requireConsistent(t, h.svc)
}

func TestClaim_ZeroRewardIsNoop(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 1_000)
	seq := len(h.svc.Events(0, 0))

	rcpt, err := h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Zero(t, rcpt.Reward.Sign())
	assert.Len(t, h.svc.Events(0, 0), seq)
	assert.Zero(t, h.svc.GetUserStats(alice).LastClaim)
}

func TestClaim_AutoCompoundThreshold(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	on, err := h.svc.ToggleAutoCompound(alice, idx)
	require.NoError(t, err)
	require.True(t, on)

	// 3 units is below the compound minimum of 50 and is paid out
	h.advance(day)
	rcpt, err := h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Equal(t, "3", rcpt.Paid.String())
	assert.Zero(t, rcpt.Compounded.Sign())
	assert.Equal(t, "10000", h.svc.GetUserStakes(alice)[idx].Amount.String())

	h.advance(30 * day)
	rcpt, err = h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Equal(t, "98", rcpt.Compounded.String())
	assert.Zero(t, rcpt.Paid.Sign())
	assert.Equal(t, "10098", h.svc.GetUserStakes(alice)[idx].Amount.String())

	tier, err := h.svc.GetTier(0)
	require.NoError(t, err)
	assert.Equal(t, "10098", tier.TotalStaked.String())
	requireConsistent(t, h.svc)
}

func TestClaim_CompoundRespectsCaps(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 100_000) // at the per-user maximum
	_, err := h.svc.ToggleAutoCompound(alice, idx)
	require.NoError(t, err)

	h.advance(30 * day)
	rcpt, err := h.svc.Claim(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Zero(t, rcpt.Compounded.Sign())
	assert.Equal(t, rcpt.Reward.String(), rcpt.Paid.String())
	requireConsistent(t, h.svc)
}

func TestClaim_RewardPoolExhausted(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 100_000)
	require.NoError(t, h.svc.EmergencyWithdraw(h.ctx, owner, big.NewInt(1_000_000)))

	h.advance(30 * day)
	_, err := h.svc.Claim(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrRewardPoolExhausted)
	assert.Equal(t, KindCapacity, KindOf(err))
}

func TestUnstake_WaitsForFundedRewardPool(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	before := h.token.balance(alice)
	require.NoError(t, h.svc.EmergencyWithdraw(h.ctx, owner, big.NewInt(1_000_000)))

	h.advance(31 * day)
	_, err := h.svc.Unstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrRewardPoolExhausted)
	assert.Equal(t, KindCapacity, KindOf(err))
	assert.True(t, h.svc.GetUserStakes(alice)[idx].IsActive())
	assert.Equal(t, before.String(), h.token.balance(alice).String())

	require.NoError(t, h.svc.FundRewardPool(h.ctx, owner, big.NewInt(1_000)))
	rcpt, err := h.svc.Unstake(h.ctx, alice, idx)
	require.NoError(t, err)
	assert.Equal(t, "10000", rcpt.Principal.String())
	requireConsistent(t, h.svc)
}

func TestClaimAll_SinglePayout(t *testing.T) {
	h := newHarness(t)
	a := h.stake(t, alice, 0, 10_000)
	b := h.stake(t, alice, 0, 20_000)
	c := h.stake(t, alice, 1, 5_000)
	_, err := h.svc.ToggleAutoCompound(alice, b)
	require.NoError(t, err)

	h.advance(30 * day)
	pushes := h.token.pushCount
	rcpt, err := h.svc.ClaimAll(h.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, pushes+1, h.token.pushCount)

	ra, _ := AccruedReward(big.NewInt(10_000), 1200, 30*day)
	rb, _ := AccruedReward(big.NewInt(20_000), 1200, 30*day)
	rc, _ := AccruedReward(big.NewInt(5_000), 2000, 30*day)
	assert.Equal(t, rb.String(), rcpt.Compounded.String())
	assert.Equal(t, new(big.Int).Add(ra, rc).String(), rcpt.Paid.String())

	stakes := h.svc.GetUserStakes(alice)
	assert.Equal(t, new(big.Int).Add(big.NewInt(20_000), rb).String(), stakes[b].Amount.String())
	assert.Equal(t, "10000", stakes[a].Amount.String())
	assert.Equal(t, stakes[c].LastClaimTime, h.clock.Now().Unix())

	_, err = h.svc.ClaimAll(h.ctx, alice)
	require.ErrorIs(t, err, ErrCooldownActive)

	_, err = h.svc.ClaimAll(h.ctx, bob)
	require.ErrorIs(t, err, ErrStakeNotFound)
	requireConsistent(t, h.svc)
}

func TestAutoCompoundAll(t *testing.T) {
	h := newHarness(t)
	h.stake(t, alice, 0, 1_000)
	h.stake(t, alice, 1, 1_000)
	_, err := h.svc.ToggleAutoCompound(alice, 1)
	require.NoError(t, err)

	changed, err := h.svc.SetAutoCompoundAll(alice, true)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	for _, s := range h.svc.GetActiveStakes(alice) {
		assert.True(t, s.Stake.AutoCompound)
	}
}

func TestRateCapturedAtCreation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.SetPremiumUser(owner, alice, true))
	idx := h.stake(t, alice, 0, 10_000)

	require.NoError(t, h.svc.SetPremiumUser(owner, alice, false))
	p := testTiers()[0].TierParams
	p.BaseRateBps = 100
	require.NoError(t, h.svc.UpdateTier(owner, 0, p))

	assert.Equal(t, uint64(1500), h.svc.GetUserStakes(alice)[idx].RateBps)
	idx2 := h.stake(t, alice, 0, 10_000)
	assert.Equal(t, uint64(100), h.svc.GetUserStakes(alice)[idx2].RateBps)
}

func TestPause_BlocksUserOperations(t *testing.T) {
	h := newHarness(t)
	idx := h.stake(t, alice, 0, 10_000)
	require.NoError(t, h.svc.Pause(owner))

	_, err := h.svc.Stake(h.ctx, alice, 0, big.NewInt(1_000))
	require.ErrorIs(t, err, ErrPaused)
	_, err = h.svc.EmergencyUnstake(h.ctx, alice, idx)
	require.ErrorIs(t, err, ErrPaused)
	_, err = h.svc.ToggleAutoCompound(alice, idx)
	require.ErrorIs(t, err, ErrPaused)
	ok, reason := h.svc.CanStake(alice, 0, big.NewInt(1_000))
	assert.False(t, ok)
	assert.Equal(t, "staking is paused", reason)

	require.NoError(t, h.svc.Unpause(owner))
	h.stake(t, alice, 0, 1_000)
}

func TestConservation_RandomSequence(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))
	users := []common.Address{alice, bob, carol}

	for i := 0; i < 400; i++ {
		user := users[rng.Intn(len(users))]
		h.advance(int64(rng.Intn(5 * day)))
		switch rng.Intn(6) {
		case 0, 1:
			_, _ = h.svc.Stake(h.ctx, user, uint32(rng.Intn(2)), big.NewInt(int64(1_000+rng.Intn(20_000))))
		case 2:
			_, _ = h.svc.Claim(h.ctx, user, rng.Intn(8))
		case 3:
			_, _ = h.svc.Unstake(h.ctx, user, rng.Intn(8))
		case 4:
			_, _ = h.svc.ToggleAutoCompound(user, rng.Intn(8))
			_, _ = h.svc.ClaimAll(h.ctx, user)
		case 5:
			_, _ = h.svc.EmergencyUnstake(h.ctx, user, rng.Intn(8))
		}
		requireConsistent(t, h.svc)
	}

	// custody always equals principal plus the reward pool
	stats := h.svc.GetGlobalStats()
	custody := new(big.Int).Add(stats.TotalStaked, stats.RewardPoolBalance)
	assert.Equal(t, custody.String(), h.token.custody.String())
}

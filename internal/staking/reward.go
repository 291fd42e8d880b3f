package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/moltbunker/tierstake/pkg/types"
)

const (
	// BpsDenominator is the basis point scale: 10_000 bps = 100%.
	BpsDenominator = 10_000

	// SecondsPerYear is a fixed 365-day year. Leap years are deliberately
	// ignored so reward amounts stay stable across calendar years.
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	bpsDenominator = big.NewInt(BpsDenominator)
	secondsPerYear = big.NewInt(SecondsPerYear)
)

// Reward arithmetic below rounds toward zero at each division and always
// multiplies before dividing:
//
//	annual = principal * rateBps / 10_000
//	reward = annual * elapsed / 31_536_000
//
// Intermediates are arbitrary precision; only values that get stored are
// required to fit in 256 bits.

// PendingReward returns the reward accrued on a stake since its last
// settlement. Closed stakes and zero elapsed time yield zero.
func PendingReward(s *types.Stake, now int64) (*big.Int, error) {
	if s == nil || !s.IsActive() {
		return new(big.Int), nil
	}
	elapsed := now - s.LastClaimTime
	if elapsed <= 0 {
		return new(big.Int), nil
	}
	return AccruedReward(s.Amount, s.RateBps, uint64(elapsed))
}

// AccruedReward computes the reward earned by principal at rateBps over
// elapsed seconds.
func AccruedReward(principal *big.Int, rateBps uint64, elapsed uint64) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed == 0 {
		return new(big.Int), nil
	}
	annual := AnnualReward(principal, rateBps)
	if err := checkU256(annual); err != nil {
		return nil, err
	}
	reward := new(big.Int).Mul(annual, new(big.Int).SetUint64(elapsed))
	reward.Quo(reward, secondsPerYear)
	if err := checkU256(reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// AnnualReward returns principal * rateBps / 10_000, floored.
func AnnualReward(principal *big.Int, rateBps uint64) *big.Int {
	annual := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	return annual.Quo(annual, bpsDenominator)
}

// BpsOf returns amount * bps / 10_000, floored.
func BpsOf(amount *big.Int, bps uint64) *big.Int {
	v := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return v.Quo(v, bpsDenominator)
}

// EffectiveRate is the rate a new stake captures: the tier base rate plus
// the premium bonus when the staker is premium at creation time.
func EffectiveRate(t *types.Tier, premium bool) uint64 {
	if premium {
		return t.BaseRateBps + t.PremiumBonusBps
	}
	return t.BaseRateBps
}

// checkU256 rejects values that do not fit the stored 256-bit width.
func checkU256(v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return boundError(KindArithmetic, "", ErrOverflow, math.MaxBig256, v)
	}
	return nil
}

// addU256 returns a+b or an overflow error.
func addU256(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if err := checkU256(sum); err != nil {
		return nil, err
	}
	return sum, nil
}

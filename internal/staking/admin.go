package staking

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxClaimCooldown bounds the claim cooldown.
const MaxClaimCooldown = 30 * 24 * 60 * 60

// admin runs fn under the ledger lock after the owner check. Pause does not
// block owner operations.
func (s *Service) admin(op string, caller common.Address, fn func(now int64) error) (err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.observe(op, start, err) }()

	now := s.now()
	if err := s.requireOwner(op, caller); err != nil {
		return err
	}
	return fn(now)
}

func (s *Service) emitParam(now int64, caller common.Address, name, value string) {
	s.emit(now, Event{Kind: EventParameterUpdated, Actor: caller, Param: name, Value: value})
	s.log.Info("staking: parameter updated", "param", name, "value", value)
}

// AddTier appends a tier and returns its id.
func (s *Service) AddTier(caller common.Address, p TierParams, premiumBonusBps uint64) (id uint32, err error) {
	const op = "add_tier"
	err = s.admin(op, caller, func(now int64) error {
		if s.tiers.count() >= MaxTiers {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("at most %d tiers", MaxTiers))
		}
		if premiumBonusBps > MaxPremiumBonusBps {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("premium bonus above %d bps", MaxPremiumBonusBps))
		}
		if err := p.validate(op, nil); err != nil {
			return err
		}
		if p.BaseRateBps+premiumBonusBps > MaxRateBps {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("effective rate above %d bps", MaxRateBps))
		}
		t := s.tiers.add(p, premiumBonusBps)
		id = t.ID
		s.emit(now, Event{Kind: EventTierUpdated, Actor: caller, TierID: u32ptr(t.ID), Value: t.Name})
		return nil
	})
	return id, err
}

// UpdateTier replaces the parameters of tier id. The next sequential id
// appends a new tier with no premium bonus. Caps may not drop below what
// is already allocated, and existing stakes keep their captured rates.
func (s *Service) UpdateTier(caller common.Address, id uint32, p TierParams) error {
	const op = "update_tier"
	return s.admin(op, caller, func(now int64) error {
		if int(id) == s.tiers.count() {
			if s.tiers.count() >= MaxTiers {
				return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("at most %d tiers", MaxTiers))
			}
			if err := p.validate(op, nil); err != nil {
				return err
			}
			t := s.tiers.add(p, 0)
			s.emit(now, Event{Kind: EventTierUpdated, Actor: caller, TierID: u32ptr(t.ID), Value: t.Name})
			return nil
		}
		t, err := s.tierByID(op, id)
		if err != nil {
			return err
		}
		if err := p.validate(op, t.TotalStaked); err != nil {
			return err
		}
		if p.BaseRateBps+t.PremiumBonusBps > MaxRateBps {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("effective rate above %d bps", MaxRateBps))
		}
		if p.MaxStake != nil {
			if top := s.ledger.maxUserTierStaked(t.ID); p.MaxStake.Cmp(top) < 0 {
				e := boundError(KindValidation, op, ErrInvalidParameter, top, p.MaxStake)
				e.Detail = "max stake below an existing user allocation"
				return e
			}
		}
		s.tiers.update(t, p)
		s.emit(now, Event{Kind: EventTierUpdated, Actor: caller, TierID: u32ptr(t.ID), Value: t.Name})
		return nil
	})
}

// SetPremiumBonus sets the bonus new premium stakes in the tier capture.
func (s *Service) SetPremiumBonus(caller common.Address, tierID uint32, bps uint64) error {
	const op = "set_premium_bonus"
	return s.admin(op, caller, func(now int64) error {
		t, err := s.tierByID(op, tierID)
		if err != nil {
			return err
		}
		if bps > MaxPremiumBonusBps {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("premium bonus above %d bps", MaxPremiumBonusBps))
		}
		if t.BaseRateBps+bps > MaxRateBps {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("effective rate above %d bps", MaxRateBps))
		}
		t.PremiumBonusBps = bps
		s.emit(now, Event{Kind: EventTierUpdated, Actor: caller, TierID: u32ptr(t.ID), Param: "premium_bonus_bps", Value: strconv.FormatUint(bps, 10)})
		return nil
	})
}

// SetPremiumUser grants or revokes premium status. Nothing is recorded
// when the status does not change.
func (s *Service) SetPremiumUser(caller, user common.Address, premium bool) error {
	const op = "set_premium_user"
	return s.admin(op, caller, func(now int64) error {
		if user == (common.Address{}) {
			return newError(KindValidation, op, ErrInvalidParameter, "zero user address")
		}
		if s.isPremium(user) == premium {
			return nil
		}
		if premium {
			if len(s.premium) >= s.params.MaxPremiumUsers {
				return boundError(KindCapacity, op, ErrPremiumRosterFull,
					big.NewInt(int64(s.params.MaxPremiumUsers)), big.NewInt(int64(len(s.premium)+1)))
			}
			s.premium[user] = now
		} else {
			delete(s.premium, user)
		}
		s.emit(now, Event{Kind: EventPremiumStatusChanged, Actor: caller, User: user, Enabled: boolptr(premium)})
		return nil
	})
}

// SetEmergencyFee sets the emergency exit fee.
func (s *Service) SetEmergencyFee(caller common.Address, bps uint64) error {
	const op = "set_emergency_fee"
	return s.admin(op, caller, func(now int64) error {
		if bps < MinEmergencyFeeBps || bps > MaxEmergencyFeeBps {
			e := boundError(KindValidation, op, ErrInvalidParameter, big.NewInt(MaxEmergencyFeeBps), new(big.Int).SetUint64(bps))
			e.Detail = fmt.Sprintf("fee must be within [%d, %d] bps", MinEmergencyFeeBps, MaxEmergencyFeeBps)
			return e
		}
		s.params.EmergencyFeeBps = bps
		s.emitParam(now, caller, "emergency_fee_bps", strconv.FormatUint(bps, 10))
		return nil
	})
}

// SetRewardPool sets the configured pool size and amortization duration
// and recomputes the reward per second.
func (s *Service) SetRewardPool(caller common.Address, amount *big.Int, duration uint64) error {
	const op = "set_reward_pool"
	return s.admin(op, caller, func(now int64) error {
		if amount == nil || amount.Sign() < 0 {
			return newError(KindValidation, op, ErrInvalidParameter, "reward pool must not be negative")
		}
		if duration == 0 {
			return newError(KindValidation, op, ErrInvalidParameter, "duration must be greater than 0")
		}
		rps, err := rewardPerSecond(op, amount, duration)
		if err != nil {
			return err
		}
		s.params.RewardPool = new(big.Int).Set(amount)
		s.params.RewardDuration = duration
		s.rewardPerSecond = rps
		s.emit(now, Event{Kind: EventRewardPoolUpdated, Actor: caller, Amount: amt(amount), Value: strconv.FormatUint(duration, 10)})
		return nil
	})
}

// SetMaxStakesPerUser sets the active stake limit. It cannot drop below
// the count any user already holds.
func (s *Service) SetMaxStakesPerUser(caller common.Address, n int) error {
	const op = "set_max_stakes_per_user"
	return s.admin(op, caller, func(now int64) error {
		if n <= 0 {
			return newError(KindValidation, op, ErrInvalidParameter, "limit must be greater than 0")
		}
		if top := s.ledger.maxActiveCount(); n < top {
			e := boundError(KindValidation, op, ErrInvalidParameter, big.NewInt(int64(top)), big.NewInt(int64(n)))
			e.Detail = "limit below an existing user's active stakes"
			return e
		}
		s.params.MaxStakesPerUser = n
		s.emitParam(now, caller, "max_stakes_per_user", strconv.Itoa(n))
		return nil
	})
}

// SetMaxPremiumUsers sets the premium roster ceiling. It cannot drop below
// the current roster size.
func (s *Service) SetMaxPremiumUsers(caller common.Address, n int) error {
	const op = "set_max_premium_users"
	return s.admin(op, caller, func(now int64) error {
		if n < len(s.premium) {
			e := boundError(KindValidation, op, ErrInvalidParameter, big.NewInt(int64(len(s.premium))), big.NewInt(int64(n)))
			e.Detail = "ceiling below current roster"
			return e
		}
		s.params.MaxPremiumUsers = n
		s.emitParam(now, caller, "max_premium_users", strconv.Itoa(n))
		return nil
	})
}

// SetClaimCooldown sets the per-user claim cooldown in seconds.
func (s *Service) SetClaimCooldown(caller common.Address, seconds uint64) error {
	const op = "set_claim_cooldown"
	return s.admin(op, caller, func(now int64) error {
		if seconds > MaxClaimCooldown {
			return newError(KindValidation, op, ErrInvalidParameter, fmt.Sprintf("cooldown above %d seconds", MaxClaimCooldown))
		}
		s.params.ClaimCooldown = seconds
		s.emitParam(now, caller, "claim_cooldown", strconv.FormatUint(seconds, 10))
		return nil
	})
}

// SetMinCompoundAmount sets the smallest reward that auto-compound folds
// into principal.
func (s *Service) SetMinCompoundAmount(caller common.Address, amount *big.Int) error {
	const op = "set_min_compound_amount"
	return s.admin(op, caller, func(now int64) error {
		if amount == nil || amount.Sign() < 0 {
			return newError(KindValidation, op, ErrInvalidParameter, "amount must not be negative")
		}
		if err := checkU256(amount); err != nil {
			return err
		}
		s.params.MinCompoundAmount = new(big.Int).Set(amount)
		s.emitParam(now, caller, "min_compound_amount", amount.String())
		return nil
	})
}

// Pause blocks every user operation. Pausing twice is a no-op.
func (s *Service) Pause(caller common.Address) error {
	return s.setPaused("pause", caller, true)
}

// Unpause resumes user operations.
func (s *Service) Unpause(caller common.Address) error {
	return s.setPaused("unpause", caller, false)
}

func (s *Service) setPaused(op string, caller common.Address, paused bool) error {
	return s.admin(op, caller, func(now int64) error {
		if s.paused == paused {
			return nil
		}
		s.paused = paused
		kind := EventUnpaused
		if paused {
			kind = EventPaused
		}
		s.emit(now, Event{Kind: kind, Actor: caller})
		s.log.Warn("staking: pause state changed", "paused", paused)
		return nil
	})
}

// FundRewardPool pulls amount from the owner into the reward pool balance.
func (s *Service) FundRewardPool(ctx context.Context, caller common.Address, amount *big.Int) error {
	const op = "fund_reward_pool"
	return s.admin(op, caller, func(now int64) error {
		if amount == nil || amount.Sign() <= 0 {
			return newError(KindValidation, op, ErrZeroAmount, "")
		}
		balance, err := addU256(s.rewardPoolBalance, amount)
		if err != nil {
			return err
		}
		if err := newTransferBatch(s.token).pull(caller, amount).exec(ctx, op); err != nil {
			return err
		}
		s.rewardPoolBalance = balance
		s.emit(now, Event{Kind: EventRewardPoolFunded, Actor: caller, Amount: amt(amount)})
		return nil
	})
}

// EmergencyWithdraw sends reward pool tokens to the owner. Principal held
// for active stakes is never withdrawable.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	const op = "emergency_withdraw"
	return s.admin(op, caller, func(now int64) error {
		if amount == nil || amount.Sign() <= 0 {
			return newError(KindValidation, op, ErrZeroAmount, "")
		}
		if amount.Cmp(s.rewardPoolBalance) > 0 {
			return boundError(KindCapacity, op, ErrRewardPoolExhausted, s.rewardPoolBalance, amount)
		}
		if err := newTransferBatch(s.token).push(caller, amount).exec(ctx, op); err != nil {
			return err
		}
		s.rewardPoolBalance = new(big.Int).Sub(s.rewardPoolBalance, amount)
		s.emit(now, Event{Kind: EventEmergencyWithdrawal, Actor: caller, Amount: amt(amount)})
		s.log.Warn("staking: reward pool withdrawn", "amount", amount.String())
		return nil
	})
}

// TransferOwnership hands admin rights and the fee recipient role to
// newOwner.
func (s *Service) TransferOwnership(caller, newOwner common.Address) error {
	const op = "transfer_ownership"
	return s.admin(op, caller, func(now int64) error {
		if newOwner == (common.Address{}) {
			return newError(KindValidation, op, ErrInvalidParameter, "zero owner address")
		}
		s.owner = newOwner
		s.emit(now, Event{Kind: EventOwnershipTransferred, Actor: caller, User: newOwner})
		return nil
	})
}

package staking

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/pkg/types"
)

// StateVersion is bumped whenever State changes shape.
const StateVersion = 1

// State is a full copy of the ledger. Aggregates are not stored; Restore
// recomputes them from the stakes.
type State struct {
	Version           int                      `json:"version"`
	Seq               uint64                   `json:"seq"`
	LastNow           int64                    `json:"last_now"`
	Owner             common.Address           `json:"owner"`
	Params            Params                   `json:"params"`
	RewardPoolBalance *big.Int                 `json:"reward_pool_balance"`
	Paused            bool                     `json:"paused"`
	Premium           map[common.Address]int64 `json:"premium"`
	LastClaims        map[common.Address]int64 `json:"last_claims"`
	Tiers             []*types.Tier            `json:"tiers"`
	Stakes            []*types.Stake           `json:"stakes"` // arena order
}

// Snapshot returns a deep copy of the ledger state.
func (s *Service) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() *State {
	st := &State{
		Version:           StateVersion,
		Seq:               s.seq,
		LastNow:           s.lastNow,
		Owner:             s.owner,
		Params:            cloneParams(s.params),
		RewardPoolBalance: new(big.Int).Set(s.rewardPoolBalance),
		Paused:            s.paused,
		Premium:           make(map[common.Address]int64, len(s.premium)),
		LastClaims:        make(map[common.Address]int64),
		Tiers:             s.tiers.list(),
		Stakes:            make([]*types.Stake, len(s.ledger.stakes)),
	}
	for addr, since := range s.premium {
		st.Premium[addr] = since
	}
	for addr, u := range s.ledger.users {
		if u.lastClaim != 0 {
			st.LastClaims[addr] = u.lastClaim
		}
	}
	for i, stake := range s.ledger.stakes {
		st.Stakes[i] = stake.Clone()
	}
	return st
}

// Restore replaces the ledger with st. The state is checked and every
// aggregate is rebuilt before anything is swapped in.
func (s *Service) Restore(st *State) error {
	if st == nil {
		return errors.New("nil state")
	}
	if st.Version != StateVersion {
		return fmt.Errorf("unsupported state version %d", st.Version)
	}
	if st.Owner == (common.Address{}) {
		return errors.New("state has no owner")
	}
	params := st.Params
	if err := params.validate(); err != nil {
		return fmt.Errorf("state params: %w", err)
	}
	params = cloneParams(params)
	rps, err := rewardPerSecond("restore", params.RewardPool, params.RewardDuration)
	if err != nil {
		return err
	}
	if st.RewardPoolBalance == nil || st.RewardPoolBalance.Sign() < 0 {
		return errors.New("state reward pool balance must not be negative")
	}
	if len(st.Premium) > params.MaxPremiumUsers {
		return fmt.Errorf("state has %d premium users, ceiling is %d", len(st.Premium), params.MaxPremiumUsers)
	}

	tiers := newTierRegistry()
	for i, t := range st.Tiers {
		if t.ID != uint32(i) {
			return fmt.Errorf("tier at position %d has id %d", i, t.ID)
		}
		p := TierParams{
			Name:         t.Name,
			LockDuration: t.LockDuration,
			BaseRateBps:  t.BaseRateBps,
			MinStake:     t.MinStake,
			MaxStake:     t.MaxStake,
			TierMaxStake: t.TierMaxStake,
			Active:       t.Active,
		}
		if err := p.validate("restore", nil); err != nil {
			return fmt.Errorf("tier %d: %w", i, err)
		}
		tiers.add(p, t.PremiumBonusBps)
	}

	ledger := newStakeLedger(tiers)
	for i, stake := range st.Stakes {
		if stake == nil || stake.Amount == nil || stake.Amount.Sign() <= 0 {
			return fmt.Errorf("stake %d: invalid amount", i)
		}
		if stake.LastClaimTime < stake.StartTime || stake.LastClaimTime > st.LastNow {
			return fmt.Errorf("stake %d: settlement time out of range", i)
		}
		tier, ok := tiers.get(stake.TierID)
		if !ok {
			return fmt.Errorf("stake %d: unknown tier %d", i, stake.TierID)
		}
		c := stake.Clone()
		if c.ClaimedRewards == nil {
			c.ClaimedRewards = new(big.Int)
		}
		ledger.restore(c, tier)
	}
	for i, t := range tiers.tiers {
		if t.TotalStaked.Cmp(t.TierMaxStake) > 0 {
			return fmt.Errorf("tier %d: staked total above capacity", i)
		}
	}
	if err := checkU256(ledger.totalStaked); err != nil {
		return err
	}
	if top := ledger.maxActiveCount(); top > params.MaxStakesPerUser {
		return fmt.Errorf("a user holds %d active stakes, limit is %d", top, params.MaxStakesPerUser)
	}
	for addr, last := range st.LastClaims {
		ledger.setLastClaim(addr, last)
	}

	premium := make(map[common.Address]int64, len(st.Premium))
	for addr, since := range st.Premium {
		premium[addr] = since
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = st.Seq
	s.savedSeq = st.Seq
	if st.LastNow > s.lastNow {
		s.lastNow = st.LastNow
	}
	s.owner = st.Owner
	s.params = params
	s.rewardPerSecond = rps
	s.rewardPoolBalance = new(big.Int).Set(st.RewardPoolBalance)
	s.paused = st.Paused
	s.premium = premium
	s.tiers = tiers
	s.ledger = ledger
	s.log.Info("staking: state restored", "seq", st.Seq, "tiers", len(st.Tiers), "stakes", len(st.Stakes))
	return nil
}

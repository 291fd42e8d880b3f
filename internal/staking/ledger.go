package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/tierstake/pkg/types"
)

// userState holds per-user aggregates derived from the stake arena.
type userState struct {
	indices      []int // positions in the arena; the slice index is the user-facing stake index
	activeCount  int
	totalStaked  *big.Int
	totalRewards *big.Int
	tierStaked   map[uint32]*big.Int
	tierActive   map[uint32]int
	lastClaim    int64
}

func newUserState() *userState {
	return &userState{
		totalStaked:  new(big.Int),
		totalRewards: new(big.Int),
		tierStaked:   make(map[uint32]*big.Int),
		tierActive:   make(map[uint32]int),
	}
}

func (u *userState) stakedIn(tierID uint32) *big.Int {
	if v, ok := u.tierStaked[tierID]; ok {
		return v
	}
	return new(big.Int)
}

// stakeLedger is the authoritative stake collection. Every mutation updates
// the stake, its tier totals, the owner's aggregates and the global totals
// together. Callers validate first; the apply methods cannot fail.
type stakeLedger struct {
	tiers  *tierRegistry
	stakes []*types.Stake
	users  map[common.Address]*userState

	totalStaked      *big.Int
	totalRewardsPaid *big.Int
	totalStakers     uint64
}

func newStakeLedger(tiers *tierRegistry) *stakeLedger {
	return &stakeLedger{
		tiers:            tiers,
		users:            make(map[common.Address]*userState),
		totalStaked:      new(big.Int),
		totalRewardsPaid: new(big.Int),
	}
}

func (l *stakeLedger) user(addr common.Address) (*userState, bool) {
	u, ok := l.users[addr]
	return u, ok
}

func (l *stakeLedger) userOrNew(addr common.Address) *userState {
	u, ok := l.users[addr]
	if !ok {
		u = newUserState()
		l.users[addr] = u
	}
	return u
}

// get returns the live stake at the user's index.
func (l *stakeLedger) get(addr common.Address, idx int) (*types.Stake, bool) {
	u, ok := l.users[addr]
	if !ok || idx < 0 || idx >= len(u.indices) {
		return nil, false
	}
	return l.stakes[u.indices[idx]], true
}

// listUser returns copies of every stake the user ever opened, in index order.
func (l *stakeLedger) listUser(addr common.Address) []*types.Stake {
	u, ok := l.users[addr]
	if !ok {
		return []*types.Stake{}
	}
	out := make([]*types.Stake, len(u.indices))
	for i, pos := range u.indices {
		out[i] = l.stakes[pos].Clone()
	}
	return out
}

// activeIndices returns the user-facing indices of active stakes.
func (l *stakeLedger) activeIndices(addr common.Address) []int {
	u, ok := l.users[addr]
	if !ok {
		return nil
	}
	var out []int
	for i, pos := range u.indices {
		if l.stakes[pos].IsActive() {
			out = append(out, i)
		}
	}
	return out
}

func (l *stakeLedger) activeCount(addr common.Address) int {
	if u, ok := l.users[addr]; ok {
		return u.activeCount
	}
	return 0
}

func (l *stakeLedger) userTierStaked(addr common.Address, tierID uint32) *big.Int {
	if u, ok := l.users[addr]; ok {
		return u.stakedIn(tierID)
	}
	return new(big.Int)
}

func (l *stakeLedger) lastClaim(addr common.Address) int64 {
	if u, ok := l.users[addr]; ok {
		return u.lastClaim
	}
	return 0
}

func (l *stakeLedger) setLastClaim(addr common.Address, now int64) {
	l.userOrNew(addr).lastClaim = now
}

// open appends an active stake and returns its per-user index.
func (l *stakeLedger) open(s *types.Stake, tier *types.Tier) int {
	u := l.userOrNew(s.Owner)
	l.stakes = append(l.stakes, s)
	u.indices = append(u.indices, len(l.stakes)-1)
	l.activate(u, s, tier)
	return len(u.indices) - 1
}

func (l *stakeLedger) activate(u *userState, s *types.Stake, tier *types.Tier) {
	if u.activeCount == 0 {
		l.totalStakers++
	}
	u.activeCount++
	if u.tierActive[tier.ID] == 0 {
		tier.StakersCount++
	}
	u.tierActive[tier.ID]++
	tier.ActiveStakes++
	l.addPrincipal(u, tier, s.Amount)
}

func (l *stakeLedger) addPrincipal(u *userState, tier *types.Tier, amount *big.Int) {
	tier.TotalStaked = new(big.Int).Add(tier.TotalStaked, amount)
	u.tierStaked[tier.ID] = new(big.Int).Add(u.stakedIn(tier.ID), amount)
	u.totalStaked = new(big.Int).Add(u.totalStaked, amount)
	l.totalStaked = new(big.Int).Add(l.totalStaked, amount)
}

// settle advances the settlement time and books reward. When compound is
// set the reward also becomes principal.
func (l *stakeLedger) settle(s *types.Stake, tier *types.Tier, reward *big.Int, now int64, compound bool) {
	u := l.userOrNew(s.Owner)
	if now > s.LastClaimTime {
		s.LastClaimTime = now
	}
	s.ClaimedRewards = new(big.Int).Add(s.ClaimedRewards, reward)
	u.totalRewards = new(big.Int).Add(u.totalRewards, reward)
	l.totalRewardsPaid = new(big.Int).Add(l.totalRewardsPaid, reward)
	if compound {
		s.Amount = new(big.Int).Add(s.Amount, reward)
		l.addPrincipal(u, tier, reward)
	}
}

// close moves a stake to a terminal status and removes its full principal
// from every aggregate.
func (l *stakeLedger) close(s *types.Stake, tier *types.Tier, status types.StakeStatus) {
	u := l.userOrNew(s.Owner)
	s.Status = status

	tier.TotalStaked = new(big.Int).Sub(tier.TotalStaked, s.Amount)
	tier.ActiveStakes--
	u.tierStaked[tier.ID] = new(big.Int).Sub(u.stakedIn(tier.ID), s.Amount)
	u.tierActive[tier.ID]--
	if u.tierActive[tier.ID] == 0 {
		tier.StakersCount--
		delete(u.tierActive, tier.ID)
		delete(u.tierStaked, tier.ID)
	}

	u.totalStaked = new(big.Int).Sub(u.totalStaked, s.Amount)
	u.activeCount--
	if u.activeCount == 0 {
		l.totalStakers--
	}
	l.totalStaked = new(big.Int).Sub(l.totalStaked, s.Amount)
}

// account builds the derived view of a user.
func (l *stakeLedger) account(addr common.Address) *types.UserAccount {
	acct := &types.UserAccount{
		Address:      addr,
		TotalStaked:  new(big.Int),
		TotalRewards: new(big.Int),
	}
	if u, ok := l.users[addr]; ok {
		acct.StakeCount = u.activeCount
		acct.TotalStakes = len(u.indices)
		acct.TotalStaked.Set(u.totalStaked)
		acct.TotalRewards.Set(u.totalRewards)
		acct.LastClaim = u.lastClaim
	}
	return acct
}

// maxUserTierStaked returns the largest single-user allocation in a tier.
func (l *stakeLedger) maxUserTierStaked(tierID uint32) *big.Int {
	top := new(big.Int)
	for _, u := range l.users {
		if v, ok := u.tierStaked[tierID]; ok && v.Cmp(top) > 0 {
			top.Set(v)
		}
	}
	return top
}

// maxActiveCount returns the highest active stake count held by any user.
func (l *stakeLedger) maxActiveCount() int {
	top := 0
	for _, u := range l.users {
		if u.activeCount > top {
			top = u.activeCount
		}
	}
	return top
}

// restore appends a stake loaded from a snapshot and rebuilds the
// aggregates it contributes to.
func (l *stakeLedger) restore(s *types.Stake, tier *types.Tier) {
	u := l.userOrNew(s.Owner)
	l.stakes = append(l.stakes, s)
	u.indices = append(u.indices, len(l.stakes)-1)
	u.totalRewards = new(big.Int).Add(u.totalRewards, s.ClaimedRewards)
	l.totalRewardsPaid = new(big.Int).Add(l.totalRewardsPaid, s.ClaimedRewards)
	if s.IsActive() {
		l.activate(u, s, tier)
	}
}

package staking

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/moltbunker/tierstake/pkg/types"
)

const day = 24 * 60 * 60

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000b3")

	errDeclined = errors.New("declined")
)

// fakeToken keeps balances in memory and records every transfer.
type fakeToken struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	custody   *big.Int
	failPull  map[common.Address]error
	failPush  map[common.Address]error
	pushCount int
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances: make(map[common.Address]*big.Int),
		custody:  new(big.Int),
		failPull: make(map[common.Address]error),
		failPush: make(map[common.Address]error),
	}
}

func (f *fakeToken) mint(to common.Address, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[to] = new(big.Int).Add(f.balanceLocked(to), big.NewInt(amount))
}

func (f *fakeToken) balanceLocked(addr common.Address) *big.Int {
	if b, ok := f.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (f *fakeToken) balance(addr common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balanceLocked(addr))
}

func (f *fakeToken) Pull(_ context.Context, from common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPull[from]; err != nil {
		return err
	}
	bal := f.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	f.balances[from] = new(big.Int).Sub(bal, amount)
	f.custody.Add(f.custody, amount)
	return nil
}

func (f *fakeToken) Push(_ context.Context, to common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPush[to]; err != nil {
		return err
	}
	if f.custody.Cmp(amount) < 0 {
		return errors.New("custody underflow")
	}
	f.custody.Sub(f.custody, amount)
	f.balances[to] = new(big.Int).Add(f.balanceLocked(to), amount)
	f.pushCount++
	return nil
}

func testTiers() []TierSpec {
	return []TierSpec{
		{
			TierParams: TierParams{
				Name: "standard", LockDuration: 30 * day, BaseRateBps: 1200,
				MinStake: big.NewInt(1_000), MaxStake: big.NewInt(100_000), TierMaxStake: big.NewInt(1_000_000),
				Active: true,
			},
			PremiumBonusBps: 300,
		},
		{
			TierParams: TierParams{
				Name: "flex", LockDuration: 7 * day, BaseRateBps: 2000,
				MinStake: big.NewInt(100), MaxStake: big.NewInt(50_000), TierMaxStake: big.NewInt(60_000),
				Active: true,
			},
		},
		{
			TierParams: TierParams{
				Name: "dust", LockDuration: day, BaseRateBps: 1200,
				MinStake: big.NewInt(1), MaxStake: big.NewInt(1_000_000), TierMaxStake: big.NewInt(10_000_000),
				Active: true,
			},
		},
	}
}

func testParams() Params {
	return Params{
		EmergencyFeeBps:   2_000,
		ClaimCooldown:     3_600,
		MaxStakesPerUser:  3,
		MaxPremiumUsers:   2,
		MinCompoundAmount: big.NewInt(50),
		RewardPool:        big.NewInt(0),
		RewardDuration:    SecondsPerYear,
	}
}

type harness struct {
	svc   *Service
	token *fakeToken
	clock *clockwork.FakeClock
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	token := newFakeToken()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	svc, err := NewService(Config{
		Clock:  clock,
		Owner:  owner,
		Token:  token,
		Tiers:  testTiers(),
		Params: testParams(),
	})
	require.NoError(t, err)

	for _, u := range []common.Address{alice, bob, carol} {
		token.mint(u, 10_000_000)
	}
	token.mint(owner, 1_000_000)
	ctx := context.Background()
	require.NoError(t, svc.FundRewardPool(ctx, owner, big.NewInt(1_000_000)))
	return &harness{svc: svc, token: token, clock: clock, ctx: ctx}
}

func (h *harness) advance(seconds int64) {
	h.clock.Advance(time.Duration(seconds) * time.Second)
}

func (h *harness) stake(t *testing.T, user common.Address, tier uint32, amount int64) int {
	t.Helper()
	idx, err := h.svc.Stake(h.ctx, user, tier, big.NewInt(amount))
	require.NoError(t, err)
	return idx
}

// requireConsistent checks that every aggregate matches the stakes.
func requireConsistent(t *testing.T, svc *Service) {
	t.Helper()
	st := svc.Snapshot()
	perTier := make(map[uint32]*big.Int)
	stakers := make(map[common.Address]bool)
	for _, s := range st.Stakes {
		if s.Status != types.StakeActive {
			continue
		}
		if perTier[s.TierID] == nil {
			perTier[s.TierID] = new(big.Int)
		}
		perTier[s.TierID].Add(perTier[s.TierID], s.Amount)
		stakers[s.Owner] = true
		require.LessOrEqual(t, s.LastClaimTime, st.LastNow)
	}
	sum := new(big.Int)
	for _, tier := range svc.ListTiers() {
		want := perTier[tier.ID]
		if want == nil {
			want = new(big.Int)
		}
		require.Zero(t, want.Cmp(tier.TotalStaked), "tier %d total %s, stakes sum %s", tier.ID, tier.TotalStaked, want)
		require.LessOrEqual(t, tier.TotalStaked.Cmp(tier.TierMaxStake), 0)
		sum.Add(sum, tier.TotalStaked)
	}
	stats := svc.GetGlobalStats()
	require.Zero(t, sum.Cmp(stats.TotalStaked))
	require.Equal(t, uint64(len(stakers)), stats.TotalStakers)
}

package staking

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/pkg/types"
)

const (
	MinEmergencyFeeBps = 500
	MaxEmergencyFeeBps = 5_000
)

// Params are the global ledger parameters editable by the owner.
type Params struct {
	EmergencyFeeBps   uint64   `json:"emergency_fee_bps"`
	ClaimCooldown     uint64   `json:"claim_cooldown"`      // seconds between claims per user
	MaxStakesPerUser  int      `json:"max_stakes_per_user"` // active stakes
	MaxPremiumUsers   int      `json:"max_premium_users"`
	MinCompoundAmount *big.Int `json:"min_compound_amount"`
	RewardPool        *big.Int `json:"reward_pool"`
	RewardDuration    uint64   `json:"reward_duration"` // seconds the reward pool is amortized over
}

// DefaultParams returns the parameters a fresh ledger starts with.
func DefaultParams() Params {
	return Params{
		EmergencyFeeBps:   1_000,
		ClaimCooldown:     3_600,
		MaxStakesPerUser:  10,
		MaxPremiumUsers:   100,
		MinCompoundAmount: new(big.Int).Exp(big.NewInt(10), big.NewInt(types.TokenDecimals), nil),
		RewardPool:        new(big.Int),
		RewardDuration:    SecondsPerYear,
	}
}

func (p Params) validate() error {
	if p.EmergencyFeeBps < MinEmergencyFeeBps || p.EmergencyFeeBps > MaxEmergencyFeeBps {
		return fmt.Errorf("emergency fee %d bps outside [%d, %d]", p.EmergencyFeeBps, MinEmergencyFeeBps, MaxEmergencyFeeBps)
	}
	if p.MaxStakesPerUser <= 0 {
		return errors.New("max stakes per user must be greater than 0")
	}
	if p.MaxPremiumUsers < 0 {
		return errors.New("max premium users must not be negative")
	}
	if p.MinCompoundAmount == nil || p.MinCompoundAmount.Sign() < 0 {
		return errors.New("min compound amount must not be negative")
	}
	if p.RewardPool == nil || p.RewardPool.Sign() < 0 {
		return errors.New("reward pool must not be negative")
	}
	if p.RewardDuration == 0 {
		return errors.New("reward duration must be greater than 0")
	}
	return nil
}

// TierSpec seeds a tier at construction.
type TierSpec struct {
	TierParams
	PremiumBonusBps uint64
}

// Observer receives operation outcomes and state gauges. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	ObserveState(stats *types.GlobalStats)
}

// Persister stores the ledger state after every committed mutation.
type Persister interface {
	SaveSnapshot(st *State) error
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Owner     common.Address
	Token     Token
	Tiers     []TierSpec
	Params    Params
	Sinks     []EventSink
	Observer  Observer  // optional
	Persister Persister // optional
}

func (cfg *Config) Validate() error {
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	if cfg.Token == nil {
		return errors.New("token is required")
	}
	if len(cfg.Tiers) > MaxTiers {
		return fmt.Errorf("at most %d tiers are supported", MaxTiers)
	}
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if err := cfg.Params.validate(); err != nil {
		return err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.With(logging.Component("staking"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service is the staking ledger. All public methods are serialized by one
// mutex, which is the transaction boundary for every operation including
// its token transfers.
type Service struct {
	log   *slog.Logger
	clock clockwork.Clock
	token Token
	obs   Observer
	sinks []EventSink
	store Persister

	mu      sync.Mutex
	lastNow int64

	owner             common.Address
	params            Params
	rewardPerSecond   *big.Int
	rewardPoolBalance *big.Int
	paused            bool
	premium           map[common.Address]int64 // joined at

	tiers  *tierRegistry
	ledger *stakeLedger

	seq      uint64
	savedSeq uint64
	events   eventLog
}

// NewService builds a ledger with the configured tiers and parameters.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		log:               cfg.Logger,
		clock:             cfg.Clock,
		token:             cfg.Token,
		obs:               cfg.Observer,
		sinks:             cfg.Sinks,
		store:             cfg.Persister,
		owner:             cfg.Owner,
		params:            cloneParams(cfg.Params),
		rewardPoolBalance: new(big.Int),
		premium:           make(map[common.Address]int64),
		tiers:             newTierRegistry(),
	}
	s.ledger = newStakeLedger(s.tiers)

	rps, err := rewardPerSecond("new", s.params.RewardPool, s.params.RewardDuration)
	if err != nil {
		return nil, err
	}
	s.rewardPerSecond = rps

	for i, spec := range cfg.Tiers {
		if err := spec.validate("new", nil); err != nil {
			return nil, fmt.Errorf("tier %d: %w", i, err)
		}
		if spec.PremiumBonusBps > MaxPremiumBonusBps {
			return nil, fmt.Errorf("tier %d: premium bonus %d bps above %d", i, spec.PremiumBonusBps, MaxPremiumBonusBps)
		}
		if spec.BaseRateBps+spec.PremiumBonusBps > MaxRateBps {
			return nil, fmt.Errorf("tier %d: %w", i, newError(KindValidation, "new", ErrInvalidParameter, fmt.Sprintf("effective rate above %d bps", MaxRateBps)))
		}
		s.tiers.add(spec.TierParams, spec.PremiumBonusBps)
	}
	return s, nil
}

// Owner returns the current owner address.
func (s *Service) Owner() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// LastSeq returns the sequence number of the latest committed event.
func (s *Service) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// now returns the clock in unix seconds, clamped to the latest value seen
// so ledger time never moves backwards. Callers hold s.mu.
func (s *Service) now() int64 {
	t := s.clock.Now().Unix()
	if t < s.lastNow {
		return s.lastNow
	}
	s.lastNow = t
	return t
}

// emit assigns the next sequence number and fans the event out. Callers
// hold s.mu and call it only after a mutation has committed.
func (s *Service) emit(now int64, ev Event) {
	s.seq++
	ev.ID = uuid.New()
	ev.Seq = s.seq
	ev.Time = time.Unix(now, 0).UTC()
	s.events.append(ev)
	for _, sink := range s.sinks {
		sink.Publish(ev)
	}
	logging.Audit(logging.AuditEvent{
		Operation: string(ev.Kind),
		Actor:     ev.Actor.Hex(),
		Target:    ev.User.Hex(),
		Result:    "success",
		Details:   fmt.Sprintf("seq=%d", ev.Seq),
	})
}

// observe reports an operation outcome. Callers hold s.mu.
func (s *Service) observe(op string, start time.Time, err error) {
	if err != nil {
		s.log.Debug("staking: operation rejected", "op", op, logging.Err(err), "kind", KindOf(err).String())
	}
	if err == nil && s.seq != s.savedSeq {
		s.persist()
	}
	if s.obs == nil {
		return
	}
	s.obs.ObserveOperation(op, err, time.Since(start))
	if err == nil {
		s.obs.ObserveState(s.globalStatsLocked())
	}
}

// persist saves a snapshot once per committed operation. The in-memory
// ledger stays authoritative when the save fails; the next commit retries.
func (s *Service) persist() {
	if s.store == nil {
		s.savedSeq = s.seq
		return
	}
	if err := s.store.SaveSnapshot(s.snapshotLocked()); err != nil {
		s.log.Error("staking: failed to save snapshot", "seq", s.seq, logging.Err(err))
		return
	}
	s.savedSeq = s.seq
}

func (s *Service) requireOwner(op string, caller common.Address) error {
	if caller != s.owner {
		return newError(KindAuthorization, op, ErrNotOwner, caller.Hex())
	}
	return nil
}

func (s *Service) requireNotPaused(op string) error {
	if s.paused {
		return newError(KindState, op, ErrPaused, "")
	}
	return nil
}

func (s *Service) isPremium(user common.Address) bool {
	_, ok := s.premium[user]
	return ok
}

func (s *Service) tierByID(op string, id uint32) (*types.Tier, error) {
	t, ok := s.tiers.get(id)
	if !ok {
		return nil, newError(KindValidation, op, ErrInvalidTier, fmt.Sprintf("tier %d", id))
	}
	return t, nil
}

func (s *Service) lookupStake(op string, user common.Address, idx int) (*types.Stake, *types.Tier, error) {
	st, ok := s.ledger.get(user, idx)
	if !ok {
		return nil, nil, newError(KindState, op, ErrStakeNotFound, fmt.Sprintf("index %d", idx))
	}
	if !st.IsActive() {
		return nil, nil, newError(KindState, op, ErrStakeInactive, fmt.Sprintf("index %d is %s", idx, st.Status))
	}
	t, ok := s.tiers.get(st.TierID)
	if !ok {
		return nil, nil, newError(KindState, op, ErrInvalidTier, fmt.Sprintf("tier %d", st.TierID))
	}
	return st, t, nil
}

// drawReward checks that reward can be served from the reward pool.
func (s *Service) drawReward(op string, reward *big.Int) error {
	if reward.Cmp(s.rewardPoolBalance) > 0 {
		return boundError(KindCapacity, op, ErrRewardPoolExhausted, reward, s.rewardPoolBalance)
	}
	return nil
}

func rewardPerSecond(op string, pool *big.Int, duration uint64) (*big.Int, error) {
	if err := checkU256(pool); err != nil {
		return nil, err
	}
	rps := new(big.Int).Quo(pool, new(big.Int).SetUint64(duration))
	if pool.Sign() > 0 && rps.Sign() == 0 {
		return nil, newError(KindArithmetic, op, ErrPrecisionLoss, "reward per second rounds to zero")
	}
	return rps, nil
}

func cloneParams(p Params) Params {
	p.MinCompoundAmount = new(big.Int).Set(p.MinCompoundAmount)
	p.RewardPool = new(big.Int).Set(p.RewardPool)
	return p
}

package staking

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind identifies an audit record type.
type EventKind string

const (
	EventStakeOpened          EventKind = "stake_opened"
	EventStakeClosed          EventKind = "stake_closed"
	EventRewardsClaimed       EventKind = "rewards_claimed"
	EventEmergencyExit        EventKind = "emergency_exit"
	EventTierUpdated          EventKind = "tier_updated"
	EventRewardPoolUpdated    EventKind = "reward_pool_updated"
	EventPremiumStatusChanged EventKind = "premium_status_changed"
	EventAutoCompoundToggled  EventKind = "auto_compound_toggled"
	EventParameterUpdated     EventKind = "parameter_updated"
	EventPaused               EventKind = "paused"
	EventUnpaused             EventKind = "unpaused"
	EventRewardPoolFunded     EventKind = "reward_pool_funded"
	EventEmergencyWithdrawal  EventKind = "emergency_withdrawal"
	EventOwnershipTransferred EventKind = "ownership_transferred"
)

// Event is one committed ledger mutation. Fields that do not apply to a
// kind are left zero.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	Time       time.Time      `json:"time"`
	Actor      common.Address `json:"actor"`
	User       common.Address `json:"user,omitempty"`
	TierID     *uint32        `json:"tier_id,omitempty"`
	StakeIndex *int           `json:"stake_index,omitempty"`
	Amount     *big.Int       `json:"amount,omitempty"`
	Reward     *big.Int       `json:"reward,omitempty"`
	Fee        *big.Int       `json:"fee,omitempty"`
	Compounded bool           `json:"compounded,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
	Param      string         `json:"param,omitempty"`
	Value      string         `json:"value,omitempty"`
}

// EventSink receives every committed event, in sequence order, while the
// ledger lock is held. Sinks must not call back into the Service.
type EventSink interface {
	Publish(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(ev Event) { f(ev) }

// eventLog is the in-memory append-only audit log.
type eventLog struct {
	mu     sync.RWMutex
	events []Event
}

func (l *eventLog) append(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// page returns up to limit events with Seq >= from. limit <= 0 means all.
func (l *eventLog) page(from uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := sort.Search(len(l.events), func(i int) bool { return l.events[i].Seq >= from })
	end := len(l.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Event, end-start)
	copy(out, l.events[start:end])
	return out
}

func u32ptr(v uint32) *uint32 { return &v }
func intptr(v int) *int       { return &v }
func boolptr(v bool) *bool    { return &v }
func amt(v *big.Int) *big.Int { return new(big.Int).Set(v) }

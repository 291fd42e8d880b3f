package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// StakeView is a stake with its index and live figures.
type StakeView struct {
	Index         int          `json:"index"`
	Stake         *types.Stake `json:"stake"`
	PendingReward *big.Int     `json:"pending_reward,omitempty"`
	UnlocksIn     uint64       `json:"unlocks_in"` // seconds
}

// PendingResponse lists pending rewards per stake position.
type PendingResponse struct {
	PerStake []*big.Int `json:"per_stake"`
	Total    *big.Int   `json:"total"`
}

// EstimateResponse is the result of /v1/estimate.
type EstimateResponse struct {
	Reward *big.Int `json:"reward"`
}

// EligibilityResponse is the result of /v1/eligibility.
type EligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ListTiers())
}

func (s *Server) handleGetTier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTierID(w, r)
	if !ok {
		return
	}
	stats, err := s.ledger.GetTierStats(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.GetGlobalStats())
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Params())
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.GetUserStats(user))
}

// handleUserStakes lists a user's stakes; ?active=true keeps only active ones.
func (s *Server) handleUserStakes(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	stakes := s.ledger.GetUserStakes(user)
	views := make([]StakeView, 0, len(stakes))
	for i, st := range stakes {
		if activeOnly && !st.IsActive() {
			continue
		}
		v := StakeView{Index: i, Stake: st}
		if st.IsActive() {
			// the stake can close between calls; report what is still readable
			if p, err := s.ledger.PendingReward(user, i); err == nil {
				v.PendingReward = p
			}
			if secs, err := s.ledger.TimeUntilUnlock(user, i); err == nil {
				v.UnlocksIn = secs
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	per, total, err := s.ledger.PendingRewards(user)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PendingResponse{PerStake: per, Total: total})
}

// handleEstimate projects a full-lock reward for ?tier=&amount=[&premium=],
// or a raw estimate for ?amount=&rate_bps=&seconds=.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, ok := parseAmount(w, "amount", q.Get("amount"))
	if !ok {
		return
	}

	var (
		reward *big.Int
		err    error
	)
	if q.Has("tier") {
		id, ok := parseTierID(w, q.Get("tier"))
		if !ok {
			return
		}
		premium, _ := strconv.ParseBool(q.Get("premium"))
		reward, err = s.ledger.ProjectedReward(id, amount, premium)
	} else {
		rate, ok := parseUintQuery(w, r, "rate_bps", 0)
		if !ok {
			return
		}
		secs, ok := parseUintQuery(w, r, "seconds", staking.SecondsPerYear)
		if !ok {
			return
		}
		reward, err = s.ledger.EstimateReward(amount, rate, secs)
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{Reward: reward})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, ok := parseAddress(w, "user", q.Get("user"))
	if !ok {
		return
	}
	id, ok := parseTierID(w, q.Get("tier"))
	if !ok {
		return
	}
	amount, ok := parseAmount(w, "amount", q.Get("amount"))
	if !ok {
		return
	}
	eligible, reason := s.ledger.CanStake(user, id, amount)
	writeJSON(w, http.StatusOK, EligibilityResponse{Eligible: eligible, Reason: reason})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, ok := parseUintQuery(w, r, "from", 0)
	if !ok {
		return
	}
	limit, ok := parseUintQuery(w, r, "limit", defaultEventPage)
	if !ok {
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	events, err := s.events.Events(from, int(limit))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if events == nil {
		events = []staking.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

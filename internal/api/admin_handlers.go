package api

import (
	"net/http"
	"strconv"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
)

// TierRequest carries tier parameters. Amounts are base-unit strings.
// PremiumBonusBps applies only when adding a tier.
type TierRequest struct {
	Name            string `json:"name"`
	LockDuration    uint64 `json:"lock_duration"`
	BaseRateBps     uint64 `json:"base_rate_bps"`
	PremiumBonusBps uint64 `json:"premium_bonus_bps,omitempty"`
	MinStake        string `json:"min_stake"`
	MaxStake        string `json:"max_stake"`
	TierMaxStake    string `json:"tier_max_stake"`
	Active          bool   `json:"active"`
}

// TierResponse carries the id of an added tier.
type TierResponse struct {
	ID uint32 `json:"id"`
}

// BonusRequest sets a tier's premium bonus.
type BonusRequest struct {
	Bps uint64 `json:"bps"`
}

// PremiumRequest grants or revokes premium status.
type PremiumRequest struct {
	Premium bool `json:"premium"`
}

// ParamRequest sets one global parameter. Value is a decimal integer.
type ParamRequest struct {
	Value string `json:"value"`
}

// RewardPoolRequest sets the reward pool and its amortization period.
type RewardPoolRequest struct {
	Amount   string `json:"amount"`
	Duration uint64 `json:"duration"` // seconds
}

// AmountRequest carries a single base-unit amount.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// OwnerRequest names the new owner.
type OwnerRequest struct {
	Owner string `json:"owner"`
}

// Settable parameter names for PUT /v1/admin/params/{name}.
const (
	ParamEmergencyFee      = "emergency_fee_bps"
	ParamClaimCooldown     = "claim_cooldown"
	ParamMaxStakesPerUser  = "max_stakes_per_user"
	ParamMaxPremiumUsers   = "max_premium_users"
	ParamMinCompoundAmount = "min_compound_amount"
)

func (req *TierRequest) params(w http.ResponseWriter) (staking.TierParams, bool) {
	minStake, ok := parseAmount(w, "min_stake", req.MinStake)
	if !ok {
		return staking.TierParams{}, false
	}
	maxStake, ok := parseAmount(w, "max_stake", req.MaxStake)
	if !ok {
		return staking.TierParams{}, false
	}
	tierMax, ok := parseAmount(w, "tier_max_stake", req.TierMaxStake)
	if !ok {
		return staking.TierParams{}, false
	}
	return staking.TierParams{
		Name:         req.Name,
		LockDuration: req.LockDuration,
		BaseRateBps:  req.BaseRateBps,
		MinStake:     minStake,
		MaxStake:     maxStake,
		TierMaxStake: tierMax,
		Active:       req.Active,
	}, true
}

// adminDone writes the result of an admin operation and audits it.
func (s *Server) adminDone(w http.ResponseWriter, r *http.Request, op string, err error, body any) {
	result := "success"
	details := ""
	if err != nil {
		result = "failure"
		details = err.Error()
	}
	logging.Audit(logging.AuditEvent{
		Operation: op,
		Actor:     callerFrom(r).Hex(),
		Target:    r.URL.Path,
		Result:    result,
		Details:   details,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAddTier(w http.ResponseWriter, r *http.Request) {
	var req TierRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, ok := req.params(w)
	if !ok {
		return
	}
	id, err := s.ledger.AddTier(callerFrom(r), p, req.PremiumBonusBps)
	s.adminDone(w, r, "add_tier", err, TierResponse{ID: id})
}

func (s *Server) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTierID(w, r)
	if !ok {
		return
	}
	var req TierRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, ok := req.params(w)
	if !ok {
		return
	}
	err := s.ledger.UpdateTier(callerFrom(r), id, p)
	s.adminDone(w, r, "update_tier", err, TierResponse{ID: id})
}

func (s *Server) handleSetPremiumBonus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathTierID(w, r)
	if !ok {
		return
	}
	var req BonusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.adminDone(w, r, "set_premium_bonus", s.ledger.SetPremiumBonus(callerFrom(r), id, req.Bps), nil)
}

func (s *Server) handleSetPremiumUser(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req PremiumRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.adminDone(w, r, "set_premium_user", s.ledger.SetPremiumUser(callerFrom(r), user, req.Premium), nil)
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req ParamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := callerFrom(r)

	var err error
	switch name {
	case ParamMinCompoundAmount:
		amount, ok := parseAmount(w, "value", req.Value)
		if !ok {
			return
		}
		err = s.ledger.SetMinCompoundAmount(caller, amount)
	case ParamEmergencyFee, ParamClaimCooldown, ParamMaxStakesPerUser, ParamMaxPremiumUsers:
		n, perr := strconv.ParseUint(req.Value, 10, 63)
		if perr != nil {
			writeBadRequest(w, "invalid value for %s: %q", name, req.Value)
			return
		}
		switch name {
		case ParamEmergencyFee:
			err = s.ledger.SetEmergencyFee(caller, n)
		case ParamClaimCooldown:
			err = s.ledger.SetClaimCooldown(caller, n)
		case ParamMaxStakesPerUser:
			err = s.ledger.SetMaxStakesPerUser(caller, int(n))
		case ParamMaxPremiumUsers:
			err = s.ledger.SetMaxPremiumUsers(caller, int(n))
		}
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown parameter: " + name})
		return
	}
	s.adminDone(w, r, "set_"+name, err, nil)
}

func (s *Server) handleSetRewardPool(w http.ResponseWriter, r *http.Request) {
	var req RewardPoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	s.adminDone(w, r, "set_reward_pool", s.ledger.SetRewardPool(callerFrom(r), amount, req.Duration), nil)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	err := s.ledger.FundRewardPool(r.Context(), callerFrom(r), amount)
	s.adminDone(w, r, "fund_reward_pool", err, nil)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	err := s.ledger.EmergencyWithdraw(r.Context(), callerFrom(r), amount)
	s.adminDone(w, r, "emergency_withdraw", err, nil)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.adminDone(w, r, "pause", s.ledger.Pause(callerFrom(r)), nil)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.adminDone(w, r, "unpause", s.ledger.Unpause(callerFrom(r)), nil)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req OwnerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newOwner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	s.adminDone(w, r, "transfer_ownership", s.ledger.TransferOwnership(callerFrom(r), newOwner), nil)
}

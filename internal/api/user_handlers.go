package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/staking"
)

// StakeRequest opens a stake. Amount is in base units.
type StakeRequest struct {
	TierID uint32 `json:"tier_id"`
	Amount string `json:"amount"`
}

// StakeResponse carries the index of the new stake.
type StakeResponse struct {
	Index int `json:"index"`
}

// CompoundResponse reports the auto-compound flag after a toggle.
type CompoundResponse struct {
	Index   int  `json:"index"`
	Enabled bool `json:"enabled"`
}

// CompoundAllRequest sets auto-compound on every active stake.
type CompoundAllRequest struct {
	Enabled bool `json:"enabled"`
}

// CompoundAllResponse counts the stakes whose flag changed.
type CompoundAllResponse struct {
	Changed int `json:"changed"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	idx, err := s.ledger.Stake(r.Context(), callerFrom(r), req.TierID, amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StakeResponse{Index: idx})
}

type receiptOp func(ctx context.Context, user common.Address, idx int) (*staking.Receipt, error)

// handleReceipt runs a per-stake operation that returns a receipt.
func (s *Server) handleReceipt(op receiptOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, ok := pathIndex(w, r)
		if !ok {
			return
		}
		rcpt, err := op(r.Context(), callerFrom(r), idx)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rcpt)
	}
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleReceipt(s.ledger.Unstake)(w, r)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.handleReceipt(s.ledger.Claim)(w, r)
}

func (s *Server) handleEmergencyUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleReceipt(s.ledger.EmergencyUnstake)(w, r)
}

func (s *Server) handleClaimAll(w http.ResponseWriter, r *http.Request) {
	rcpt, err := s.ledger.ClaimAll(r.Context(), callerFrom(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) handleToggleCompound(w http.ResponseWriter, r *http.Request) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	enabled, err := s.ledger.ToggleAutoCompound(callerFrom(r), idx)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompoundResponse{Index: idx, Enabled: enabled})
}

func (s *Server) handleCompoundAll(w http.ResponseWriter, r *http.Request) {
	var req CompoundAllRequest
	if !decodeBody(w, r, &req) {
		return
	}
	changed, err := s.ledger.SetAutoCompoundAll(callerFrom(r), req.Enabled)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompoundAllResponse{Changed: changed})
}

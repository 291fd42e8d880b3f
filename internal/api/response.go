package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Kind     string   `json:"kind,omitempty"`
	Required *big.Int `json:"required,omitempty"`
	Actual   *big.Int `json:"actual,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response", logging.Err(err), logging.Component("api"))
	}
}

func writeBadRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: fmt.Sprintf(format, args...),
		Kind:  staking.KindValidation.String(),
	})
}

// statusFor maps ledger error kinds onto HTTP statuses.
func statusFor(kind staking.Kind) int {
	switch kind {
	case staking.KindValidation:
		return http.StatusBadRequest
	case staking.KindState:
		return http.StatusConflict
	case staking.KindCapacity, staking.KindArithmetic:
		return http.StatusUnprocessableEntity
	case staking.KindAuthorization:
		return http.StatusForbidden
	case staking.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var le *staking.Error
	if errors.As(err, &le) {
		resp.Kind = le.Kind.String()
		resp.Required = le.Required
		resp.Actual = le.Actual
		if le.Kind == staking.KindExternal {
			// collaborator errors can carry RPC URLs
			resp.Error = le.Op + ": " + le.Err.Error()
		}
	}
	status := statusFor(staking.KindOf(err))
	if status >= http.StatusInternalServerError {
		logging.Error("ledger operation failed", logging.Err(err), logging.Component("api"))
	}
	writeJSON(w, status, resp)
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return false
		}
		writeBadRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	return parseAddress(w, name, r.PathValue(name))
}

func parseAddress(w http.ResponseWriter, name, v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		writeBadRequest(w, "invalid %s: %q", name, v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.PathValue("idx")
	idx, err := strconv.Atoi(v)
	if err != nil || idx < 0 {
		writeBadRequest(w, "invalid stake index: %q", v)
		return 0, false
	}
	return idx, true
}

func pathTierID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	return parseTierID(w, r.PathValue("id"))
}

func parseTierID(w http.ResponseWriter, v string) (uint32, bool) {
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		writeBadRequest(w, "invalid tier id: %q", v)
		return 0, false
	}
	return uint32(id), true
}

// parseAmount parses a base-unit integer amount. Amounts travel as decimal
// strings so they survive JSON clients without 256-bit integers.
func parseAmount(w http.ResponseWriter, name, v string) (*big.Int, bool) {
	if v == "" {
		writeBadRequest(w, "%s is required", name)
		return nil, false
	}
	amt, err := types.ParseAmount(v)
	if err != nil {
		writeBadRequest(w, "invalid %s: %v", name, err)
		return nil, false
	}
	return amt, true
}

func parseUintQuery(w http.ResponseWriter, r *http.Request, name string, def uint64) (uint64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid %s: %q", name, v)
		return 0, false
	}
	return n, true
}

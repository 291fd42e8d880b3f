// Package client talks to the tierstake HTTP API, signing user and admin
// requests with the caller's wallet.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
)

// ErrNoSigner is returned for signed endpoints when the client has no wallet.
var ErrNoSigner = errors.New("this request requires a wallet; run 'stakingd wallet create' or 'wallet import'")

// APIError is a non-2xx response.
type APIError struct {
	Status   int
	Message  string
	Kind     string
	Required *big.Int
	Actual   *big.Int
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%d, %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// APIClient communicates with the tierstake HTTP API.
type APIClient struct {
	baseURL    string
	signer     *WalletSigner
	httpClient *http.Client
}

// NewAPIClient creates a client. signer may be nil for read-only use.
func NewAPIClient(baseURL string, signer *WalletSigner) *APIClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 3 * time.Minute, // on-chain transfers wait for confirmations
		},
	}
}

// Signer returns the wallet signer, or nil.
func (c *APIClient) Signer() *WalletSigner {
	return c.signer
}

// do performs a request and decodes the JSON response into out. Signed
// requests carry inline wallet auth headers.
func (c *APIClient) do(ctx context.Context, method, path string, signed bool, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		if c.signer == nil {
			return ErrNoSigner
		}
		addr, sig, msg, err := c.signer.SignAuth()
		if err != nil {
			return err
		}
		req.Header.Set(api.HeaderWalletAddress, addr)
		req.Header.Set(api.HeaderWalletSignature, sig)
		req.Header.Set(api.HeaderWalletMessage, msg)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Kind = errResp.Kind
			apiErr.Required = errResp.Required
			apiErr.Actual = errResp.Actual
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *APIClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, false, nil, out)
}

// Health retrieves server health.
func (c *APIClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tiers lists every tier.
func (c *APIClient) Tiers(ctx context.Context) ([]*types.Tier, error) {
	var tiers []*types.Tier
	if err := c.get(ctx, "/v1/tiers", &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// Tier returns one tier with its statistics.
func (c *APIClient) Tier(ctx context.Context, id uint32) (*types.TierStats, error) {
	var stats types.TierStats
	if err := c.get(ctx, fmt.Sprintf("/v1/tiers/%d", id), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Stats returns global ledger statistics.
func (c *APIClient) Stats(ctx context.Context) (*types.GlobalStats, error) {
	var stats types.GlobalStats
	if err := c.get(ctx, "/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Params returns the global ledger parameters.
func (c *APIClient) Params(ctx context.Context) (*staking.Params, error) {
	var p staking.Params
	if err := c.get(ctx, "/v1/params", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// User returns a user's account summary.
func (c *APIClient) User(ctx context.Context, user common.Address) (*types.UserAccount, error) {
	var acct types.UserAccount
	if err := c.get(ctx, "/v1/users/"+user.Hex(), &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Stakes lists a user's stakes.
func (c *APIClient) Stakes(ctx context.Context, user common.Address, activeOnly bool) ([]api.StakeView, error) {
	path := "/v1/users/" + user.Hex() + "/stakes"
	if activeOnly {
		path += "?active=true"
	}
	var views []api.StakeView
	if err := c.get(ctx, path, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Pending returns pending rewards per stake and in total.
func (c *APIClient) Pending(ctx context.Context, user common.Address) (*api.PendingResponse, error) {
	var resp api.PendingResponse
	if err := c.get(ctx, "/v1/users/"+user.Hex()+"/pending", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Project returns the reward a full lock in tier would earn.
func (c *APIClient) Project(ctx context.Context, tier uint32, amount *big.Int, premium bool) (*big.Int, error) {
	q := url.Values{}
	q.Set("tier", strconv.FormatUint(uint64(tier), 10))
	q.Set("amount", amount.String())
	q.Set("premium", strconv.FormatBool(premium))
	var resp api.EstimateResponse
	if err := c.get(ctx, "/v1/estimate?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Reward, nil
}

// CanStake asks whether user could stake amount in tier.
func (c *APIClient) CanStake(ctx context.Context, user common.Address, tier uint32, amount *big.Int) (*api.EligibilityResponse, error) {
	q := url.Values{}
	q.Set("user", user.Hex())
	q.Set("tier", strconv.FormatUint(uint64(tier), 10))
	q.Set("amount", amount.String())
	var resp api.EligibilityResponse
	if err := c.get(ctx, "/v1/eligibility?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events pages the audit log from sequence number from.
func (c *APIClient) Events(ctx context.Context, from uint64, limit int) ([]staking.Event, error) {
	path := fmt.Sprintf("/v1/events?from=%d&limit=%d", from, limit)
	var events []staking.Event
	if err := c.get(ctx, path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Stake opens a stake for the signing wallet.
func (c *APIClient) Stake(ctx context.Context, tier uint32, amount *big.Int) (int, error) {
	var resp api.StakeResponse
	req := api.StakeRequest{TierID: tier, Amount: amount.String()}
	if err := c.do(ctx, http.MethodPost, "/v1/stakes", true, req, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

func (c *APIClient) stakeOp(ctx context.Context, idx int, op string) (*staking.Receipt, error) {
	var rcpt staking.Receipt
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/stakes/%d/%s", idx, op), true, nil, &rcpt); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// Unstake closes an unlocked stake.
func (c *APIClient) Unstake(ctx context.Context, idx int) (*staking.Receipt, error) {
	return c.stakeOp(ctx, idx, "unstake")
}

// Claim settles one stake's pending reward.
func (c *APIClient) Claim(ctx context.Context, idx int) (*staking.Receipt, error) {
	return c.stakeOp(ctx, idx, "claim")
}

// EmergencyUnstake exits a locked stake, forfeiting its reward and a fee.
func (c *APIClient) EmergencyUnstake(ctx context.Context, idx int) (*staking.Receipt, error) {
	return c.stakeOp(ctx, idx, "emergency")
}

// ClaimAll settles every active stake in one payout.
func (c *APIClient) ClaimAll(ctx context.Context) (*staking.Receipt, error) {
	var rcpt staking.Receipt
	if err := c.do(ctx, http.MethodPost, "/v1/claim-all", true, nil, &rcpt); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// ToggleAutoCompound flips one stake's auto-compound flag.
func (c *APIClient) ToggleAutoCompound(ctx context.Context, idx int) (bool, error) {
	var resp api.CompoundResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/stakes/%d/compound", idx), true, nil, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SetAutoCompoundAll sets auto-compound on every active stake.
func (c *APIClient) SetAutoCompoundAll(ctx context.Context, enabled bool) (int, error) {
	var resp api.CompoundAllResponse
	if err := c.do(ctx, http.MethodPost, "/v1/compound-all", true, api.CompoundAllRequest{Enabled: enabled}, &resp); err != nil {
		return 0, err
	}
	return resp.Changed, nil
}

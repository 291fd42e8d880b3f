package client

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moltbunker/tierstake/internal/api"
)

func (c *APIClient) admin(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, "/v1/admin"+path, true, body, out)
}

// AddTier creates a tier and returns its id.
func (c *APIClient) AddTier(ctx context.Context, req api.TierRequest) (uint32, error) {
	var resp api.TierResponse
	if err := c.admin(ctx, http.MethodPost, "/tiers", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateTier replaces a tier's parameters.
func (c *APIClient) UpdateTier(ctx context.Context, id uint32, req api.TierRequest) error {
	return c.admin(ctx, http.MethodPut, fmt.Sprintf("/tiers/%d", id), req, nil)
}

// SetPremiumBonus sets a tier's premium bonus.
func (c *APIClient) SetPremiumBonus(ctx context.Context, id uint32, bps uint64) error {
	return c.admin(ctx, http.MethodPut, fmt.Sprintf("/tiers/%d/premium-bonus", id), api.BonusRequest{Bps: bps}, nil)
}

// SetPremiumUser grants or revokes premium status.
func (c *APIClient) SetPremiumUser(ctx context.Context, user common.Address, premium bool) error {
	return c.admin(ctx, http.MethodPut, "/premium/"+user.Hex(), api.PremiumRequest{Premium: premium}, nil)
}

// SetParam sets a global parameter by name; see the api.Param constants.
func (c *APIClient) SetParam(ctx context.Context, name, value string) error {
	return c.admin(ctx, http.MethodPut, "/params/"+name, api.ParamRequest{Value: value}, nil)
}

// SetRewardPool sets the reward pool and its amortization period.
func (c *APIClient) SetRewardPool(ctx context.Context, amount *big.Int, durationSecs uint64) error {
	return c.admin(ctx, http.MethodPut, "/reward-pool", api.RewardPoolRequest{Amount: amount.String(), Duration: durationSecs}, nil)
}

// FundRewardPool transfers tokens from the owner into the reward pool.
func (c *APIClient) FundRewardPool(ctx context.Context, amount *big.Int) error {
	return c.admin(ctx, http.MethodPost, "/fund", api.AmountRequest{Amount: amount.String()}, nil)
}

// EmergencyWithdraw moves reward pool tokens back to the owner.
func (c *APIClient) EmergencyWithdraw(ctx context.Context, amount *big.Int) error {
	return c.admin(ctx, http.MethodPost, "/withdraw", api.AmountRequest{Amount: amount.String()}, nil)
}

// Pause blocks user operations.
func (c *APIClient) Pause(ctx context.Context) error {
	return c.admin(ctx, http.MethodPost, "/pause", nil, nil)
}

// Unpause resumes user operations.
func (c *APIClient) Unpause(ctx context.Context) error {
	return c.admin(ctx, http.MethodPost, "/unpause", nil, nil)
}

// TransferOwnership hands the ledger to newOwner.
func (c *APIClient) TransferOwnership(ctx context.Context, newOwner common.Address) error {
	return c.admin(ctx, http.MethodPut, "/owner", api.OwnerRequest{Owner: newOwner.Hex()}, nil)
}

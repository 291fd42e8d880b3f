package commands

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/client"
	"github.com/moltbunker/tierstake/pkg/types"
)

// NewAdminCmd groups the owner-only operations. Every request is signed by
// the local wallet, which must be the ledger owner.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner operations",
	}
	cmd.AddCommand(newAdminAddTierCmd())
	cmd.AddCommand(newAdminUpdateTierCmd())
	cmd.AddCommand(newAdminPremiumBonusCmd())
	cmd.AddCommand(newAdminPremiumCmd())
	cmd.AddCommand(newAdminSetParamCmd())
	cmd.AddCommand(newAdminRewardPoolCmd())
	cmd.AddCommand(newAdminFundCmd())
	cmd.AddCommand(newAdminWithdrawCmd())
	cmd.AddCommand(newAdminPauseCmd(true))
	cmd.AddCommand(newAdminPauseCmd(false))
	cmd.AddCommand(newAdminTransferOwnershipCmd())
	return cmd
}

// tierFlags holds add-tier/update-tier input in CLI units.
type tierFlags struct {
	name         string
	lock         string
	rateBps      uint64
	premiumBps   uint64
	minStake     string
	maxStake     string
	tierMaxStake string
	inactive     bool
}

func (f *tierFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "Tier name")
	fs.StringVar(&f.lock, "lock", "", "Lock duration, e.g. 30d or 12h")
	fs.Uint64Var(&f.rateBps, "rate", 0, "Base annual rate in basis points")
	fs.Uint64Var(&f.premiumBps, "premium-bonus", 0, "Premium bonus in basis points")
	fs.StringVar(&f.minStake, "min", "", "Minimum stake in tokens")
	fs.StringVar(&f.maxStake, "max", "", "Maximum active stake per user in tokens")
	fs.StringVar(&f.tierMaxStake, "capacity", "", "Tier-wide capacity in tokens")
	fs.BoolVar(&f.inactive, "inactive", false, "Close the tier to new stakes")
}

// apply overlays the flags that were set onto req.
func (f *tierFlags) apply(fs *pflag.FlagSet, req *api.TierRequest) error {
	if fs.Changed("name") {
		req.Name = f.name
	}
	if fs.Changed("lock") {
		secs, err := parseLockDuration(f.lock)
		if err != nil {
			return err
		}
		req.LockDuration = secs
	}
	if fs.Changed("rate") {
		req.BaseRateBps = f.rateBps
	}
	if fs.Changed("premium-bonus") {
		req.PremiumBonusBps = f.premiumBps
	}
	for _, a := range []struct {
		flag, val string
		dst       *string
	}{
		{"min", f.minStake, &req.MinStake},
		{"max", f.maxStake, &req.MaxStake},
		{"capacity", f.tierMaxStake, &req.TierMaxStake},
	} {
		if !fs.Changed(a.flag) {
			continue
		}
		v, err := ParseTokens(a.val)
		if err != nil {
			return fmt.Errorf("--%s: %w", a.flag, err)
		}
		*a.dst = v.String()
	}
	if fs.Changed("inactive") {
		req.Active = !f.inactive
	}
	return nil
}

// parseLockDuration accepts Go durations plus a day suffix ("30d").
func parseLockDuration(s string) (uint64, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseUint(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid lock duration %q", s)
		}
		return n * 24 * 60 * 60, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid lock duration %q", s)
	}
	return uint64(d / time.Second), nil
}

func tierRequestFrom(t *types.Tier) api.TierRequest {
	return api.TierRequest{
		Name:            t.Name,
		LockDuration:    t.LockDuration,
		BaseRateBps:     t.BaseRateBps,
		PremiumBonusBps: t.PremiumBonusBps,
		MinStake:        t.MinStake.String(),
		MaxStake:        t.MaxStake.String(),
		TierMaxStake:    t.TierMaxStake.String(),
		Active:          t.Active,
	}
}

func newAdminAddTierCmd() *cobra.Command {
	var f tierFlags

	cmd := &cobra.Command{
		Use:   "add-tier",
		Short: "Add a staking tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"name", "lock", "rate", "min", "max", "capacity"} {
				if !cmd.Flags().Changed(name) {
					return fmt.Errorf("--%s is required", name)
				}
			}
			req := api.TierRequest{Active: true}
			if err := f.apply(cmd.Flags(), &req); err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			id, err := c.AddTier(cmdContext(cmd), req)
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("Added tier %d (%s)", id, req.Name))
			return nil
		},
	}

	f.register(cmd.Flags())
	return cmd
}

func newAdminUpdateTierCmd() *cobra.Command {
	var f tierFlags

	cmd := &cobra.Command{
		Use:   "update-tier <id>",
		Short: "Change a tier's parameters",
		Long: `Change a tier's parameters. Unset flags keep their current values.
The premium bonus is changed with 'admin premium-bonus'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTierArg(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("premium-bonus") {
				return errors.New("use 'stakingd admin premium-bonus' to change the premium bonus")
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)

			current, err := c.Tier(ctx, id)
			var apiErr *client.APIError
			var req api.TierRequest
			switch {
			case err == nil:
				req = tierRequestFrom(current.Tier)
			case errors.As(err, &apiErr) && apiErr.Kind == "validation":
				// appending at the next id needs every field
				req = api.TierRequest{Active: true}
			default:
				return err
			}
			if err := f.apply(cmd.Flags(), &req); err != nil {
				return err
			}
			if err := c.UpdateTier(ctx, id, req); err != nil {
				return err
			}
			Success(fmt.Sprintf("Updated tier %d", id))
			return nil
		},
	}

	f.register(cmd.Flags())
	return cmd
}

func newAdminPremiumBonusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "premium-bonus <tier> <bps>",
		Short: "Set a tier's premium bonus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTierArg(args[0])
			if err != nil {
				return err
			}
			bps, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid bps %q", args[1])
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if err := c.SetPremiumBonus(cmdContext(cmd), id, bps); err != nil {
				return err
			}
			Success(fmt.Sprintf("Tier %d premium bonus set to %s", id, FormatBps(bps)))
			return nil
		},
	}
}

func newAdminPremiumCmd() *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "premium <address>",
		Short: "Grant or revoke premium status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveAddress(args)
			if err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if err := c.SetPremiumUser(cmdContext(cmd), user, !revoke); err != nil {
				return err
			}
			if revoke {
				Success("Revoked premium status of " + user.Hex())
			} else {
				Success("Granted premium status to " + user.Hex())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke instead of grant")
	return cmd
}

func newAdminSetParamCmd() *cobra.Command {
	params := []string{
		api.ParamEmergencyFee,
		api.ParamClaimCooldown,
		api.ParamMaxStakesPerUser,
		api.ParamMaxPremiumUsers,
		api.ParamMinCompoundAmount,
	}
	return &cobra.Command{
		Use:   "set-param <name> <value>",
		Short: "Set a global parameter",
		Long: "Set a global parameter. Names: " + strings.Join(params, ", ") + `.
min_compound_amount is in tokens; claim_cooldown accepts 1h or 30m style durations.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: params,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, value := args[0], args[1]
			switch name {
			case api.ParamMinCompoundAmount:
				v, err := ParseTokens(value)
				if err != nil {
					return err
				}
				value = v.String()
			case api.ParamClaimCooldown:
				if _, err := strconv.ParseUint(value, 10, 64); err != nil {
					secs, err := parseLockDuration(value)
					if err != nil {
						return err
					}
					value = strconv.FormatUint(secs, 10)
				}
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if err := c.SetParam(cmdContext(cmd), name, value); err != nil {
				return err
			}
			Success(fmt.Sprintf("%s set to %s", name, args[1]))
			return nil
		},
	}
}

func newAdminRewardPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reward-pool <amount> <duration>",
		Short: "Set the reward pool and the period it is paid over",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ParseTokens(args[0])
			if err != nil {
				return err
			}
			secs, err := parseLockDuration(args[1])
			if err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if err := c.SetRewardPool(cmdContext(cmd), amount, secs); err != nil {
				return err
			}
			Success(fmt.Sprintf("Reward pool set to %s over %s", FormatTokens(amount), FormatDuration(secs)))
			return nil
		},
	}
}

func newAdminFundCmd() *cobra.Command {
	return newAdminAmountCmd("fund <amount>", "Transfer tokens from the owner into the reward pool",
		func(cmd *cobra.Command, c *client.APIClient, amount *big.Int) error {
			err := WithSpinner("Funding reward pool", func() error {
				return c.FundRewardPool(cmdContext(cmd), amount)
			})
			if err != nil {
				return err
			}
			Success("Funded reward pool with " + FormatTokens(amount))
			return nil
		})
}

func newAdminWithdrawCmd() *cobra.Command {
	return newAdminAmountCmd("withdraw <amount>", "Return reward pool tokens to the owner",
		func(cmd *cobra.Command, c *client.APIClient, amount *big.Int) error {
			err := WithSpinner("Withdrawing from reward pool", func() error {
				return c.EmergencyWithdraw(cmdContext(cmd), amount)
			})
			if err != nil {
				return err
			}
			Success("Withdrew " + FormatTokens(amount) + " from the reward pool")
			return nil
		})
}

func newAdminAmountCmd(use, short string, run func(*cobra.Command, *client.APIClient, *big.Int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ParseTokens(args[0])
			if err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			return run(cmd, c, amount)
		},
	}
}

func newAdminPauseCmd(pause bool) *cobra.Command {
	use, short := "pause", "Block stake, unstake, claim and compound"
	if !pause {
		use, short = "unpause", "Resume user operations"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if pause {
				err = c.Pause(cmdContext(cmd))
			} else {
				err = c.Unpause(cmdContext(cmd))
			}
			if err != nil {
				return err
			}
			Success("Ledger " + use + "d")
			return nil
		},
	}
}

func newAdminTransferOwnershipCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "transfer-ownership <address>",
		Short: "Hand the ledger to a new owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid address %q", args[0])
			}
			newOwner := common.HexToAddress(args[0])
			if !yes {
				Warning("The current wallet loses every admin right. This cannot be undone from this wallet.")
				if !confirm("Transfer ownership to " + newOwner.Hex() + "?") {
					return errors.New("aborted")
				}
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if err := c.TransferOwnership(cmdContext(cmd), newOwner); err != nil {
				return err
			}
			Success("Ownership transferred to " + newOwner.Hex())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

package commands

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/identity"
	"github.com/moltbunker/tierstake/pkg/types"
)

// NewStatusCmd shows daemon health, global statistics and parameters.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			c := newReadClient()

			health, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", GetAPIEndpoint(), err)
			}
			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			params, err := c.Params(ctx)
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(map[string]any{"health": health, "stats": stats, "params": params})
			}

			state := "active"
			if health.Paused {
				state = "paused"
			}
			fields := [][2]string{
				{"Status", StatusBadge(health.Status)},
				{"Ledger", StatusBadge(state)},
				{"Version", health.Version},
				{"Uptime", health.Uptime},
				{"Last Event", strconv.FormatUint(health.LastEventSeq, 10)},
				{"Stream Clients", strconv.Itoa(health.StreamClients)},
			}
			if health.ActiveEndpoint != "" {
				fields = append(fields, [2]string{"RPC", health.ActiveEndpoint})
			}
			if health.Reason != "" {
				fields = append(fields, [2]string{"Reason", health.Reason})
			}
			fmt.Println(StatusBox("Daemon", fields))

			fmt.Println(StatusBox("Ledger", [][2]string{
				{"Total Staked", FormatTokens(stats.TotalStaked)},
				{"Stakers", strconv.FormatUint(stats.TotalStakers, 10)},
				{"Rewards Paid", FormatTokens(stats.TotalRewardsPaid)},
				{"Reward Pool", FormatTokens(stats.RewardPool) + " / " + FormatDuration(stats.RewardDuration)},
				{"Pool Balance", FormatTokens(stats.RewardPoolBalance)},
				{"Premium Users", fmt.Sprintf("%d / %d", stats.PremiumUsers, params.MaxPremiumUsers)},
			}))

			fmt.Println(StatusBox("Parameters", [][2]string{
				{"Emergency Fee", FormatBps(params.EmergencyFeeBps)},
				{"Claim Cooldown", FormatDuration(params.ClaimCooldown)},
				{"Max Stakes", strconv.Itoa(params.MaxStakesPerUser)},
				{"Min Compound", FormatTokens(params.MinCompoundAmount)},
			}))
			return nil
		},
	}
}

// NewTiersCmd lists tiers, or shows one with its statistics.
func NewTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers [id]",
		Short: "List staking tiers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			c := newReadClient()

			if len(args) == 1 {
				id, err := parseTierArg(args[0])
				if err != nil {
					return err
				}
				ts, err := c.Tier(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(ts)
				}
				t := ts.Tier
				fmt.Println(StatusBox(fmt.Sprintf("Tier %d: %s", t.ID, t.Name), [][2]string{
					{"Status", StatusBadge(tierState(t))},
					{"Lock", FormatDuration(t.LockDuration)},
					{"APR", FormatBps(t.BaseRateBps)},
					{"Premium APR", FormatBps(t.BaseRateBps + t.PremiumBonusBps)},
					{"Min Stake", FormatTokens(t.MinStake)},
					{"Max Per User", FormatTokens(t.MaxStake)},
					{"Capacity", FormatTokens(t.TierMaxStake)},
					{"Total Staked", FormatTokens(t.TotalStaked)},
					{"Stakers", strconv.FormatUint(t.StakersCount, 10)},
					{"Active Stakes", strconv.FormatUint(t.ActiveStakes, 10)},
					{"Average Stake", FormatTokens(ts.AverageStake)},
				}))
				return nil
			}

			tiers, err := c.Tiers(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(tiers)
			}
			if len(tiers) == 0 {
				Info("No tiers configured.")
				return nil
			}
			rows := make([][]string, 0, len(tiers))
			for _, t := range tiers {
				rows = append(rows, []string{
					strconv.FormatUint(uint64(t.ID), 10),
					t.Name,
					FormatDuration(t.LockDuration),
					FormatBps(t.BaseRateBps),
					"+" + FormatBps(t.PremiumBonusBps),
					FormatTokens(t.MinStake),
					FormatTokens(t.TotalStaked),
					tierState(t),
				})
			}
			fmt.Print(RenderTable([]string{"ID", "Name", "Lock", "APR", "Premium", "Min Stake", "Staked", "Status"}, rows))
			return nil
		},
	}
}

func tierState(t *types.Tier) string {
	if t.Active {
		return "active"
	}
	return "inactive"
}

// NewAccountCmd shows a user's summary and stakes.
func NewAccountCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "account [address]",
		Short: "Show a wallet's stakes and pending rewards",
		Long:  "Show stakes and pending rewards. Defaults to the local wallet.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			user, err := resolveAddress(args)
			if err != nil {
				return err
			}
			c := newReadClient()

			acct, err := c.User(ctx, user)
			if err != nil {
				return err
			}
			views, err := c.Stakes(ctx, user, !all)
			if err != nil {
				return err
			}
			pending, err := c.Pending(ctx, user)
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(map[string]any{"account": acct, "stakes": views, "pending": pending})
			}

			premium := "no"
			if acct.Premium {
				premium = "since " + FormatTime(acct.PremiumSince)
			}
			fmt.Println(StatusBox("Account "+FormatAddress(user.Hex()), [][2]string{
				{"Active Stakes", fmt.Sprintf("%d of %d", acct.StakeCount, acct.TotalStakes)},
				{"Total Staked", FormatTokens(acct.TotalStaked)},
				{"Rewards Earned", FormatTokens(acct.TotalRewards)},
				{"Pending", FormatTokens(pending.Total)},
				{"Premium", premium},
				{"Last Claim", FormatTime(acct.LastClaim)},
			}))

			if len(views) == 0 {
				fmt.Println(Hint("No stakes. Open one with: stakingd stake <tier> <amount>"))
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				s := v.Stake
				lock := "unlocked"
				if !s.IsActive() {
					lock = s.Status.String()
				} else if v.UnlocksIn > 0 {
					lock = "locked " + FormatDuration(v.UnlocksIn)
				}
				compound := ""
				if s.AutoCompound {
					compound = "yes"
				}
				rows = append(rows, []string{
					strconv.Itoa(v.Index),
					strconv.FormatUint(uint64(s.TierID), 10),
					FormatTokens(s.Amount),
					FormatBps(s.RateBps),
					FormatTokens(v.PendingReward),
					FormatTokens(s.ClaimedRewards),
					compound,
					lock,
				})
			}
			fmt.Print(RenderTable([]string{"#", "Tier", "Amount", "APR", "Pending", "Claimed", "Compound", "Status"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include closed stakes")
	return cmd
}

// NewEstimateCmd projects rewards and checks stake eligibility.
func NewEstimateCmd() *cobra.Command {
	var premium bool

	cmd := &cobra.Command{
		Use:   "estimate <tier> <amount>",
		Short: "Project the reward for a full lock and check eligibility",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			tier, err := parseTierArg(args[0])
			if err != nil {
				return err
			}
			amount, err := ParseTokens(args[1])
			if err != nil {
				return err
			}
			c := newReadClient()

			reward, err := c.Project(ctx, tier, amount, premium)
			if err != nil {
				return err
			}

			out := estimateOutput{Tier: tier, Amount: amount, Reward: reward}
			fields := [][2]string{
				{"Tier", args[0]},
				{"Amount", FormatTokens(amount)},
				{"Reward", FormatTokens(reward)},
			}
			// eligibility needs a wallet address; skip quietly without one
			if user, err := resolveAddress(nil); err == nil {
				el, err := c.CanStake(ctx, user, tier, amount)
				if err != nil {
					return err
				}
				out.Eligible, out.Reason = &el.Eligible, el.Reason
				verdict := "eligible"
				if !el.Eligible {
					verdict = "not eligible: " + el.Reason
				}
				fields = append(fields, [2]string{"Your Wallet", verdict})
			}

			if jsonOutput() {
				return printJSON(out)
			}
			fmt.Println(StatusBox("Estimate", fields))
			return nil
		},
	}

	cmd.Flags().BoolVar(&premium, "premium", false, "Include the tier's premium bonus")
	return cmd
}

type estimateOutput struct {
	Tier     uint32   `json:"tier"`
	Amount   *big.Int `json:"amount"`
	Reward   *big.Int `json:"reward"`
	Eligible *bool    `json:"eligible,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

func parseTierArg(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tier id %q", s)
	}
	return uint32(id), nil
}

func parseIndexArg(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid stake index %q", s)
	}
	return idx, nil
}

// resolveAddress returns the address argument, or the local wallet's.
func resolveAddress(args []string) (common.Address, error) {
	if len(args) > 0 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("invalid address %q", args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	w, err := identity.LoadWallet(GetKeystoreDir())
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	if w == nil {
		return common.Address{}, fmt.Errorf("no wallet found; pass an address or run 'stakingd wallet create'")
	}
	return w.Address(), nil
}

package commands

import (
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moltbunker/tierstake/internal/staking"
)

// NewStakeCmd opens a stake with the local wallet.
func NewStakeCmd() *cobra.Command {
	var compound bool

	cmd := &cobra.Command{
		Use:   "stake <tier> <amount>",
		Short: "Lock tokens into a tier",
		Long: `Lock tokens into a tier. The amount is in whole tokens, e.g. 1500 or 12.5.

The wallet must have approved the custody address for at least the amount.`,
		Args: cobra.ExactArgs(2),
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
			c, err := newSignedClient()
			if err != nil {
				return err
			}

			var idx int
			err = WithSpinner("Transferring "+FormatTokens(amount)+" into custody", func() (err error) {
				idx, err = c.Stake(ctx, tier, amount)
				return err
			})
			if err != nil {
				return err
			}
			if compound {
				if _, err := c.ToggleAutoCompound(ctx, idx); err != nil {
					return fmt.Errorf("stake %d opened but enabling auto-compound failed: %w", idx, err)
				}
			}

			if jsonOutput() {
				return printJSON(map[string]any{"index": idx, "auto_compound": compound})
			}
			Success(fmt.Sprintf("Staked %s in tier %d (stake #%d)", FormatTokens(amount), tier, idx))
			return nil
		},
	}

	cmd.Flags().BoolVar(&compound, "compound", false, "Enable auto-compound on the new stake")
	return cmd
}

// NewUnstakeCmd closes an unlocked stake.
func NewUnstakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstake <index>",
		Short: "Withdraw an unlocked stake with its rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			rcpt, err := withReceipt("Withdrawing stake", func() (*staking.Receipt, error) {
				return c.Unstake(cmdContext(cmd), idx)
			})
			if err != nil {
				return err
			}
			return printReceipt("Unstaked", rcpt)
		},
	}
}

// NewClaimCmd settles rewards for one stake or all of them.
func NewClaimCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "claim [index]",
		Short: "Claim pending rewards",
		Long:  "Claim the pending reward of one stake, or of every active stake with --all.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a stake index or --all")
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			if all {
				rcpt, err := withReceipt("Claiming rewards", func() (*staking.Receipt, error) {
					return c.ClaimAll(cmdContext(cmd))
				})
				if err != nil {
					return err
				}
				return printReceipt("Claimed all stakes", rcpt)
			}
			idx, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			rcpt, err := withReceipt("Claiming rewards", func() (*staking.Receipt, error) {
				return c.Claim(cmdContext(cmd), idx)
			})
			if err != nil {
				return err
			}
			return printReceipt("Claimed", rcpt)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Claim every active stake")
	return cmd
}

// NewEmergencyUnstakeCmd exits a locked stake early.
func NewEmergencyUnstakeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "emergency-unstake <index>",
		Short: "Exit a locked stake, forfeiting rewards and paying a fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}

			if !yes {
				params, err := c.Params(cmdContext(cmd))
				if err != nil {
					return err
				}
				Warning(fmt.Sprintf("Emergency unstake forfeits all pending rewards and charges a %s fee.", FormatBps(params.EmergencyFeeBps)))
				if !confirm("Continue?") {
					return errors.New("aborted")
				}
			}

			rcpt, err := withReceipt("Withdrawing stake", func() (*staking.Receipt, error) {
				return c.EmergencyUnstake(cmdContext(cmd), idx)
			})
			if err != nil {
				return err
			}
			return printReceipt("Emergency unstake complete", rcpt)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// NewCompoundCmd toggles auto-compound on one stake or sets it on all.
func NewCompoundCmd() *cobra.Command {
	var all, disable bool

	cmd := &cobra.Command{
		Use:   "compound [index]",
		Short: "Toggle auto-compound",
		Long: `Toggle auto-compound on one stake. With --all, enable it on every active
stake, or disable it with --all --disable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a stake index or --all")
			}
			c, err := newSignedClient()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)

			if all {
				changed, err := c.SetAutoCompoundAll(ctx, !disable)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]int{"changed": changed})
				}
				Success(fmt.Sprintf("Auto-compound %s on %d stake(s)", onOff(!disable), changed))
				return nil
			}

			idx, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			enabled, err := c.ToggleAutoCompound(ctx, idx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"index": idx, "enabled": enabled})
			}
			Success(fmt.Sprintf("Auto-compound %s for stake #%d", onOff(enabled), idx))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Apply to every active stake")
	cmd.Flags().BoolVar(&disable, "disable", false, "With --all, turn auto-compound off")
	return cmd
}

func printReceipt(title string, rcpt *staking.Receipt) error {
	if jsonOutput() {
		return printJSON(rcpt)
	}
	Success(title)
	fields := [][2]string{
		{"Principal", FormatTokens(rcpt.Principal)},
		{"Reward", FormatTokens(rcpt.Reward)},
	}
	if positive(rcpt.Compounded) {
		fields = append(fields, [2]string{"Compounded", FormatTokens(rcpt.Compounded)})
	}
	if positive(rcpt.Fee) {
		fields = append(fields, [2]string{"Fee", FormatTokens(rcpt.Fee)})
	}
	fields = append(fields, [2]string{"Paid Out", FormatTokens(rcpt.Paid)})
	fmt.Println(StatusBox("Receipt", fields))
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// confirm asks a yes/no question, defaulting to no.
func confirm(prompt string) bool {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		ok := false
		err := huh.NewForm(huh.NewGroup(huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
		)).WithTheme(huh.ThemeBase()).Run()
		return err == nil && ok
	}

	fmt.Fprint(os.Stderr, prompt+" [y/N] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// withReceipt runs a receipt-returning call under a spinner.
func withReceipt(msg string, fn func() (*staking.Receipt, error)) (*staking.Receipt, error) {
	var rcpt *staking.Receipt
	err := WithSpinner(msg, func() (err error) {
		rcpt, err = fn()
		return err
	})
	return rcpt, err
}

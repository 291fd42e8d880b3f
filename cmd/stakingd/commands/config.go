package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/moltbunker/tierstake/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var owner string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if owner == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				if err := promptOwner(&owner); err != nil {
					return err
				}
			}
			if owner != "" {
				if !common.IsHexAddress(owner) {
					return fmt.Errorf("invalid owner address %q", owner)
				}
				cfg.Staking.Owner = common.HexToAddress(owner).Hex()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			Success("Config written to " + path)
			if owner == "" {
				fmt.Println(Hint("Set staking.owner before running 'stakingd serve'."))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Ledger owner address")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, err := cfg.Staking.OwnerAddress(); err != nil {
				Warning("No owner set; a fresh ledger cannot start without one.")
			}
			Success(path + " is valid")
			return nil
		},
	}
}

// promptOwner asks for the ledger owner. Leaving it empty defers the choice.
func promptOwner(owner *string) error {
	return huh.NewForm(huh.NewGroup(huh.NewInput().
		Title("Ledger owner").
		Description("Address allowed to manage tiers, the reward pool and pausing (leave empty to set later)").
		Placeholder("0x...").
		Validate(func(s string) error {
			if s != "" && !common.IsHexAddress(s) {
				return fmt.Errorf("not an address")
			}
			return nil
		}).
		Value(owner),
	)).WithTheme(huh.ThemeBase()).Run()
}

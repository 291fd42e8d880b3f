package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/cmd/stakingd/commands"
)

var rootCmd = &cobra.Command{
	Use:           "stakingd",
	Short:         "Tiered token staking ledger",
	Long:          "Run the tierstake ledger daemon, or stake, claim and administer it over its HTTP API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.tierstake/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&commands.APIEndpoint, "api", "", "API base URL (default: from config)")
	rootCmd.PersistentFlags().StringVar(&commands.KeystoreDir, "keystore", "", "Wallet keystore directory (default: from config)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: \"\" (auto) or \"json\"")
}

func main() {
	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewTiersCmd())
	rootCmd.AddCommand(commands.NewAccountCmd())
	rootCmd.AddCommand(commands.NewEstimateCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewUnstakeCmd())
	rootCmd.AddCommand(commands.NewClaimCmd())
	rootCmd.AddCommand(commands.NewEmergencyUnstakeCmd())
	rootCmd.AddCommand(commands.NewCompoundCmd())
	rootCmd.AddCommand(commands.NewEventsCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewDoctorCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

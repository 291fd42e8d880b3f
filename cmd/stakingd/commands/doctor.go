package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/doctor"
)

var doctorCategories = []doctor.Category{
	doctor.CategoryConfig,
	doctor.CategoryWallet,
	doctor.CategoryServices,
	doctor.CategorySystem,
	doctor.CategoryPermissions,
}

var errUnhealthy = errors.New("doctor found failing checks")

func NewDoctorCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this node is ready to stake",
		Long: `Run diagnostic checks before starting or using the daemon.

The doctor command checks:
- The config file and ledger owner
- The wallet and whether its password unlocks without a prompt
- The data directory and file descriptor limit
- The daemon API and every configured RPC endpoint

Examples:
  stakingd doctor                     # Run all checks
  stakingd doctor -o json             # Output results as JSON
  stakingd doctor --category wallet   # Only check the wallet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}

			cfg, cfgErr := config.Load(configPath())
			if cfgErr != nil {
				cfg = config.DefaultConfig()
			}

			d := doctor.New(cfg, configPath(), cfgErr, doctor.Options{
				JSON:        jsonOutput(),
				Category:    cat,
				APIEndpoint: APIEndpoint,
				KeystoreDir: KeystoreDir,
			})
			report, err := d.Run(cmdContext(cmd))
			if err != nil {
				return fmt.Errorf("doctor check failed: %w", err)
			}

			// non-zero exit for CI
			if !report.Summary.IsHealthy() {
				return errUnhealthy
			}
			return nil
		},
	}

	names := make([]string, len(doctorCategories))
	for i, c := range doctorCategories {
		names[i] = string(c)
	}
	cmd.Flags().StringVar(&category, "category", "", "Filter checks by category ("+strings.Join(names, ", ")+")")
	return cmd
}

func parseCategory(s string) (doctor.Category, error) {
	if s == "" {
		return "", nil
	}
	for _, c := range doctorCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid category: %s", s)
}

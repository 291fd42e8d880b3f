package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/daemon"
	"github.com/moltbunker/tierstake/internal/logging"
)

// NewServeCmd runs the ledger daemon in the foreground.
func NewServeCmd() *cobra.Command {
	var listen string
	var noPrompt bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the staking ledger daemon",
		Long: `Run the staking ledger and its HTTP API in the foreground.

On first start the ledger is seeded from the staking section of the config.
After that the stored snapshot is authoritative and config tiers are ignored.
With chain.mock_payments disabled the custody wallet is unlocked from
$TIERSTAKE_WALLET_PASSWORD, chain.password_file, the system keyring, or a prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.ListenAddr = listen
			}
			if KeystoreDir != "" {
				cfg.Chain.KeystoreDir = KeystoreDir
			}
			if err := logging.Setup(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel, os.Stderr); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := daemon.Options{
				PasswordPrompt: !noPrompt,
				Version:        GetVersion(),
			}
			if _, err := os.Stat(path); err == nil {
				opts.ConfigPath = path
			}

			d, err := daemon.New(ctx, cfg, opts)
			if err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "API listen address (overrides api.listen_addr)")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Never prompt for the custody wallet password")
	return cmd
}

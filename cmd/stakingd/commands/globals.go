package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/client"
	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/identity"
)

// Global CLI flags
var (
	// ConfigPath is the config file; empty means the default location
	ConfigPath string

	// APIEndpoint overrides the API address from the config
	APIEndpoint string

	// KeystoreDir overrides the keystore directory from the config
	KeystoreDir string

	// OutputFormat controls output format: "" (auto) or "json"
	OutputFormat string
)

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// loadConfigQuiet loads the config, falling back to defaults on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(configPath())
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// GetAPIEndpoint returns the API endpoint from flag or config.
func GetAPIEndpoint() string {
	if APIEndpoint != "" {
		return APIEndpoint
	}
	return loadConfigQuiet().API.ListenAddr
}

// GetKeystoreDir returns the keystore directory from flag, config or default.
func GetKeystoreDir() string {
	if KeystoreDir != "" {
		return KeystoreDir
	}
	if dir := loadConfigQuiet().Chain.KeystoreDir; dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tierstake", "keystore")
}

// newReadClient returns an unsigned client for queries.
func newReadClient() *client.APIClient {
	return client.NewAPIClient(GetAPIEndpoint(), nil)
}

// newSignedClient unlocks the local wallet and returns a client that signs
// every request with it.
func newSignedClient() (*client.APIClient, error) {
	dir := GetKeystoreDir()
	wallet, err := identity.LoadWallet(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("no wallet found at %s; create one with 'stakingd wallet create'", dir)
	}

	password, _, err := identity.ResolvePassword(wallet.Address(), identity.PasswordSources{Prompt: true})
	if errors.Is(err, identity.ErrNoPassword) {
		return nil, fmt.Errorf("wallet password not available; set %s or store it with 'stakingd wallet create'", identity.PasswordEnv)
	}
	if err != nil {
		return nil, err
	}
	if _, err := wallet.Unlock(password); err != nil {
		return nil, fmt.Errorf("failed to unlock wallet (wrong password?): %w", err)
	}
	return client.NewAPIClient(GetAPIEndpoint(), client.NewWalletSigner(wallet, password)), nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

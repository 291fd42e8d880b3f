package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/identity"
)

const maxPromptAttempts = 3

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local Ethereum wallet",
		Long: `Manage the Ethereum wallet that signs API requests and, for the daemon,
holds custody of staked tokens.

The wallet is stored as an encrypted keystore file (geth V3 format).
These commands operate directly on keystore files; no daemon needed.

The password is remembered in your platform keyring when one is available:
  macOS:           Keychain
  Linux (desktop): Secret Service (GNOME Keyring / KDE Wallet)
  Linux (server):  kernel keyring (volatile, lost on reboot)`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())
	return cmd
}

// promptNewPassword asks for a password twice, with retries.
func promptNewPassword() (string, error) {
	for attempt := 1; attempt <= maxPromptAttempts; attempt++ {
		password, err := identity.PromptPassword(identity.PasswordSources{}, "Enter wallet password: ")
		if err != nil {
			return "", err
		}
		if len(password) < 8 {
			Warning("Password must be at least 8 characters. Try again.")
			continue
		}
		confirm, err := identity.PromptPassword(identity.PasswordSources{}, "Confirm wallet password: ")
		if err != nil {
			return "", err
		}
		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", errors.New("too many failed attempts")
}

func rememberPassword(w *identity.Wallet, password string) {
	backend, err := identity.RememberPassword(w.Address(), password)
	if err != nil {
		fmt.Println("  Could not store password in a system keyring.")
		fmt.Println("  For automatic unlock, set " + identity.PasswordEnv + " or chain.password_file.")
		return
	}
	fmt.Printf("  Password saved to %s\n", backend)
}

func walletCreated(title string, w *identity.Wallet, password string) {
	fmt.Println()
	Success(title)
	fmt.Println(StatusBox("Wallet", [][2]string{
		{"Address", w.Address().Hex()},
		{"Keystore", w.KeystoreDir()},
	}))
	rememberPassword(w, password)
	fmt.Println()
	Warning("Back up your keystore directory and remember your password.")
	fmt.Println(Hint("If you lose either, the funds it controls are unrecoverable."))
}

func newWalletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := GetKeystoreDir()
			if w, err := identity.LoadWallet(dir); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", dir, w.Address().Hex())
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.CreateWallet(dir, password)
			if err != nil {
				return err
			}
			walletCreated("Wallet created!", w, password)
			return nil
		},
	}
}

func newWalletImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := GetKeystoreDir()
			if w, err := identity.LoadWallet(dir); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", dir, w.Address().Hex())
			}

			var privKeyHex string
			for attempt := 1; attempt <= maxPromptAttempts; attempt++ {
				input, err := identity.PromptPassword(identity.PasswordSources{}, "Enter private key (hex, with or without 0x prefix): ")
				if err != nil {
					return err
				}
				input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
				if len(input) != 64 {
					Warning(fmt.Sprintf("Private key must be 64 hex characters (32 bytes), got %d. Try again.", len(input)))
					continue
				}
				privKeyHex = input
				break
			}
			if privKeyHex == "" {
				return errors.New("too many failed attempts")
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.ImportWallet(dir, privKeyHex, password)
			if err != nil {
				return err
			}
			walletCreated("Wallet imported!", w, password)
			return nil
		},
	}
}

func newWalletShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Long:  "Display the wallet address and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := GetKeystoreDir()
			w, err := identity.LoadWallet(dir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			if w == nil {
				Info("No wallet found.")
				fmt.Println(Hint("Create one with: stakingd wallet create"))
				return nil
			}

			pwStatus := "not stored (manual unlock required)"
			if pw, err := identity.RetrieveWalletPassword(w.Address()); err == nil && pw != "" {
				pwStatus = "stored in platform keyring"
			} else if pw, err := identity.RetrieveKernelKeyring(w.Address()); err == nil && pw != "" {
				pwStatus = "stored in kernel keyring"
			}

			if jsonOutput() {
				return printJSON(map[string]string{
					"address":  w.Address().Hex(),
					"keystore": dir,
					"password": pwStatus,
				})
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", dir},
				{"Password", pwStatus},
			}))
			return nil
		},
	}
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := identity.LoadWallet(GetKeystoreDir())
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			if w == nil {
				Info("No wallet found.")
				return nil
			}
			if identity.ForgetPassword(w.Address()) {
				Success("Removed stored password for " + w.Address().Hex())
			} else {
				Info("No stored password found in any keyring.")
			}
			return nil
		},
	}
}

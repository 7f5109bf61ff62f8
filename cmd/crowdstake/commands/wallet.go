package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/wallet"
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the staking wallet",
		Long: `Manage the Ethereum wallet that signs stake, unstake and claim transactions.

The wallet is stored as an encrypted keystore file (geth V3 format).
The password can be kept in your platform keyring (wallet.use_keyring):
  macOS:  Keychain
  Linux:  GNOME Keyring / KDE Wallet

Setting ` + wallet.PasswordEnv + ` overrides the keyring and skips prompts.

Examples:
  crowdstake wallet create    # Generate a new wallet
  crowdstake wallet import    # Import from a private key
  crowdstake wallet address   # Show the address and keystore path
  crowdstake wallet forget    # Remove the password from the keyring`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletAddressCmd())
	cmd.AddCommand(newWalletForgetCmd())

	return cmd
}

// walletContext loads the config and picks the keystore directory, with
// the --keystore flag taking precedence.
func walletContext(keystoreFlag string) (*config.Config, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if keystoreFlag != "" {
		return cfg, keystoreFlag, nil
	}
	return cfg, cfg.Wallet.KeystoreDir, nil
}

// newPassword returns the password for a new keystore: the environment
// variable if set, else a prompt with confirmation.
func newPassword() (string, error) {
	if pw := os.Getenv(wallet.PasswordEnv); pw != "" {
		return pw, nil
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		password, err := promptPassword("Wallet password", func(s string) error {
			if len(s) < wallet.MinPasswordLength {
				return wallet.ErrWeakPassword
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		confirmed, err := promptPassword("Confirm wallet password", nil)
		if err != nil {
			return "", err
		}
		if password == confirmed {
			return password, nil
		}
		Warning("Passwords do not match. Try again.")
	}
	return "", fmt.Errorf("too many failed attempts")
}

// storePasswordInKeyring saves the password when the keyring is enabled,
// and explains the alternatives when it cannot.
func storePasswordInKeyring(cfg *config.Config, addr common.Address, password string) {
	if !cfg.Wallet.UseKeyring {
		return
	}
	backend, err := wallet.StorePassword(addr, password)
	if err == nil {
		fmt.Printf("  Password saved to %s\n", backend)
		fmt.Println("  The wallet will be unlocked automatically for stake, unstake and claim.")
		return
	}
	fmt.Println("  Could not store password in system keyring.")
	fmt.Printf("  For automatic wallet unlock, set %s.\n", wallet.PasswordEnv)
}

func printNewWallet(cfg *config.Config, wm *wallet.Manager, password, verb string) {
	fmt.Println()
	Success("Wallet " + verb + "!")
	fmt.Println(StatusBox("Wallet", [][2]string{
		{"Address", wm.Address().Hex()},
		{"Keystore", wm.Dir()},
	}))
	storePasswordInKeyring(cfg, wm.Address(), password)
	fmt.Println()
	Warning("Back up your keystore directory and remember your password.")
	fmt.Println(Hint("If you lose either, your staked funds are unrecoverable."))
}

func newWalletCreateCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		Long:  "Create a new Ethereum wallet with a password-encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := walletContext(keystoreDir)
			if err != nil {
				return err
			}
			if wm, err := wallet.Load(dir); err == nil {
				return fmt.Errorf("%w at %s (address: %s)", wallet.ErrWalletExists, dir, wm.Address().Hex())
			}

			password, err := newPassword()
			if err != nil {
				return err
			}
			wm, err := wallet.Create(dir, password)
			if err != nil {
				return err
			}
			printNewWallet(cfg, wm, password, "created")
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")
	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		Long:  "Import an existing Ethereum private key into an encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := walletContext(keystoreDir)
			if err != nil {
				return err
			}
			if wm, err := wallet.Load(dir); err == nil {
				return fmt.Errorf("%w at %s (address: %s)", wallet.ErrWalletExists, dir, wm.Address().Hex())
			}

			privKeyHex, err := promptPassword("Private key (hex, with or without 0x prefix)", func(s string) error {
				if n := len(strings.TrimPrefix(strings.TrimSpace(s), "0x")); n != 64 {
					return fmt.Errorf("private key must be 64 hex characters, got %d", n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			password, err := newPassword()
			if err != nil {
				return err
			}
			wm, err := wallet.Import(dir, privKeyHex, password)
			if err != nil {
				return err
			}
			printNewWallet(cfg, wm, password, "imported")
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")
	return cmd
}

// walletInfo is the JSON form of the address command.
type walletInfo struct {
	Address        string `json:"address"`
	Keystore       string `json:"keystore"`
	PasswordStored bool   `json:"password_stored"`
}

func newWalletAddressCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:     "address",
		Aliases: []string{"show"},
		Short:   "Show wallet address and keystore path",
		Long:    "Display the wallet address and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := walletContext(keystoreDir)
			if err != nil {
				return err
			}
			wm, err := wallet.Load(dir)
			if err != nil {
				return err
			}

			info := walletInfo{Address: wm.Address().Hex(), Keystore: dir}
			if cfg.Wallet.UseKeyring {
				if pw, err := wallet.RetrievePassword(wm.Address()); err == nil && pw != "" {
					info.PasswordStored = true
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput() {
				return writeJSON(out, info)
			}
			pwStatus := "not stored (prompted on use)"
			if info.PasswordStored {
				pwStatus = "stored in platform keyring"
			}
			fmt.Fprintln(out, StatusBox("Wallet", [][2]string{
				{"Address", info.Address},
				{"Keystore", info.Keystore},
				{"Password", pwStatus},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")
	return cmd
}

func newWalletForgetCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove the wallet password from the system keyring",
		Long: `Remove the stored wallet password from the platform keyring.

Afterwards stake, unstake and claim prompt for the password unless
` + wallet.PasswordEnv + ` is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dir, err := walletContext(keystoreDir)
			if err != nil {
				return err
			}
			wm, err := wallet.Load(dir)
			if err != nil {
				return err
			}
			if err := wallet.DeletePassword(wm.Address()); err != nil {
				return fmt.Errorf("failed to remove password: %w", err)
			}
			Success("Removed password for " + FormatAddress(wm.Address().Hex()) + " from the keyring")
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: wallet.keystore_dir)")
	return cmd
}

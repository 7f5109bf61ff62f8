package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// Config represents the complete client configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Claim   ClaimConfig   `yaml:"claim"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "text"
}

// LedgerConfig contains chain and staking program settings
type LedgerConfig struct {
	// Serve reads and writes from an in-memory ledger instead of the chain
	Mock     bool   `yaml:"mock"`
	Fixtures string `yaml:"fixtures"` // YAML pools and stakers seeded into the mock ledger

	ChainID            int64    `yaml:"chain_id"`
	RPCURL             string   `yaml:"rpc_url"`             // Primary RPC endpoint
	RPCURLs            []string `yaml:"rpc_urls"`            // Additional RPC endpoints for failover
	WSEndpoint         string   `yaml:"ws_endpoint"`         // Primary WebSocket endpoint
	WSEndpoints        []string `yaml:"ws_endpoints"`        // Additional WS endpoints for failover
	BlockConfirmations int      `yaml:"block_confirmations"` // Required confirmations

	StakingProgramAddress string `yaml:"staking_program_address"`
	TokenAddress          string `yaml:"token_address"`
	TokenDecimals         int    `yaml:"token_decimals"`

	RequestsPerSecond float64 `yaml:"requests_per_second"` // RPC throttle, 0 disables
	MaxGasPriceGwei   int64   `yaml:"max_gas_price_gwei"`  // 0 disables the cap
}

// ResolvedRPCURLs merges the single RPCURL with the RPCURLs list, deduplicating.
// The single URL is placed first as the primary.
func (lc *LedgerConfig) ResolvedRPCURLs() []string {
	return mergeURLs(lc.RPCURL, lc.RPCURLs)
}

// ResolvedWSEndpoints merges the single WSEndpoint with the WSEndpoints list, deduplicating.
func (lc *LedgerConfig) ResolvedWSEndpoints() []string {
	return mergeURLs(lc.WSEndpoint, lc.WSEndpoints)
}

func mergeURLs(primary string, extras []string) []string {
	seen := make(map[string]bool)
	var result []string

	if primary != "" {
		result = append(result, primary)
		seen[primary] = true
	}
	for _, u := range extras {
		if u != "" && !seen[u] {
			result = append(result, u)
			seen[u] = true
		}
	}
	return result
}

// WalletConfig contains signing key settings
type WalletConfig struct {
	KeystoreDir string `yaml:"keystore_dir"`
	UseKeyring  bool   `yaml:"use_keyring"` // Keep the keystore password in the OS keyring
}

// ClaimConfig controls resubmission of claims rejected as stale
type ClaimConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `yaml:"retry_max_delay_ms"`
}

// BaseDelay returns the first backoff delay
func (cc ClaimConfig) BaseDelay() time.Duration {
	return time.Duration(cc.RetryBaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling
func (cc ClaimConfig) MaxDelay() time.Duration {
	return time.Duration(cc.RetryMaxDelayMs) * time.Millisecond
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".crowdstake")

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			Mock:               true, // Mock mode by default until program addresses are configured
			ChainID:            8453, // Base mainnet
			RPCURL:             "https://mainnet.base.org",
			BlockConfirmations: 2,
			TokenDecimals:      types.DefaultTokenDecimals,
			RequestsPerSecond:  10,
			MaxGasPriceGwei:    50,
		},
		Wallet: WalletConfig{
			KeystoreDir: filepath.Join(dataDir, "keystore"),
			UseKeyring:  true,
		},
		Claim: ClaimConfig{
			MaxRetries:       3,
			RetryBaseDelayMs: 500,
			RetryMaxDelayMs:  5000,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Ledger.TokenDecimals < 0 || c.Ledger.TokenDecimals > 18 {
		return fmt.Errorf("invalid token_decimals: %d", c.Ledger.TokenDecimals)
	}
	if c.Ledger.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must not be negative")
	}
	if c.Ledger.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if c.Ledger.MaxGasPriceGwei < 0 {
		return fmt.Errorf("max_gas_price_gwei must not be negative")
	}

	if c.Claim.MaxRetries < 0 {
		return fmt.Errorf("claim max_retries must not be negative")
	}
	if c.Claim.RetryBaseDelayMs < 0 || c.Claim.RetryMaxDelayMs < c.Claim.RetryBaseDelayMs {
		return fmt.Errorf("claim retry delays must satisfy 0 <= base <= max")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics listen_addr is required when metrics are enabled")
	}

	// Chain settings only matter when talking to a real ledger
	if !c.Ledger.Mock {
		if len(c.Ledger.ResolvedRPCURLs()) == 0 {
			return fmt.Errorf("rpc_url is required when mock is false")
		}
		if c.Ledger.ChainID <= 0 {
			return fmt.Errorf("invalid chain_id: %d", c.Ledger.ChainID)
		}
		addrs := []struct{ name, addr string }{
			{"staking_program_address", c.Ledger.StakingProgramAddress},
			{"token_address", c.Ledger.TokenAddress},
		}
		for _, a := range addrs {
			if err := validateEthAddress(a.name, a.addr); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required when mock is false", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Wallet.KeystoreDir = expandPath(c.Wallet.KeystoreDir)
	c.Ledger.Fixtures = expandPath(c.Ledger.Fixtures)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".crowdstake", "config.yaml")
}

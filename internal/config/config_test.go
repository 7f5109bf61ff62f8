package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testProgram = "0x1111111111111111111111111111111111111111"
	testToken   = "0x2222222222222222222222222222222222222222"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected default log format 'text', got %s", cfg.Log.Format)
	}
	if !cfg.Ledger.Mock {
		t.Error("expected mock ledger by default")
	}
	if cfg.Ledger.TokenDecimals != 9 {
		t.Errorf("expected token decimals 9, got %d", cfg.Ledger.TokenDecimals)
	}
	if cfg.Ledger.ChainID != 8453 {
		t.Errorf("expected chain ID 8453, got %d", cfg.Ledger.ChainID)
	}
	if cfg.Claim.MaxRetries != 3 {
		t.Errorf("expected 3 claim retries, got %d", cfg.Claim.MaxRetries)
	}
	if !strings.HasSuffix(cfg.Wallet.KeystoreDir, filepath.Join(".crowdstake", "keystore")) {
		t.Errorf("unexpected keystore dir %s", cfg.Wallet.KeystoreDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func liveConfig() *Config {
	cfg := DefaultConfig()
	cfg.Ledger.Mock = false
	cfg.Ledger.StakingProgramAddress = testProgram
	cfg.Ledger.TokenAddress = testToken
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"live config ok", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"decimals too large", func(c *Config) { c.Ledger.TokenDecimals = 19 }, "token_decimals"},
		{"negative confirmations", func(c *Config) { c.Ledger.BlockConfirmations = -1 }, "block_confirmations"},
		{"negative rps", func(c *Config) { c.Ledger.RequestsPerSecond = -1 }, "requests_per_second"},
		{"negative gas cap", func(c *Config) { c.Ledger.MaxGasPriceGwei = -1 }, "max_gas_price_gwei"},
		{"negative retries", func(c *Config) { c.Claim.MaxRetries = -1 }, "max_retries"},
		{"inverted delays", func(c *Config) { c.Claim.RetryMaxDelayMs = 10 }, "retry delays"},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}, "listen_addr"},
		{"no rpc", func(c *Config) { c.Ledger.RPCURL = "" }, "rpc_url"},
		{"rpc from list", func(c *Config) {
			c.Ledger.RPCURL = ""
			c.Ledger.RPCURLs = []string{"https://rpc.example"}
		}, ""},
		{"bad chain", func(c *Config) { c.Ledger.ChainID = 0 }, "chain_id"},
		{"missing program", func(c *Config) { c.Ledger.StakingProgramAddress = "" }, "staking_program_address is required"},
		{"no 0x", func(c *Config) { c.Ledger.TokenAddress = strings.TrimPrefix(testToken, "0x") + "00" }, "must start with 0x"},
		{"short address", func(c *Config) { c.Ledger.TokenAddress = "0x1234" }, "42 characters"},
		{"bad hex", func(c *Config) { c.Ledger.TokenAddress = "0x" + strings.Repeat("z", 40) }, "invalid hex"},
		{"zero address", func(c *Config) { c.Ledger.TokenAddress = "0x" + strings.Repeat("0", 40) }, "zero address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := liveConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MockSkipsAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.StakingProgramAddress = ""
	cfg.Ledger.RPCURL = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("mock config should not require chain settings: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != DefaultConfig().Log.Level {
		t.Error("missing file should yield defaults")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: debug
ledger:
  mock: false
  rpc_url: https://rpc.example
  rpc_urls: [https://rpc.example, https://backup.example]
  staking_program_address: ` + testProgram + `
  token_address: ` + testToken + `
claim:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Error("unset fields should keep defaults")
	}
	if cfg.Claim.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Claim.MaxRetries)
	}
	urls := cfg.Ledger.ResolvedRPCURLs()
	if len(urls) != 2 || urls[0] != "https://rpc.example" || urls[1] != "https://backup.example" {
		t.Errorf("unexpected resolved urls: %v", urls)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("log: [unclosed"), 0600)
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("ledger:\n  mock: false\n"), 0600)
	if _, err := Load(invalid); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := liveConfig()
	cfg.Metrics.Enabled = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Ledger.StakingProgramAddress != testProgram || !loaded.Metrics.Enabled {
		t.Error("round trip lost settings")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/keys"); got != filepath.Join(home, "keys") {
		t.Errorf("expandPath = %s", got)
	}
	if got := expandPath("/abs/keys"); got != "/abs/keys" {
		t.Errorf("absolute path changed: %s", got)
	}
}

func TestMergeURLs(t *testing.T) {
	got := mergeURLs("a", []string{"b", "a", "", "c", "b"})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("mergeURLs = %v", got)
	}
	if len(mergeURLs("", nil)) != 0 {
		t.Error("expected empty result")
	}
}

func TestClaimDelays(t *testing.T) {
	cc := ClaimConfig{RetryBaseDelayMs: 250, RetryMaxDelayMs: 4000}
	if cc.BaseDelay().Milliseconds() != 250 || cc.MaxDelay().Seconds() != 4 {
		t.Errorf("unexpected delays %v %v", cc.BaseDelay(), cc.MaxDelay())
	}
}

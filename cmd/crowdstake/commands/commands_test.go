package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/staking"
	"github.com/crowdstake/crowdstake/internal/wallet"
)

const (
	testPool   = "0x00000000000000000000000000000000000000a1"
	testStaker = "0x00000000000000000000000000000000000000b1"
	newStaker  = "0x00000000000000000000000000000000000000b2"
	lockedOut  = "0x00000000000000000000000000000000000000b3"

	// 100 tokens at 9 decimals and 500 bps/day
	rewardsPerSecond = 57870
)

func TestNewEstimateCmd(t *testing.T) {
	cmd := NewEstimateCmd()

	if cmd == nil {
		t.Fatal("NewEstimateCmd returned nil")
	}
	if cmd.Use != "estimate" {
		t.Errorf("Use mismatch: got %s, want estimate", cmd.Use)
	}
	for _, name := range []string{"staked", "rate", "elapsed", "decimals"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag should exist", name)
		}
	}
}

func TestNewPoolCmd(t *testing.T) {
	cmd := NewPoolCmd()

	if cmd == nil {
		t.Fatal("NewPoolCmd returned nil")
	}
	if cmd.Use != "pool <pool-address>" {
		t.Errorf("Use mismatch: got %s, want pool <pool-address>", cmd.Use)
	}
}

func TestNewPositionCmd(t *testing.T) {
	cmd := NewPositionCmd()

	if cmd == nil {
		t.Fatal("NewPositionCmd returned nil")
	}
	if cmd.Use != "position <pool-address>" {
		t.Errorf("Use mismatch: got %s, want position <pool-address>", cmd.Use)
	}
	if cmd.Flags().Lookup("staker") == nil {
		t.Error("--staker flag should exist")
	}
}

func TestSubmitCmds(t *testing.T) {
	tests := []struct {
		cmd *cobra.Command
		use string
	}{
		{NewStakeCmd(), "stake <pool-address> <amount>"},
		{NewUnstakeCmd(), "unstake <pool-address> [amount]"},
		{NewClaimCmd(), "claim <pool-address>"},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			if tt.cmd.Use != tt.use {
				t.Errorf("Use mismatch: got %s, want %s", tt.cmd.Use, tt.use)
			}
			if tt.cmd.Flags().Lookup("staker") == nil {
				t.Error("--staker flag should exist")
			}
			yes := tt.cmd.Flags().Lookup("yes")
			if yes == nil || yes.Shorthand != "y" {
				t.Error("--yes/-y flag should exist")
			}
		})
	}
}

func TestNewWalletCmd(t *testing.T) {
	cmd := NewWalletCmd()

	if cmd.Use != "wallet" {
		t.Errorf("Use mismatch: got %s, want wallet", cmd.Use)
	}

	want := map[string]bool{"create": false, "import": false, "address": false, "forget": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Flags().Lookup("keystore") == nil {
			t.Errorf("wallet %s: --keystore flag should exist", sub.Name())
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("wallet %s subcommand should exist", name)
		}
	}
}

func TestNewServeCmd(t *testing.T) {
	cmd := NewServeCmd()

	if cmd.Use != "serve" {
		t.Errorf("Use mismatch: got %s, want serve", cmd.Use)
	}
	if cmd.Flags().Lookup("metrics-addr") == nil {
		t.Error("--metrics-addr flag should exist")
	}
}

func TestValidateGlobals(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"", false},
		{"text", false},
		{"json", false},
		{"yaml", true},
	}

	for _, tt := range tests {
		setGlobals(t, "", tt.format)
		if err := ValidateGlobals(); (err != nil) != tt.wantErr {
			t.Errorf("ValidateGlobals(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
	}
}

// setGlobals sets the global flags for one test.
func setGlobals(t *testing.T, cfgPath, format string) {
	t.Helper()
	prevPath, prevFormat := ConfigPath, OutputFormat
	ConfigPath, OutputFormat = cfgPath, format
	t.Cleanup(func() { ConfigPath, OutputFormat = prevPath, prevFormat })
}

// mockConfig writes a mock-mode config seeded with one open pool and two
// positions: testStaker an hour into an unlocked position, lockedOut still
// inside its lockup. It returns the config path.
func mockConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	now := time.Now().Unix()

	fixtures := fmt.Sprintf(`
pools:
  - address: %q
    campaign: "0x00000000000000000000000000000000000000c1"
    staked_tokens: "200000000000"
    pool_balance: "1000000000000"
    reward_rate: 500
    lockup_period: 604800
    start_time: %d
    stakers_count: 2
    active: true
stakers:
  - pool: %q
    staker: %q
    staked_amount: "100000000000"
    last_claim_time: %d
    staking_start_time: %d
    unstake_available_time: %d
  - pool: %q
    staker: %q
    staked_amount: "100000000000"
    last_claim_time: %d
    staking_start_time: %d
    unstake_available_time: %d
`,
		testPool, now-30*86400,
		testPool, testStaker, now-3600, now-30*86400, now-23*86400,
		testPool, lockedOut, now-3600, now-3600, now+604800-3600,
	)
	fixturesPath := filepath.Join(dir, "fixtures.yaml")
	if err := os.WriteFile(fixturesPath, []byte(fixtures), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Log.Level = "error"
	cfg.Ledger.Mock = true
	cfg.Ledger.Fixtures = fixturesPath
	cfg.Wallet.KeystoreDir = filepath.Join(dir, "keystore")
	cfg.Wallet.UseKeyring = false
	cfg.Claim.RetryBaseDelayMs = 1
	cfg.Claim.RetryMaxDelayMs = 1

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(cfgPath); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

// run executes cmd with args and returns its stdout.
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
}

func TestEstimate_JSON(t *testing.T) {
	setGlobals(t, filepath.Join(t.TempDir(), "none.yaml"), "json")

	out, err := run(t, NewEstimateCmd(), "--staked", "100", "--rate", "500", "--elapsed", "24h", "--decimals", "9")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	var res estimateResult
	decode(t, out, &res)
	if res.RewardsPerSecond.Int64() != rewardsPerSecond {
		t.Errorf("rewards per second = %s, want %d", res.RewardsPerSecond, rewardsPerSecond)
	}
	// Per-second truncation: one day pays 57870 * 86400, not 5% of 100 tokens.
	if res.Reward.Int64() != rewardsPerSecond*86400 {
		t.Errorf("reward = %s, want %d", res.Reward, rewardsPerSecond*86400)
	}
	if res.ElapsedSeconds != 86400 || res.StakedAmount.Int64() != 100_000_000_000 {
		t.Errorf("unexpected echo of inputs: %+v", res)
	}
}

func TestEstimate_Text(t *testing.T) {
	setGlobals(t, filepath.Join(t.TempDir(), "none.yaml"), "text")

	// Decimals come from the default config.
	out, err := run(t, NewEstimateCmd(), "--staked", "100", "--rate", "500")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	for _, want := range []string{"Reward Estimate", "4.999968", "Horizon", "365 days"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEstimate_Rejects(t *testing.T) {
	setGlobals(t, filepath.Join(t.TempDir(), "none.yaml"), "json")

	tests := [][]string{
		{"--staked", "-5", "--rate", "500"},
		{"--staked", "1.0000000001", "--rate", "500", "--decimals", "9"},
		{"--staked", "1", "--rate", "500", "--elapsed", "-1h"},
		{"--rate", "500"},
	}
	for _, args := range tests {
		if _, err := run(t, NewEstimateCmd(), args...); err == nil {
			t.Errorf("estimate %v: expected error", args)
		}
	}
}

func TestPool_JSON(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewPoolCmd(), testPool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	var sum staking.PoolSummary
	decode(t, out, &sum)
	if !sum.Open || sum.Unbounded {
		t.Errorf("expected open pool with bounded runway: %+v", sum)
	}
	if want := int64(2 * rewardsPerSecond * 86400); sum.DailyEmission.Int64() != want {
		t.Errorf("daily emission = %s, want %d", sum.DailyEmission, want)
	}
	if sum.Pool.StakersCount != 2 {
		t.Errorf("stakers count = %d, want 2", sum.Pool.StakersCount)
	}
}

func TestPool_Text(t *testing.T) {
	setGlobals(t, mockConfig(t), "text")

	out, err := run(t, NewPoolCmd(), testPool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, want := range []string{"500 bps/day", "open", "1,000", "Runway"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPool_Errors(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	if _, err := run(t, NewPoolCmd(), "not-an-address"); err == nil {
		t.Error("expected error for invalid address")
	}
	_, err := run(t, NewPoolCmd(), "0x00000000000000000000000000000000000000ff")
	if !errors.Is(err, ledger.ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestPosition_JSON(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewPositionCmd(), testPool, "--staker", testStaker)
	if err != nil {
		t.Fatalf("position: %v", err)
	}

	var pos staking.Position
	decode(t, out, &pos)
	if pos.Staker == nil || !pos.Eligible {
		t.Fatalf("expected an unlocked position: %+v", pos)
	}
	if floor := int64(rewardsPerSecond * 3600); pos.EstimatedReward.Int64() < floor {
		t.Errorf("estimated reward = %s, want at least %d", pos.EstimatedReward, floor)
	}
}

func TestPosition_AbsentStaker(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewPositionCmd(), testPool, "--staker", newStaker)
	if err != nil {
		t.Fatalf("position: %v", err)
	}

	var pos staking.Position
	decode(t, out, &pos)
	if pos.Staker != nil || pos.Eligible || pos.EstimatedReward.Sign() != 0 {
		t.Errorf("absent staker should have no position: %+v", pos)
	}
}

func TestPosition_NoWallet(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	_, err := run(t, NewPositionCmd(), testPool)
	if !errors.Is(err, wallet.ErrNoWallet) {
		t.Errorf("expected ErrNoWallet, got %v", err)
	}
}

func TestStake_JSON(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewStakeCmd(), testPool, "10", "--staker", newStaker, "--yes")
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	var receipt ledger.Receipt
	decode(t, out, &receipt)
	if receipt.Amount.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Errorf("staked %s, want 10 tokens", receipt.Amount)
	}
}

func TestStake_NeedsConfirmation(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	_, err := run(t, NewStakeCmd(), testPool, "10", "--staker", newStaker)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("expected confirmation error without a terminal, got %v", err)
	}
}

func TestStake_InvalidAmount(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	if _, err := run(t, NewStakeCmd(), testPool, "ten", "--staker", newStaker, "--yes"); err == nil {
		t.Error("expected error for invalid amount")
	}
}

func TestClaim_JSON(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewClaimCmd(), testPool, "--staker", testStaker, "--yes")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	var receipt ledger.Receipt
	decode(t, out, &receipt)
	if floor := int64(rewardsPerSecond * 3600); receipt.Amount.Int64() < floor {
		t.Errorf("claimed %s, want at least %d", receipt.Amount, floor)
	}
}

func TestClaim_NothingToClaim(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	_, err := run(t, NewClaimCmd(), testPool, "--staker", newStaker, "--yes")
	if !errors.Is(err, ledger.ErrNothingToClaim) {
		t.Errorf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestUnstake(t *testing.T) {
	setGlobals(t, mockConfig(t), "json")

	out, err := run(t, NewUnstakeCmd(), testPool, "--staker", testStaker, "--yes")
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	var receipt ledger.Receipt
	decode(t, out, &receipt)
	if receipt.Amount.Int64() != 100_000_000_000 {
		t.Errorf("withdrew %s, want the whole position", receipt.Amount)
	}

	_, err = run(t, NewUnstakeCmd(), testPool, "1", "--staker", lockedOut, "--yes")
	if !errors.Is(err, ledger.ErrLockupActive) {
		t.Errorf("expected ErrLockupActive, got %v", err)
	}
}

func TestWalletAddress(t *testing.T) {
	cfgPath := mockConfig(t)
	setGlobals(t, cfgPath, "json")

	if _, err := run(t, NewWalletCmd(), "address"); !errors.Is(err, wallet.ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	wm, err := wallet.Import(cfg.Wallet.KeystoreDir,
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	out, err := run(t, NewWalletCmd(), "address")
	if err != nil {
		t.Fatalf("wallet address: %v", err)
	}
	var info walletInfo
	decode(t, out, &info)
	if info.Address != wm.Address().Hex() || info.PasswordStored {
		t.Errorf("unexpected wallet info %+v", info)
	}

	// The wallet now stands in for --staker.
	out, err = run(t, NewPositionCmd(), testPool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	var pos staking.Position
	decode(t, out, &pos)
	if pos.Staker != nil {
		t.Errorf("wallet address has no position, got %+v", pos.Staker)
	}
}

func TestVersion_JSON(t *testing.T) {
	setGlobals(t, "", "json")

	out, err := run(t, NewVersionCmd())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info versionInfo
	decode(t, out, &info)
	if info.Version == "" || info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Errorf("incomplete version info %+v", info)
	}
}

func TestMonitor_ServesMetrics(t *testing.T) {
	cfgPath := mockConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := newMonitor(ctx, cfg, cfgPath)
	if err != nil {
		t.Fatalf("newMonitor: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.run(ctx) }()

	url := "http://" + m.metricsAddr() + "/metrics"
	var body []byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			body, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics endpoint never became ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(string(body), "crowdstake_uptime_seconds") {
		t.Errorf("metrics output missing uptime gauge:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

func TestMonitor_MetricsDisabled(t *testing.T) {
	cfg, err := config.Load(mockConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	m, err := newMonitor(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("newMonitor: %v", err)
	}
	defer m.sess.Close()
	if m.metricsAddr() != "" {
		t.Errorf("metrics should be disabled, got %s", m.metricsAddr())
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		v        *big.Int
		decimals int
		want     string
	}{
		{nil, 9, "0"},
		{big.NewInt(57870), 9, "0.00005787"},
		{big.NewInt(4_999_968_000), 9, "4.999968"},
		{big.NewInt(1_234_567_000_000_000), 9, "1,234,567"},
		{big.NewInt(-1_500_000_000_000), 9, "-1,500"},
		{big.NewInt(1234567), 0, "1,234,567"},
	}

	for _, tt := range tests {
		if got := FormatTokens(tt.v, tt.decimals); got != tt.want {
			t.Errorf("FormatTokens(%v, %d) = %q, want %q", tt.v, tt.decimals, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatAddress(testPool); got != "0x0000...00a1" {
		t.Errorf("FormatAddress = %q", got)
	}
	if got := FormatAddress("0xabc"); got != "0xabc" {
		t.Errorf("short address should be unchanged, got %q", got)
	}
	if got := FormatUnix(0); got != "-" {
		t.Errorf("FormatUnix(0) = %q", got)
	}
	if got := FormatUnix(1700000000); got != "2023-11-14T22:13:20Z" {
		t.Errorf("FormatUnix = %q", got)
	}
	if got := FormatDuration(0); got != "none" {
		t.Errorf("FormatDuration(0) = %q", got)
	}
	if got := FormatDuration(90*time.Minute + 400*time.Millisecond); got != "1h30m0s" {
		t.Errorf("FormatDuration = %q", got)
	}
}

func TestRenderTablePlain(t *testing.T) {
	got := renderTablePlain([]string{"Horizon", "Reward"}, [][]string{{"1 day", "4.999968"}})
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator and one row, got %q", got)
	}
	if !strings.HasPrefix(lines[1], "-------") || !strings.Contains(lines[2], "4.999968") {
		t.Errorf("unexpected table %q", got)
	}
}

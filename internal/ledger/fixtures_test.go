package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const fixtureYAML = `
pools:
  - address: "0x00000000000000000000000000000000000000a1"
    campaign: "0x00000000000000000000000000000000000000c1"
    staked_tokens: "100000000000"
    pool_balance: "1000000000000"
    reward_rate: 500
    lockup_period: 604800
    stakers_count: 1
    active: true
stakers:
  - pool: "0x00000000000000000000000000000000000000a1"
    staker: "0x00000000000000000000000000000000000000b1"
    staked_amount: "100000000000"
    last_claim_time: 1700000000
    staking_start_time: 1700000000
    unstake_available_time: 1700604800
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewMemoryLedgerFromFile(t *testing.T) {
	m, err := NewMemoryLedgerFromFile(writeFixture(t, fixtureYAML), newTestClock(t0+86400).Now)
	if err != nil {
		t.Fatalf("NewMemoryLedgerFromFile: %v", err)
	}

	pool := fetchPool(t, m)
	if pool.RewardRate != 500 || pool.PoolBalance.Int64() != 1_000_000_000_000 || !pool.Active {
		t.Errorf("unexpected pool %+v", pool)
	}
	if pool.Campaign != common.HexToAddress("0xc1") || pool.Creator != (common.Address{}) {
		t.Errorf("unexpected campaign %s creator %s", pool.Campaign.Hex(), pool.Creator.Hex())
	}

	info := fetchStaker(t, m, testStaker)
	if info.StakedAmount.Int64() != hundredToks || info.RewardsEarned.Sign() != 0 {
		t.Errorf("unexpected staker %+v", info)
	}

	// Seeded state behaves like live state.
	r, err := m.SubmitClaim(context.Background(), &ClaimRequest{Pool: testPool, Staker: testStaker, ExpectedLastClaimTime: t0})
	if err != nil {
		t.Fatalf("claim on seeded ledger: %v", err)
	}
	if r.Amount.Int64() != oneDayRate {
		t.Errorf("claimed %s, want %d", r.Amount, oneDayRate)
	}
}

func TestNewMemoryLedgerFromFile_EmptyPath(t *testing.T) {
	m, err := NewMemoryLedgerFromFile("", nil)
	if err != nil || m == nil {
		t.Fatalf("expected empty ledger, got %v", err)
	}
}

func TestLoadFixtures_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "pools: [", "failed to parse"},
		{"bad address", "pools:\n  - address: nope\n", "invalid address"},
		{"bad amount", "pools:\n  - address: \"0x00000000000000000000000000000000000000a1\"\n    pool_balance: ten\n", "invalid amount"},
		{"negative amount", "pools:\n  - address: \"0x00000000000000000000000000000000000000a1\"\n    staked_tokens: \"-1\"\n", "negative amount"},
		{"staker without pool", "stakers:\n  - pool: \"0x00000000000000000000000000000000000000a1\"\n    staker: \"0x00000000000000000000000000000000000000b1\"\n", "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemoryLedgerFromFile(writeFixture(t, tt.body), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

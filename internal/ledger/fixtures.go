package ledger

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/crowdstake/crowdstake/pkg/types"
)

// Fixtures seeds a MemoryLedger from YAML. Amounts are decimal strings in
// smallest token units.
type Fixtures struct {
	Pools   []PoolFixture   `yaml:"pools"`
	Stakers []StakerFixture `yaml:"stakers"`
}

// PoolFixture describes one pool.
type PoolFixture struct {
	Address      string `yaml:"address"`
	Campaign     string `yaml:"campaign"`
	Creator      string `yaml:"creator"`
	StakedTokens string `yaml:"staked_tokens"`
	PoolBalance  string `yaml:"pool_balance"`
	RewardRate   uint64 `yaml:"reward_rate"`
	LockupPeriod int64  `yaml:"lockup_period"`
	StartTime    int64  `yaml:"start_time"`
	EndTime      int64  `yaml:"end_time"`
	StakersCount uint64 `yaml:"stakers_count"`
	Active       bool   `yaml:"active"`
}

// StakerFixture describes one position.
type StakerFixture struct {
	Pool                 string `yaml:"pool"`
	Staker               string `yaml:"staker"`
	StakedAmount         string `yaml:"staked_amount"`
	RewardsEarned        string `yaml:"rewards_earned"`
	LastClaimTime        int64  `yaml:"last_claim_time"`
	StakingStartTime     int64  `yaml:"staking_start_time"`
	UnstakeAvailableTime int64  `yaml:"unstake_available_time"`
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &f, nil
}

// Apply seeds m with the fixtures' pools and then their stakers.
func (f *Fixtures) Apply(m *MemoryLedger) error {
	for i, pf := range f.Pools {
		pool, err := pf.toPool()
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if err := m.CreatePool(pool); err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
	}
	for i, sf := range f.Stakers {
		info, err := sf.toStaker()
		if err != nil {
			return fmt.Errorf("staker %d: %w", i, err)
		}
		if err := m.PutStaker(info); err != nil {
			return fmt.Errorf("staker %d: %w", i, err)
		}
	}
	return nil
}

// NewMemoryLedgerFromFile creates a MemoryLedger seeded from path. An
// empty path yields an empty ledger.
func NewMemoryLedgerFromFile(path string, clock func() int64) (*MemoryLedger, error) {
	m := NewMemoryLedger(clock)
	if path == "" {
		return m, nil
	}
	f, err := LoadFixtures(path)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (pf PoolFixture) toPool() (*types.StakingPool, error) {
	addr, err := parseAddress("address", pf.Address, true)
	if err != nil {
		return nil, err
	}
	campaign, err := parseAddress("campaign", pf.Campaign, false)
	if err != nil {
		return nil, err
	}
	creator, err := parseAddress("creator", pf.Creator, false)
	if err != nil {
		return nil, err
	}
	staked, err := parseUnits("staked_tokens", pf.StakedTokens)
	if err != nil {
		return nil, err
	}
	balance, err := parseUnits("pool_balance", pf.PoolBalance)
	if err != nil {
		return nil, err
	}
	return &types.StakingPool{
		Address:      addr,
		Campaign:     campaign,
		Creator:      creator,
		StakedTokens: staked,
		RewardRate:   pf.RewardRate,
		LockupPeriod: pf.LockupPeriod,
		StartTime:    pf.StartTime,
		EndTime:      pf.EndTime,
		PoolBalance:  balance,
		StakersCount: pf.StakersCount,
		Active:       pf.Active,
	}, nil
}

func (sf StakerFixture) toStaker() (*types.StakerInfo, error) {
	pool, err := parseAddress("pool", sf.Pool, true)
	if err != nil {
		return nil, err
	}
	staker, err := parseAddress("staker", sf.Staker, true)
	if err != nil {
		return nil, err
	}
	staked, err := parseUnits("staked_amount", sf.StakedAmount)
	if err != nil {
		return nil, err
	}
	earned, err := parseUnits("rewards_earned", sf.RewardsEarned)
	if err != nil {
		return nil, err
	}
	return &types.StakerInfo{
		StakingPool:          pool,
		Staker:               staker,
		StakedAmount:         staked,
		RewardsEarned:        earned,
		LastClaimTime:        sf.LastClaimTime,
		StakingStartTime:     sf.StakingStartTime,
		UnstakeAvailableTime: sf.UnstakeAvailableTime,
	}, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" && !required {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseUnits(field, s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: negative amount %q", field, s)
	}
	return v, nil
}

package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// BasisPointDenominator is the number of basis points in one whole unit
	BasisPointDenominator = 10000
	// SecondsPerDay is the accrual period a reward rate applies to
	SecondsPerDay = 86400
	// DefaultTokenDecimals is the smallest-unit precision of campaign tokens
	DefaultTokenDecimals = 9
)

// ErrMalformedSnapshot is returned by Validate for snapshots that violate
// the ledger's invariants (negative amounts or timestamps).
var ErrMalformedSnapshot = errors.New("malformed account snapshot")

// StakingPool is a campaign's reward pool as recorded by the ledger program.
type StakingPool struct {
	Address      common.Address `json:"address" yaml:"address"`
	Campaign     common.Address `json:"campaign" yaml:"campaign"`
	Creator      common.Address `json:"creator" yaml:"creator"`
	StakedTokens *big.Int       `json:"staked_tokens" yaml:"-"`
	RewardRate   uint64         `json:"reward_rate" yaml:"reward_rate"` // basis points per day
	LockupPeriod int64          `json:"lockup_period" yaml:"lockup_period"`
	StartTime    int64          `json:"start_time" yaml:"start_time"`
	EndTime      int64          `json:"end_time" yaml:"end_time"` // 0 = open ended
	PoolBalance  *big.Int       `json:"pool_balance" yaml:"-"`
	StakersCount uint64         `json:"stakers_count" yaml:"stakers_count"`
	Active       bool           `json:"active" yaml:"active"`
}

// InWindow reports whether now falls inside the pool's activity window.
func (p *StakingPool) InWindow(now int64) bool {
	if now < p.StartTime {
		return false
	}
	return p.EndTime == 0 || now < p.EndTime
}

// IsOpen reports whether the pool accepts new stake at now.
func (p *StakingPool) IsOpen(now int64) bool {
	return p.Active && p.InWindow(now)
}

// Validate checks the snapshot for values the ledger program can never produce.
func (p *StakingPool) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil pool", ErrMalformedSnapshot)
	}
	if isNegative(p.StakedTokens) {
		return fmt.Errorf("%w: negative staked tokens %s", ErrMalformedSnapshot, p.StakedTokens)
	}
	if isNegative(p.PoolBalance) {
		return fmt.Errorf("%w: negative pool balance %s", ErrMalformedSnapshot, p.PoolBalance)
	}
	if p.LockupPeriod < 0 || p.StartTime < 0 || p.EndTime < 0 {
		return fmt.Errorf("%w: negative pool time field", ErrMalformedSnapshot)
	}
	return nil
}

// Copy returns a deep copy of the pool.
func (p *StakingPool) Copy() *StakingPool {
	if p == nil {
		return nil
	}
	cp := *p
	cp.StakedTokens = copyAmount(p.StakedTokens)
	cp.PoolBalance = copyAmount(p.PoolBalance)
	return &cp
}

// StakerInfo is one staker's position in one pool.
type StakerInfo struct {
	StakingPool          common.Address `json:"staking_pool" yaml:"staking_pool"`
	Staker               common.Address `json:"staker" yaml:"staker"`
	StakedAmount         *big.Int       `json:"staked_amount" yaml:"-"`
	RewardsEarned        *big.Int       `json:"rewards_earned" yaml:"-"`
	LastClaimTime        int64          `json:"last_claim_time" yaml:"last_claim_time"`
	StakingStartTime     int64          `json:"staking_start_time" yaml:"staking_start_time"`
	UnstakeAvailableTime int64          `json:"unstake_available_time" yaml:"unstake_available_time"`
}

// IsClosed reports whether the position has been fully unstaked.
func (s *StakerInfo) IsClosed() bool {
	return s.StakedAmount == nil || s.StakedAmount.Sign() == 0
}

// Validate checks the snapshot for values the ledger program can never produce.
func (s *StakerInfo) Validate() error {
	if s == nil {
		return nil
	}
	if isNegative(s.StakedAmount) {
		return fmt.Errorf("%w: negative staked amount %s", ErrMalformedSnapshot, s.StakedAmount)
	}
	if isNegative(s.RewardsEarned) {
		return fmt.Errorf("%w: negative rewards earned %s", ErrMalformedSnapshot, s.RewardsEarned)
	}
	if s.LastClaimTime < 0 || s.StakingStartTime < 0 || s.UnstakeAvailableTime < 0 {
		return fmt.Errorf("%w: negative staker time field", ErrMalformedSnapshot)
	}
	return nil
}

// Copy returns a deep copy of the position.
func (s *StakerInfo) Copy() *StakerInfo {
	if s == nil {
		return nil
	}
	cp := *s
	cp.StakedAmount = copyAmount(s.StakedAmount)
	cp.RewardsEarned = copyAmount(s.RewardsEarned)
	return &cp
}

func isNegative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

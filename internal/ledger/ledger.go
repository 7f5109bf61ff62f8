// Package ledger reads staking accounts from, and submits staking
// transactions to, the ledger program that owns pool and staker state.
//
// Two implementations are provided: ContractLedger talks to a deployed
// staking program over JSON-RPC, MemoryLedger keeps the same state machine
// in process for tests and offline use.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdstake/crowdstake/pkg/types"
)

var (
	// ErrPoolNotFound is returned when no pool account exists at an address.
	ErrPoolNotFound = errors.New("staking pool not found")
	// ErrStaleState is returned when a request's expected last claim time no
	// longer matches the account; another transaction won the race.
	ErrStaleState = errors.New("staker account changed since snapshot")
	// ErrInsufficientPoolBalance is returned when the reward reserve cannot
	// cover a claim.
	ErrInsufficientPoolBalance = errors.New("insufficient pool reward balance")
	// ErrLockupActive is returned for an unstake before the lockup ends.
	ErrLockupActive = errors.New("stake is still locked")
	// ErrInsufficientStake is returned for an unstake above the staked amount.
	ErrInsufficientStake = errors.New("insufficient staked amount")
	// ErrPoolClosed is returned for a stake outside the pool's window or
	// into an inactive pool.
	ErrPoolClosed = errors.New("staking pool is closed")
	// ErrNothingToClaim is returned for a claim with no accrued rewards.
	ErrNothingToClaim = errors.New("no rewards to claim")
	// ErrInvalidAmount is returned for a zero or negative amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidSnapshot is returned when an account decoded from the
	// ledger violates its invariants.
	ErrInvalidSnapshot = errors.New("invalid account snapshot")
	// ErrSignerMismatch is returned when a request names a staker other
	// than the signing wallet.
	ErrSignerMismatch = errors.New("request staker does not match signer")
	// ErrNotConnected is returned when no RPC endpoint is available.
	ErrNotConnected = errors.New("not connected to ledger")
)

// AccountReader fetches account snapshots. Every call is a fresh read;
// implementations never serve cached state.
type AccountReader interface {
	// FetchStakingPool returns ErrPoolNotFound when no pool exists.
	FetchStakingPool(ctx context.Context, pool common.Address) (*types.StakingPool, error)
	// FetchStakerInfo returns (nil, nil) when staker never staked in pool.
	FetchStakerInfo(ctx context.Context, pool, staker common.Address) (*types.StakerInfo, error)
}

// Submitter submits state-changing requests to the ledger program.
type Submitter interface {
	SubmitStake(ctx context.Context, req *StakeRequest) (*Receipt, error)
	SubmitUnstake(ctx context.Context, req *UnstakeRequest) (*Receipt, error)
	SubmitClaim(ctx context.Context, req *ClaimRequest) (*Receipt, error)
}

// EventSource streams pool events until ctx is cancelled.
type EventSource interface {
	Subscribe(ctx context.Context, ch chan<- *PoolEvent) error
}

// Ledger is the read and write surface the staking service needs.
type Ledger interface {
	AccountReader
	Submitter
}

// StakeRequest adds Amount to Staker's position in Pool.
// ExpectedLastClaimTime is 0 for a first stake.
type StakeRequest struct {
	Pool                  common.Address
	Staker                common.Address
	Amount                *big.Int
	ExpectedLastClaimTime int64
}

// UnstakeRequest withdraws Amount from Staker's position in Pool.
type UnstakeRequest struct {
	Pool                  common.Address
	Staker                common.Address
	Amount                *big.Int
	ExpectedLastClaimTime int64
}

// ClaimRequest pays out rewards accrued since ExpectedLastClaimTime.
type ClaimRequest struct {
	Pool                  common.Address
	Staker                common.Address
	ExpectedLastClaimTime int64
}

// Receipt describes an accepted submission.
type Receipt struct {
	TxHash common.Hash `json:"tx_hash"`
	Amount *big.Int    `json:"amount"` // staked, withdrawn or claimed
	Block  uint64      `json:"block"`
}

// EventKind names a pool event.
type EventKind string

const (
	EventStaked         EventKind = "staked"
	EventUnstaked       EventKind = "unstaked"
	EventRewardsClaimed EventKind = "rewards_claimed"
)

// PoolEvent is a state change observed on a pool.
type PoolEvent struct {
	Kind   EventKind      `json:"kind"`
	Pool   common.Address `json:"pool"`
	Staker common.Address `json:"staker"`
	Amount *big.Int       `json:"amount"`
	Block  uint64         `json:"block"`
	TxHash common.Hash    `json:"tx_hash"`
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Package rewards computes staking reward accrual and lockup eligibility
// from pool and staker snapshots.
//
// Everything here is pure: functions read the snapshots passed in and never
// mutate them, so they are safe to call concurrently. Persisting a claim is
// the ledger program's job.
package rewards

import (
	"math/big"
	"time"

	"github.com/crowdstake/crowdstake/pkg/types"
)

var (
	bpsDenominator = big.NewInt(types.BasisPointDenominator)
	secondsPerDay  = big.NewInt(types.SecondsPerDay)
)

// RewardsPerSecond returns floor(stakedAmount * rewardRate / 10000 / 86400).
// The result is truncated, never rounded: accrual history on the ledger
// depends on this exact bias.
func RewardsPerSecond(pool *types.StakingPool, staker *types.StakerInfo) *big.Int {
	if pool == nil || staker == nil || staker.StakedAmount == nil {
		return new(big.Int)
	}
	return perSecond(staker.StakedAmount, pool.RewardRate)
}

// EstimatedRewards returns the rewards accrued since the last claim as of
// the current wall-clock time.
func EstimatedRewards(pool *types.StakingPool, staker *types.StakerInfo) *big.Int {
	return EstimatedRewardsAt(pool, staker, time.Now().Unix())
}

// EstimatedRewardsAt returns the rewards accrued between staker.LastClaimTime
// and now. The result is zero for an absent staker, an empty position, or
// when no time has elapsed. A now earlier than the last claim is treated as
// zero elapsed time.
func EstimatedRewardsAt(pool *types.StakingPool, staker *types.StakerInfo, now int64) *big.Int {
	rps := RewardsPerSecond(pool, staker)
	if rps.Sign() == 0 {
		return rps
	}

	elapsed := now - staker.LastClaimTime
	if elapsed <= 0 {
		return new(big.Int)
	}
	return rps.Mul(rps, big.NewInt(elapsed))
}

// ProjectedRewards estimates what stakedAmount would accrue in pool over
// duration, using the same truncation as EstimatedRewardsAt.
func ProjectedRewards(pool *types.StakingPool, stakedAmount *big.Int, duration time.Duration) *big.Int {
	if pool == nil || stakedAmount == nil {
		return new(big.Int)
	}
	secs := int64(duration / time.Second)
	if secs <= 0 {
		return new(big.Int)
	}
	rps := perSecond(stakedAmount, pool.RewardRate)
	return rps.Mul(rps, big.NewInt(secs))
}

// DailyEmission returns the rewards the whole pool pays per day at its
// current total stake.
func DailyEmission(pool *types.StakingPool) *big.Int {
	if pool == nil {
		return new(big.Int)
	}
	return ProjectedRewards(pool, pool.StakedTokens, types.SecondsPerDay*time.Second)
}

func perSecond(staked *big.Int, rate uint64) *big.Int {
	// Negative stake is a caller contract violation; never emit a negative reward.
	if staked.Sign() <= 0 || rate == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(staked, new(big.Int).SetUint64(rate))
	v.Quo(v, bpsDenominator)
	return v.Quo(v, secondsPerDay)
}

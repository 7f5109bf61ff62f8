// Package staking is the operational layer over the ledger: it reads fresh
// pool and staker snapshots, applies the reward calculator and lockup check,
// and submits stake, unstake and claim requests guarded by the snapshot's
// last claim time.
package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/metrics"
	"github.com/crowdstake/crowdstake/internal/rewards"
	"github.com/crowdstake/crowdstake/internal/util"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// Submission operation labels
const (
	OpStake   = "stake"
	OpUnstake = "unstake"
	OpClaim   = "claim"
)

// ServiceConfig holds configuration for the staking service
type ServiceConfig struct {
	// ClaimRetry controls resubmission after ErrStaleState. RetryIf is
	// always overridden to retry only stale rejections.
	ClaimRetry *util.RetryConfig

	// Clock returns the current unix time used for estimates. Nil uses the
	// wall clock.
	Clock func() int64
}

// DefaultServiceConfig returns sensible defaults
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ClaimRetry: &util.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.1,
		},
	}
}

// NewServiceConfig builds a service configuration from the claim section of
// the config file.
func NewServiceConfig(cc config.ClaimConfig) *ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.ClaimRetry.MaxRetries = cc.MaxRetries
	cfg.ClaimRetry.BaseDelay = cc.BaseDelay()
	cfg.ClaimRetry.MaxDelay = cc.MaxDelay()
	return cfg
}

// Service runs staking operations against a ledger. It never caches
// snapshots: every operation refetches the accounts it reasons about.
type Service struct {
	ledger  ledger.Ledger
	metrics *metrics.Collector
	config  *ServiceConfig
	now     func() int64
}

// NewService creates a staking service. collector may be nil.
func NewService(l ledger.Ledger, collector *metrics.Collector, cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.ClaimRetry == nil {
		cfg.ClaimRetry = DefaultServiceConfig().ClaimRetry
	}
	now := cfg.Clock
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Service{
		ledger:  l,
		metrics: collector,
		config:  cfg,
		now:     now,
	}
}

// Position is a staker's view of one pool at a point in time.
type Position struct {
	Pool            *types.StakingPool `json:"pool"`
	Staker          *types.StakerInfo  `json:"staker,omitempty"` // nil when never staked
	EstimatedReward *big.Int           `json:"estimated_reward"`
	Eligible        bool               `json:"unstake_eligible"`
	UnlockRemaining time.Duration      `json:"unlock_remaining"`
	AsOf            int64              `json:"as_of"`
}

// PoolSummary is a pool snapshot with derived emission figures. RunwayDays
// is how many days the reward reserve lasts at the current emission;
// Unbounded is set instead when nothing is being emitted.
type PoolSummary struct {
	Pool          *types.StakingPool `json:"pool"`
	Open          bool               `json:"open"`
	DailyEmission *big.Int           `json:"daily_emission"`
	RunwayDays    float64            `json:"runway_days"`
	Unbounded     bool               `json:"runway_unbounded"`
	AsOf          int64              `json:"as_of"`
}

// Now returns the service's current unix time.
func (s *Service) Now() int64 {
	return s.now()
}

// PoolSummary fetches pool and derives its emission and reserve runway.
func (s *Service) PoolSummary(ctx context.Context, pool common.Address) (*PoolSummary, error) {
	p, err := s.fetchPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	now := s.now()

	sum := &PoolSummary{
		Pool:          p,
		Open:          p.IsOpen(now),
		DailyEmission: rewards.DailyEmission(p),
		AsOf:          now,
	}
	if sum.DailyEmission.Sign() == 0 {
		sum.Unbounded = true
	} else {
		runway, _ := new(big.Rat).SetFrac(p.PoolBalance, sum.DailyEmission).Float64()
		sum.RunwayDays = runway
	}
	return sum, nil
}

// Position fetches pool and staker and estimates the staker's rewards.
func (s *Service) Position(ctx context.Context, pool, staker common.Address) (*Position, error) {
	p, info, err := s.fetch(ctx, pool, staker)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &Position{
		Pool:            p,
		Staker:          info,
		EstimatedReward: rewards.EstimatedRewardsAt(p, info, now),
		Eligible:        rewards.IsUnstakeEligibleAt(info, now),
		UnlockRemaining: rewards.UnlockRemaining(info, now),
		AsOf:            now,
	}, nil
}

// Claim pays out staker's accrued rewards. The snapshot is refetched
// immediately before the request is built, and the request carries the
// snapshot's last claim time so a concurrent claim makes it fail with
// ledger.ErrStaleState instead of paying twice.
func (s *Service) Claim(ctx context.Context, pool, staker common.Address) (*ledger.Receipt, error) {
	p, info, err := s.fetch(ctx, pool, staker)
	if err != nil {
		return nil, err
	}

	estimate := rewards.EstimatedRewardsAt(p, info, s.now())
	if estimate.Sign() == 0 {
		return nil, ledger.ErrNothingToClaim
	}
	if p.PoolBalance.Cmp(estimate) < 0 {
		return nil, fmt.Errorf("%w: claim %s exceeds reserve %s",
			ledger.ErrInsufficientPoolBalance, estimate, p.PoolBalance)
	}

	receipt, err := s.ledger.SubmitClaim(ctx, &ledger.ClaimRequest{
		Pool:                  pool,
		Staker:                staker,
		ExpectedLastClaimTime: info.LastClaimTime,
	})
	s.metrics.RecordSubmission(OpClaim, err)
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	s.metrics.AddClaimedRewards(receipt.Amount)
	logging.Info("rewards claimed",
		logging.Pool(pool),
		logging.Staker(staker),
		logging.Amount("amount", receipt.Amount),
		logging.Amount("estimated", estimate),
		logging.TxHash(receipt.TxHash))
	return receipt, nil
}

// ClaimWithRetry is Claim, resubmitted from a fresh snapshot with
// exponential backoff whenever the ledger rejects it as stale. Any other
// error ends the attempt.
func (s *Service) ClaimWithRetry(ctx context.Context, pool, staker common.Address) (*ledger.Receipt, error) {
	retry := *s.config.ClaimRetry
	retry.RetryIf = util.RetryOn(ledger.ErrStaleState)

	attempt := 0
	receipt, res := util.RetryWithValue(ctx, &retry, func() (*ledger.Receipt, error) {
		attempt++
		if attempt > 1 {
			s.metrics.RecordStaleRetry()
			logging.Warn("claim rejected as stale, retrying from fresh snapshot",
				logging.Pool(pool), logging.Staker(staker), "attempt", attempt)
		}
		return s.Claim(ctx, pool, staker)
	})
	if res.LastError != nil {
		return nil, res.LastError
	}
	return receipt, nil
}

// Stake adds amount to staker's position. The pool must be open.
func (s *Service) Stake(ctx context.Context, pool, staker common.Address, amount *big.Int) (*ledger.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	p, info, err := s.fetch(ctx, pool, staker)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen(s.now()) {
		return nil, ledger.ErrPoolClosed
	}

	req := &ledger.StakeRequest{Pool: pool, Staker: staker, Amount: new(big.Int).Set(amount)}
	if info != nil {
		req.ExpectedLastClaimTime = info.LastClaimTime
	}

	receipt, err := s.ledger.SubmitStake(ctx, req)
	s.metrics.RecordSubmission(OpStake, err)
	if err != nil {
		return nil, fmt.Errorf("stake failed: %w", err)
	}
	logging.Info("stake submitted",
		logging.Pool(pool),
		logging.Staker(staker),
		logging.Amount("amount", amount),
		logging.TxHash(receipt.TxHash))
	return receipt, nil
}

// Unstake withdraws amount from staker's position, or the whole position
// when amount is nil. The lockup must have ended.
func (s *Service) Unstake(ctx context.Context, pool, staker common.Address, amount *big.Int) (*ledger.Receipt, error) {
	if amount != nil && amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	_, info, err := s.fetch(ctx, pool, staker)
	if err != nil {
		return nil, err
	}
	if info == nil || info.IsClosed() {
		return nil, fmt.Errorf("%w: nothing staked", ledger.ErrInsufficientStake)
	}

	now := s.now()
	if !rewards.IsUnstakeEligibleAt(info, now) {
		return nil, fmt.Errorf("%w: unlocks in %s", ledger.ErrLockupActive, rewards.UnlockRemaining(info, now))
	}
	if amount == nil {
		amount = info.StakedAmount
	}
	if amount.Cmp(info.StakedAmount) > 0 {
		return nil, fmt.Errorf("%w: requested %s, staked %s", ledger.ErrInsufficientStake, amount, info.StakedAmount)
	}

	receipt, err := s.ledger.SubmitUnstake(ctx, &ledger.UnstakeRequest{
		Pool:                  pool,
		Staker:                staker,
		Amount:                new(big.Int).Set(amount),
		ExpectedLastClaimTime: info.LastClaimTime,
	})
	s.metrics.RecordSubmission(OpUnstake, err)
	if err != nil {
		return nil, fmt.Errorf("unstake failed: %w", err)
	}
	logging.Info("unstake submitted",
		logging.Pool(pool),
		logging.Staker(staker),
		logging.Amount("amount", amount),
		logging.TxHash(receipt.TxHash))
	return receipt, nil
}

func (s *Service) fetch(ctx context.Context, pool, staker common.Address) (*types.StakingPool, *types.StakerInfo, error) {
	p, err := s.fetchPool(ctx, pool)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	info, err := s.ledger.FetchStakerInfo(ctx, pool, staker)
	s.metrics.RecordFetch("staker", time.Since(start), err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch staker: %w", err)
	}
	return p, info, nil
}

func (s *Service) fetchPool(ctx context.Context, pool common.Address) (*types.StakingPool, error) {
	start := time.Now()
	p, err := s.ledger.FetchStakingPool(ctx, pool)
	s.metrics.RecordFetch("pool", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool: %w", err)
	}
	return p, nil
}

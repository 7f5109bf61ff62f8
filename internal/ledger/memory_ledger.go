package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/rewards"
	"github.com/crowdstake/crowdstake/internal/util"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// MemoryLedger is an in-process ledger with the staking program's rules:
// staleness guard, reward reserve check, settlement of pending rewards on
// stake and unstake, lockup enforcement and the pool activity window.
// Mutations are serialised by a single mutex.
type MemoryLedger struct {
	mu          sync.Mutex
	clock       func() int64
	pools       map[common.Address]*types.StakingPool
	stakers     map[common.Address]map[common.Address]*types.StakerInfo
	subscribers map[chan<- *PoolEvent]struct{}
	block       uint64
}

// NewMemoryLedger creates an empty ledger. clock returns unix seconds;
// nil uses the wall clock.
func NewMemoryLedger(clock func() int64) *MemoryLedger {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &MemoryLedger{
		clock:       clock,
		pools:       make(map[common.Address]*types.StakingPool),
		stakers:     make(map[common.Address]map[common.Address]*types.StakerInfo),
		subscribers: make(map[chan<- *PoolEvent]struct{}),
	}
}

// Now returns the ledger's current time.
func (m *MemoryLedger) Now() int64 {
	return m.clock()
}

// CreatePool registers a pool. Nil amounts are treated as zero.
func (m *MemoryLedger) CreatePool(pool *types.StakingPool) error {
	if pool == nil || pool.Address == (common.Address{}) {
		return fmt.Errorf("pool address is required")
	}
	if err := pool.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[pool.Address]; exists {
		return fmt.Errorf("pool %s already exists", pool.Address.Hex())
	}
	m.pools[pool.Address] = pool.Copy()
	m.stakers[pool.Address] = make(map[common.Address]*types.StakerInfo)
	return nil
}

// FundPool adds amount to a pool's reward reserve.
func (m *MemoryLedger) FundPool(pool common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[pool]
	if !ok {
		return ErrPoolNotFound
	}
	p.PoolBalance.Add(p.PoolBalance, amount)
	return nil
}

// PutStaker stores a position verbatim. Pool totals are not adjusted.
func (m *MemoryLedger) PutStaker(info *types.StakerInfo) error {
	if info == nil {
		return fmt.Errorf("staker is required")
	}
	if err := info.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accounts, ok := m.stakers[info.StakingPool]
	if !ok {
		return ErrPoolNotFound
	}
	accounts[info.Staker] = info.Copy()
	return nil
}

// FetchStakingPool returns a copy of the pool.
func (m *MemoryLedger) FetchStakingPool(ctx context.Context, pool common.Address) (*types.StakingPool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[pool]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p.Copy(), nil
}

// FetchStakerInfo returns a copy of the position, or (nil, nil) if the
// staker never staked in pool.
func (m *MemoryLedger) FetchStakerInfo(ctx context.Context, pool, staker common.Address) (*types.StakerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accounts, ok := m.stakers[pool]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return accounts[staker].Copy(), nil
}

// SubmitStake adds to a position, settling rewards accrued so far.
// A first stake (or a stake into a fully withdrawn position) starts a new
// lockup period.
func (m *MemoryLedger) SubmitStake(ctx context.Context, req *StakeRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !positive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[req.Pool]
	if !ok {
		return nil, ErrPoolNotFound
	}
	now := m.clock()
	if !pool.IsOpen(now) {
		return nil, ErrPoolClosed
	}

	st := m.stakers[req.Pool][req.Staker]
	if err := checkExpected(st, req.ExpectedLastClaimTime); err != nil {
		return nil, err
	}

	if st == nil {
		st = &types.StakerInfo{
			StakingPool:   req.Pool,
			Staker:        req.Staker,
			StakedAmount:  big.NewInt(0),
			RewardsEarned: big.NewInt(0),
		}
		m.stakers[req.Pool][req.Staker] = st
	} else {
		m.settle(pool, st, now)
	}

	if st.IsClosed() {
		pool.StakersCount++
		st.StakingStartTime = now
		st.UnstakeAvailableTime = 0
		if pool.LockupPeriod > 0 {
			st.UnstakeAvailableTime = now + pool.LockupPeriod
		}
	}

	amount := new(big.Int).Set(req.Amount)
	st.StakedAmount.Add(st.StakedAmount, amount)
	pool.StakedTokens.Add(pool.StakedTokens, amount)
	st.LastClaimTime = now

	return m.commit(EventStaked, req.Pool, req.Staker, amount), nil
}

// SubmitUnstake withdraws from a position once its lockup has ended,
// settling rewards accrued so far.
func (m *MemoryLedger) SubmitUnstake(ctx context.Context, req *UnstakeRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !positive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[req.Pool]
	if !ok {
		return nil, ErrPoolNotFound
	}
	st := m.stakers[req.Pool][req.Staker]
	if st == nil || st.IsClosed() {
		return nil, ErrInsufficientStake
	}
	if err := checkExpected(st, req.ExpectedLastClaimTime); err != nil {
		return nil, err
	}

	now := m.clock()
	if !rewards.IsUnstakeEligibleAt(st, now) {
		return nil, fmt.Errorf("%w: unlocks in %s", ErrLockupActive, rewards.UnlockRemaining(st, now))
	}
	if req.Amount.Cmp(st.StakedAmount) > 0 {
		return nil, fmt.Errorf("%w: requested %s, staked %s", ErrInsufficientStake, req.Amount, st.StakedAmount)
	}

	m.settle(pool, st, now)

	amount := new(big.Int).Set(req.Amount)
	st.StakedAmount.Sub(st.StakedAmount, amount)
	pool.StakedTokens.Sub(pool.StakedTokens, amount)
	st.LastClaimTime = now
	if st.IsClosed() && pool.StakersCount > 0 {
		pool.StakersCount--
	}

	return m.commit(EventUnstaked, req.Pool, req.Staker, amount), nil
}

// SubmitClaim pays out rewards accrued since the last claim. The claim is
// rejected whole if the reserve cannot cover it.
func (m *MemoryLedger) SubmitClaim(ctx context.Context, req *ClaimRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[req.Pool]
	if !ok {
		return nil, ErrPoolNotFound
	}
	st := m.stakers[req.Pool][req.Staker]
	if st == nil {
		return nil, ErrNothingToClaim
	}
	if err := checkExpected(st, req.ExpectedLastClaimTime); err != nil {
		return nil, err
	}

	now := m.clock()
	reward := rewards.EstimatedRewardsAt(pool, st, now)
	if reward.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if reward.Cmp(pool.PoolBalance) > 0 {
		return nil, fmt.Errorf("%w: reward %s, balance %s", ErrInsufficientPoolBalance, reward, pool.PoolBalance)
	}

	pool.PoolBalance.Sub(pool.PoolBalance, reward)
	st.RewardsEarned.Add(st.RewardsEarned, reward)
	st.LastClaimTime = now

	return m.commit(EventRewardsClaimed, req.Pool, req.Staker, reward), nil
}

// Subscribe delivers events for every accepted submission to ch until ctx
// is cancelled, then closes ch. Events are dropped if ch is full.
func (m *MemoryLedger) Subscribe(ctx context.Context, ch chan<- *PoolEvent) error {
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	util.SafeGoWithName("memory-ledger-subscriber", func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.mu.Unlock()
	})
	return nil
}

// settle pays out pending rewards before a position changes size. The
// payout is capped at the reserve so a depleted pool never blocks a
// withdrawal (must hold lock).
func (m *MemoryLedger) settle(pool *types.StakingPool, st *types.StakerInfo, now int64) {
	pending := rewards.EstimatedRewardsAt(pool, st, now)
	if pending.Cmp(pool.PoolBalance) > 0 {
		logging.Warn("pool reserve short, settling partially",
			logging.Pool(pool.Address), logging.Amount("pending", pending), logging.Amount("balance", pool.PoolBalance))
		pending = new(big.Int).Set(pool.PoolBalance)
	}
	pool.PoolBalance.Sub(pool.PoolBalance, pending)
	st.RewardsEarned.Add(st.RewardsEarned, pending)
}

// commit advances the block, emits the event and builds the receipt
// (must hold lock).
func (m *MemoryLedger) commit(kind EventKind, pool, staker common.Address, amount *big.Int) *Receipt {
	m.block++

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.block)
	hash := crypto.Keccak256Hash([]byte(kind), pool.Bytes(), staker.Bytes(), seq[:])

	ev := &PoolEvent{
		Kind:   kind,
		Pool:   pool,
		Staker: staker,
		Amount: new(big.Int).Set(amount),
		Block:  m.block,
		TxHash: hash,
	}
	for sub := range m.subscribers {
		select {
		case sub <- ev:
		default:
			logging.Warn("memory ledger: event channel full, dropping", "kind", string(kind))
		}
	}

	return &Receipt{TxHash: hash, Amount: new(big.Int).Set(amount), Block: m.block}
}

// checkExpected enforces the staleness guard. An absent account has an
// implicit last claim time of 0.
func checkExpected(st *types.StakerInfo, expected int64) error {
	var actual int64
	if st != nil {
		actual = st.LastClaimTime
	}
	if expected != actual {
		return fmt.Errorf("%w: expected last claim %d, account has %d", ErrStaleState, expected, actual)
	}
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// revertReasons maps staking program revert strings to sentinel errors.
var revertReasons = map[string]error{
	"PoolNotFound":            ErrPoolNotFound,
	"StaleState":              ErrStaleState,
	"InsufficientPoolBalance": ErrInsufficientPoolBalance,
	"LockupActive":            ErrLockupActive,
	"InsufficientStake":       ErrInsufficientStake,
	"PoolClosed":              ErrPoolClosed,
	"NothingToClaim":          ErrNothingToClaim,
	"InvalidAmount":           ErrInvalidAmount,
}

// poolTuple mirrors the getPool return tuple.
type poolTuple struct {
	Campaign     common.Address
	Creator      common.Address
	StakedTokens *big.Int
	RewardRate   uint64
	LockupPeriod uint64
	StartTime    uint64
	EndTime      uint64
	PoolBalance  *big.Int
	StakersCount uint64
	Active       bool
	Exists       bool
}

// stakerTuple mirrors the getStakerInfo return tuple.
type stakerTuple struct {
	StakedAmount         *big.Int
	RewardsEarned        *big.Int
	LastClaimTime        uint64
	StakingStartTime     uint64
	UnstakeAvailableTime uint64
	Exists               bool
}

// ContractLedger reads and writes staking accounts through the deployed
// staking program.
type ContractLedger struct {
	baseClient   *BaseClient
	token        *TokenContract
	contractABI  abi.ABI
	contractAddr common.Address
}

// NewContractLedger binds the staking program at programAddr. token may be
// nil when stakes are pre-approved.
func NewContractLedger(baseClient *BaseClient, programAddr common.Address, token *TokenContract) (*ContractLedger, error) {
	parsedABI, err := abi.JSON(strings.NewReader(StakingProgramABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking program ABI: %w", err)
	}
	return &ContractLedger{
		baseClient:   baseClient,
		token:        token,
		contractABI:  parsedABI,
		contractAddr: programAddr,
	}, nil
}

// Address returns the staking program address
func (cl *ContractLedger) Address() common.Address {
	return cl.contractAddr
}

func (cl *ContractLedger) bound(c *ethclient.Client) *bind.BoundContract {
	return bind.NewBoundContract(cl.contractAddr, cl.contractABI, c, c, c)
}

func (cl *ContractLedger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := cl.baseClient.Do(ctx, func(c *ethclient.Client) error {
		return cl.bound(c).Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	})
	return out, err
}

// FetchStakingPool returns a fresh snapshot of pool.
func (cl *ContractLedger) FetchStakingPool(ctx context.Context, pool common.Address) (*types.StakingPool, error) {
	out, err := cl.call(ctx, "getPool", pool)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool %s: %w", pool.Hex(), mapRevert(err))
	}
	var t poolTuple
	if err := convertTuple(out, &t); err != nil {
		return nil, err
	}
	if !t.Exists {
		return nil, ErrPoolNotFound
	}
	return t.toPool(pool)
}

// FetchStakerInfo returns a fresh snapshot of staker's position in pool,
// or (nil, nil) if staker never staked there.
func (cl *ContractLedger) FetchStakerInfo(ctx context.Context, pool, staker common.Address) (*types.StakerInfo, error) {
	out, err := cl.call(ctx, "getStakerInfo", pool, staker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staker %s: %w", staker.Hex(), mapRevert(err))
	}
	var t stakerTuple
	if err := convertTuple(out, &t); err != nil {
		return nil, err
	}
	if !t.Exists {
		return nil, nil
	}
	return t.toStaker(pool, staker)
}

// SubmitStake approves the token transfer if needed and stakes.
func (cl *ContractLedger) SubmitStake(ctx context.Context, req *StakeRequest) (*Receipt, error) {
	if err := cl.checkSigner(req.Staker); err != nil {
		return nil, err
	}
	if !positive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	expected, err := expectedTime(req.ExpectedLastClaimTime)
	if err != nil {
		return nil, err
	}
	if cl.token != nil {
		if err := cl.token.EnsureAllowance(ctx, cl.contractAddr, req.Amount); err != nil {
			return nil, fmt.Errorf("failed to approve stake: %w", err)
		}
	}
	return cl.transact(ctx, EventStaked, req.Staker, "stake", req.Pool, req.Amount, expected)
}

// SubmitUnstake withdraws stake.
func (cl *ContractLedger) SubmitUnstake(ctx context.Context, req *UnstakeRequest) (*Receipt, error) {
	if err := cl.checkSigner(req.Staker); err != nil {
		return nil, err
	}
	if !positive(req.Amount) {
		return nil, ErrInvalidAmount
	}
	expected, err := expectedTime(req.ExpectedLastClaimTime)
	if err != nil {
		return nil, err
	}
	return cl.transact(ctx, EventUnstaked, req.Staker, "unstake", req.Pool, req.Amount, expected)
}

// SubmitClaim pays out accrued rewards.
func (cl *ContractLedger) SubmitClaim(ctx context.Context, req *ClaimRequest) (*Receipt, error) {
	if err := cl.checkSigner(req.Staker); err != nil {
		return nil, err
	}
	expected, err := expectedTime(req.ExpectedLastClaimTime)
	if err != nil {
		return nil, err
	}
	return cl.transact(ctx, EventRewardsClaimed, req.Staker, "claimRewards", req.Pool, expected)
}

// Subscribe streams pool events from the staking program. See EventWatcher.
func (cl *ContractLedger) Subscribe(ctx context.Context, ch chan<- *PoolEvent) error {
	return NewEventWatcher(cl.baseClient, cl).Subscribe(ctx, ch)
}

func (cl *ContractLedger) checkSigner(staker common.Address) error {
	if cl.baseClient.Address() != staker {
		return fmt.Errorf("%w: signer %s, staker %s", ErrSignerMismatch, cl.baseClient.Address().Hex(), staker.Hex())
	}
	return nil
}

// transact sends method, waits for confirmation and reads the amount from
// the emitted event.
func (cl *ContractLedger) transact(ctx context.Context, kind EventKind, staker common.Address, method string, args ...interface{}) (*Receipt, error) {
	auth, err := cl.baseClient.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}

	var tx *ethtypes.Transaction
	err = cl.baseClient.Do(ctx, func(c *ethclient.Client) error {
		var err error
		tx, err = cl.bound(c).Transact(auth, method, args...)
		return err
	})
	if err != nil {
		cl.baseClient.ReleaseNonce(ctx, auth.Nonce.Uint64(), err)
		return nil, fmt.Errorf("%s failed: %w", method, mapRevert(err))
	}
	logging.Info("transaction submitted", "method", method, logging.TxHash(tx.Hash()))

	receipt, err := cl.baseClient.WaitForTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s not confirmed: %w", method, err)
	}

	out := &Receipt{TxHash: tx.Hash(), Amount: big.NewInt(0)}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	for _, l := range receipt.Logs {
		ev, err := cl.decodeEvent(*l)
		if err != nil || ev.Kind != kind || ev.Staker != staker {
			continue
		}
		out.Amount = ev.Amount
		break
	}
	return out, nil
}

// decodeEvent turns a staking program log into a PoolEvent.
func (cl *ContractLedger) decodeEvent(l ethtypes.Log) (*PoolEvent, error) {
	if l.Address != cl.contractAddr {
		return nil, fmt.Errorf("log from unexpected address %s", l.Address.Hex())
	}
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("log has %d topics, want 3", len(l.Topics))
	}
	ev, err := cl.contractABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, err
	}

	var kind EventKind
	switch ev.Name {
	case "Staked":
		kind = EventStaked
	case "Unstaked":
		kind = EventUnstaked
	case "RewardsClaimed":
		kind = EventRewardsClaimed
	default:
		return nil, fmt.Errorf("unknown event %s", ev.Name)
	}

	values, err := cl.contractABI.Unpack(ev.Name, l.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", ev.Name, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s payload", ev.Name)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s payload", ev.Name)
	}

	return &PoolEvent{
		Kind:   kind,
		Pool:   common.BytesToAddress(l.Topics[1].Bytes()),
		Staker: common.BytesToAddress(l.Topics[2].Bytes()),
		Amount: amount,
		Block:  l.BlockNumber,
		TxHash: l.TxHash,
	}, nil
}

// eventTopics returns the topic IDs of every pool event.
func (cl *ContractLedger) eventTopics() []common.Hash {
	var topics []common.Hash
	for _, name := range []string{"Staked", "Unstaked", "RewardsClaimed"} {
		if ev, ok := cl.contractABI.Events[name]; ok {
			topics = append(topics, ev.ID)
		}
	}
	return topics
}

// convertTuple copies the single tuple output of a view call into dst.
// abi.ConvertType panics on a layout mismatch, which here means the
// deployed program does not match the ABI.
func convertTuple(out []interface{}, dst interface{}) (err error) {
	if len(out) != 1 {
		return fmt.Errorf("%w: expected 1 output, got %d", ErrInvalidSnapshot, len(out))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidSnapshot, r)
		}
	}()
	abi.ConvertType(out[0], dst)
	return nil
}

func (t *poolTuple) toPool(addr common.Address) (*types.StakingPool, error) {
	times, err := toInt64s(t.LockupPeriod, t.StartTime, t.EndTime)
	if err != nil {
		return nil, err
	}
	p := &types.StakingPool{
		Address:      addr,
		Campaign:     t.Campaign,
		Creator:      t.Creator,
		StakedTokens: orZero(t.StakedTokens),
		RewardRate:   t.RewardRate,
		LockupPeriod: times[0],
		StartTime:    times[1],
		EndTime:      times[2],
		PoolBalance:  orZero(t.PoolBalance),
		StakersCount: t.StakersCount,
		Active:       t.Active,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return p, nil
}

func (t *stakerTuple) toStaker(pool, staker common.Address) (*types.StakerInfo, error) {
	times, err := toInt64s(t.LastClaimTime, t.StakingStartTime, t.UnstakeAvailableTime)
	if err != nil {
		return nil, err
	}
	s := &types.StakerInfo{
		StakingPool:          pool,
		Staker:               staker,
		StakedAmount:         orZero(t.StakedAmount),
		RewardsEarned:        orZero(t.RewardsEarned),
		LastClaimTime:        times[0],
		StakingStartTime:     times[1],
		UnstakeAvailableTime: times[2],
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return s, nil
}

func toInt64s(vals ...uint64) ([]int64, error) {
	out := make([]int64, len(vals))
	for i, v := range vals {
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: timestamp %d out of range", ErrInvalidSnapshot, v)
		}
		out[i] = int64(v)
	}
	return out, nil
}

func expectedTime(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: negative expected last claim time %d", ErrInvalidSnapshot, v)
	}
	return uint64(v), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// revertReason extracts the revert string from a call or send error.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(hexData)); uerr == nil {
				return reason
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("execution reverted:"):])
	}
	return ""
}

// isRevert reports whether err is the program rejecting a call, as opposed
// to a transport failure.
func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// mapRevert wraps err with the sentinel matching its revert reason.
func mapRevert(err error) error {
	if err == nil || !isRevert(err) {
		return err
	}
	reason := revertReason(err)
	for key, sentinel := range revertReasons {
		if strings.Contains(reason, key) {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/crowdstake/crowdstake/internal/logging"
)

// TokenContract funds stakes from the campaign's ERC20 token
type TokenContract struct {
	baseClient   *BaseClient
	contractABI  abi.ABI
	contractAddr common.Address
}

// NewTokenContract creates a token contract client
func NewTokenContract(baseClient *BaseClient, contractAddr common.Address) (*TokenContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	return &TokenContract{
		baseClient:   baseClient,
		contractABI:  parsedABI,
		contractAddr: contractAddr,
	}, nil
}

func (tc *TokenContract) bound(c *ethclient.Client) *bind.BoundContract {
	return bind.NewBoundContract(tc.contractAddr, tc.contractABI, c, c, c)
}

func (tc *TokenContract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var result []interface{}
	err := tc.baseClient.Do(ctx, func(c *ethclient.Client) error {
		return tc.bound(c).Call(&bind.CallOpts{Context: ctx}, &result, method, args...)
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	if v, ok := result[0].(*big.Int); ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

// BalanceOf returns the token balance for an address
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	v, err := tc.callUint(ctx, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return v, nil
}

// Allowance returns the allowance for a spender
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	v, err := tc.callUint(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return v, nil
}

// Decimals returns the token's smallest-unit precision
func (tc *TokenContract) Decimals(ctx context.Context) (int, error) {
	var result []interface{}
	err := tc.baseClient.Do(ctx, func(c *ethclient.Client) error {
		return tc.bound(c).Call(&bind.CallOpts{Context: ctx}, &result, "decimals")
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get decimals: %w", err)
	}
	if len(result) == 0 {
		return 0, fmt.Errorf("failed to get decimals: empty result")
	}
	d, ok := result[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("failed to get decimals: unexpected type %T", result[0])
	}
	return int(d), nil
}

// Approve approves a spender to spend tokens
func (tc *TokenContract) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	auth, err := tc.baseClient.GetTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}

	var tx *types.Transaction
	err = tc.baseClient.Do(ctx, func(c *ethclient.Client) error {
		var err error
		tx, err = tc.bound(c).Transact(auth, "approve", spender, amount)
		return err
	})
	if err != nil {
		tc.baseClient.ReleaseNonce(ctx, auth.Nonce.Uint64(), err)
		return nil, fmt.Errorf("failed to approve: %w", err)
	}
	return tx, nil
}

// EnsureAllowance approves spender for amount and waits for confirmation,
// unless the current allowance already covers it.
func (tc *TokenContract) EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) error {
	current, err := tc.Allowance(ctx, tc.baseClient.Address(), spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	tx, err := tc.Approve(ctx, spender, amount)
	if err != nil {
		return err
	}
	logging.Debug("token approval submitted", logging.TxHash(tx.Hash()), logging.Amount("amount", amount))

	if _, err := tc.baseClient.WaitForTransaction(ctx, tx); err != nil {
		return fmt.Errorf("approval not confirmed: %w", err)
	}
	return nil
}

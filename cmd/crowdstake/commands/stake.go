package commands

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/staking"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// submitFlags are shared by stake, unstake and claim.
type submitFlags struct {
	staker string
	yes    bool
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.staker, "staker", "", "Staker address (default: wallet address; must match the wallet outside mock mode)")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Skip the confirmation prompt")
}

// submission is one write against the ledger.
type submission struct {
	verb   string
	pool   common.Address
	amount *big.Int // nil when not applicable or "everything"
	run    func(ctx context.Context, svc *staking.Service, staker common.Address) (*ledger.Receipt, error)
}

// NewStakeCmd creates the stake command.
func NewStakeCmd() *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "stake <pool-address> <amount>",
		Short: "Stake tokens in a pool",
		Long: `Stake tokens in a campaign pool. Rewards pending on an existing position
are settled first. The first stake in a pool starts its lockup period.

Examples:
  crowdstake stake 0xPOOL 100
  crowdstake stake 0xPOOL 12.5 --yes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := parseAddress("pool", args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			amount, err := types.ParseTokenAmount(args[1], cfg.Ledger.TokenDecimals)
			if err != nil {
				return err
			}
			return submit(cmd, cfg, &flags, &submission{
				verb:   "Stake",
				pool:   pool,
				amount: amount,
				run: func(ctx context.Context, svc *staking.Service, staker common.Address) (*ledger.Receipt, error) {
					return svc.Stake(ctx, pool, staker, amount)
				},
			})
		},
	}

	flags.register(cmd)
	return cmd
}

// NewUnstakeCmd creates the unstake command.
func NewUnstakeCmd() *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "unstake <pool-address> [amount]",
		Short: "Withdraw staked tokens from a pool",
		Long: `Withdraw staked tokens once the lockup period has ended. Without an
amount the whole position is withdrawn. Pending rewards are settled first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := parseAddress("pool", args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var amount *big.Int
			if len(args) == 2 {
				if amount, err = types.ParseTokenAmount(args[1], cfg.Ledger.TokenDecimals); err != nil {
					return err
				}
			}
			return submit(cmd, cfg, &flags, &submission{
				verb:   "Unstake",
				pool:   pool,
				amount: amount,
				run: func(ctx context.Context, svc *staking.Service, staker common.Address) (*ledger.Receipt, error) {
					return svc.Unstake(ctx, pool, staker, amount)
				},
			})
		},
	}

	flags.register(cmd)
	return cmd
}

// NewClaimCmd creates the claim command.
func NewClaimCmd() *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "claim <pool-address>",
		Short: "Claim accrued rewards from a pool",
		Long: `Claim the rewards accrued since the last claim. A claim that loses a race
with another claim on the same position is rebuilt from fresh state and
resubmitted (see claim.max_retries).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := parseAddress("pool", args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return submit(cmd, cfg, &flags, &submission{
				verb: "Claim",
				pool: pool,
				run: func(ctx context.Context, svc *staking.Service, staker common.Address) (*ledger.Receipt, error) {
					return svc.ClaimWithRetry(ctx, pool, staker)
				},
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func submit(cmd *cobra.Command, cfg *config.Config, flags *submitFlags, sub *submission) error {
	ctx := cmd.Context()
	decimals := cfg.Ledger.TokenDecimals

	staker, key, err := signerFor(cfg, flags.staker)
	if err != nil {
		return err
	}

	if !flags.yes {
		desc := fmt.Sprintf("Pool:   %s\nStaker: %s", sub.pool.Hex(), staker.Hex())
		switch {
		case sub.amount != nil:
			desc += "\nAmount: " + FormatTokens(sub.amount, decimals)
		case sub.verb == "Unstake":
			desc += "\nAmount: entire position"
		}
		if err := confirm(sub.verb+"?", desc); err != nil {
			if errors.Is(err, errCancelled) {
				Info(sub.verb + " cancelled")
				return nil
			}
			return err
		}
	}

	sess, err := openSession(ctx, cfg, key, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	var receipt *ledger.Receipt
	err = WithSpinner("Submitting "+sub.verb, func() error {
		var err error
		receipt, err = sub.run(ctx, sess.service, staker)
		return err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return writeJSON(out, receipt)
	}
	Success(sub.verb + " confirmed")
	fmt.Fprintln(out, StatusBox("Receipt", [][2]string{
		{"Transaction", receipt.TxHash.Hex()},
		{"Block", strconv.FormatUint(receipt.Block, 10)},
		{"Amount", FormatTokens(receipt.Amount, decimals)},
	}))
	if cfg.Ledger.Mock {
		fmt.Fprintln(out, Hint("Mock ledger: this change is not persisted."))
	}
	return nil
}

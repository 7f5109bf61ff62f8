package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/staking"
)

// NewPositionCmd creates the position command.
func NewPositionCmd() *cobra.Command {
	var stakerFlag string

	cmd := &cobra.Command{
		Use:   "position <pool-address>",
		Short: "Show a staker's position in a pool",
		Long: `Show the staked amount, the rewards accrued since the last claim and
whether the lockup has ended. The staker defaults to the wallet address.`,
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
			staker, err := resolveStaker(cfg, stakerFlag)
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			pos, err := sess.service.Position(cmd.Context(), pool, staker)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput() {
				return writeJSON(out, pos)
			}
			fmt.Fprintln(out, StatusBox("Position "+FormatAddress(staker.Hex()), positionFields(pos, cfg.Ledger.TokenDecimals)))
			if pos.Staker == nil {
				fmt.Fprintln(out, Hint("No stake in this pool yet. Stake with: crowdstake stake "+pool.Hex()+" <amount>"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stakerFlag, "staker", "", "Staker address (default: wallet address)")
	return cmd
}

func positionFields(pos *staking.Position, decimals int) [][2]string {
	fields := [][2]string{
		{"Pool", pos.Pool.Address.Hex()},
		{"Rate", fmt.Sprintf("%d bps/day", pos.Pool.RewardRate)},
	}
	if pos.Staker == nil {
		return append(fields, [2]string{"Staked", "0"})
	}

	lockup := StatusBadge("eligible")
	if !pos.Eligible {
		lockup = StatusBadge("locked") + " " + FormatDuration(pos.UnlockRemaining) + " left"
	}
	return append(fields,
		[2]string{"Staked", FormatTokens(pos.Staker.StakedAmount, decimals)},
		[2]string{"Pending rewards", FormatTokens(pos.EstimatedReward, decimals)},
		[2]string{"Rewards claimed", FormatTokens(pos.Staker.RewardsEarned, decimals)},
		[2]string{"Last claim", FormatUnix(pos.Staker.LastClaimTime)},
		[2]string{"Staking since", FormatUnix(pos.Staker.StakingStartTime)},
		[2]string{"Unlocks", FormatUnix(pos.Staker.UnstakeAvailableTime)},
		[2]string{"Unstake", lockup},
	)
}

func secondsDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}

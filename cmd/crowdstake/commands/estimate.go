package commands

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/rewards"
	"github.com/crowdstake/crowdstake/pkg/types"
)

// estimateResult is the JSON form of the estimate command.
type estimateResult struct {
	StakedAmount     *big.Int `json:"staked_amount"`
	RewardRate       uint64   `json:"reward_rate"`
	ElapsedSeconds   int64    `json:"elapsed_seconds"`
	RewardsPerSecond *big.Int `json:"rewards_per_second"`
	Reward           *big.Int `json:"reward"`
	Decimals         int      `json:"decimals"`
}

var estimateHorizons = []struct {
	label string
	d     time.Duration
}{
	{"1 day", 24 * time.Hour},
	{"7 days", 7 * 24 * time.Hour},
	{"30 days", 30 * 24 * time.Hour},
	{"365 days", 365 * 24 * time.Hour},
}

// NewEstimateCmd creates the offline reward calculator.
func NewEstimateCmd() *cobra.Command {
	var (
		staked   string
		rate     uint64
		elapsed  time.Duration
		decimals int
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate rewards for a hypothetical stake",
		Long: `Estimate the rewards a stake accrues at a given rate, without contacting
the ledger. The rate is in basis points per day (500 = 5% of the stake per day).

Examples:
  crowdstake estimate --staked 100 --rate 500 --elapsed 24h
  crowdstake estimate --staked 2500.5 --rate 120 --elapsed 720h --decimals 6`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if decimals < 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				decimals = cfg.Ledger.TokenDecimals
			}
			amount, err := types.ParseTokenAmount(staked, decimals)
			if err != nil {
				return fmt.Errorf("invalid --staked: %w", err)
			}
			if elapsed < 0 {
				return fmt.Errorf("--elapsed must not be negative")
			}

			pool := &types.StakingPool{RewardRate: rate}
			res := &estimateResult{
				StakedAmount:     amount,
				RewardRate:       rate,
				ElapsedSeconds:   int64(elapsed / time.Second),
				RewardsPerSecond: rewards.RewardsPerSecond(pool, &types.StakerInfo{StakedAmount: amount}),
				Reward:           rewards.ProjectedRewards(pool, amount, elapsed),
				Decimals:         decimals,
			}

			out := cmd.OutOrStdout()
			if jsonOutput() {
				return writeJSON(out, res)
			}

			fmt.Fprintln(out, StatusBox("Reward Estimate", [][2]string{
				{"Staked", FormatTokens(amount, decimals)},
				{"Rate", fmt.Sprintf("%d bps/day", rate)},
				{"Elapsed", FormatDuration(elapsed)},
				{"Per second", FormatTokens(res.RewardsPerSecond, decimals)},
				{"Reward", FormatTokens(res.Reward, decimals)},
			}))

			rows := make([][]string, 0, len(estimateHorizons))
			for _, h := range estimateHorizons {
				rows = append(rows, []string{h.label, FormatTokens(rewards.ProjectedRewards(pool, amount, h.d), decimals)})
			}
			fmt.Fprintln(out, RenderTable([]string{"Horizon", "Reward"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&staked, "staked", "", "Staked amount in tokens (e.g. 100 or 12.5)")
	cmd.Flags().Uint64Var(&rate, "rate", 0, "Reward rate in basis points per day")
	cmd.Flags().DurationVar(&elapsed, "elapsed", 24*time.Hour, "Time since the last claim")
	cmd.Flags().IntVar(&decimals, "decimals", -1, "Token decimals (default: ledger.token_decimals from config)")
	_ = cmd.MarkFlagRequired("staked")
	_ = cmd.MarkFlagRequired("rate")

	return cmd
}

package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/staking"
)

// NewPoolCmd creates the pool summary command.
func NewPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool <pool-address>",
		Short: "Show a staking pool",
		Long:  "Show a campaign staking pool with its daily emission and how long its reward reserve lasts.",
		Args:  cobra.ExactArgs(1),
		RunE:  runPool,
	}
}

func runPool(cmd *cobra.Command, args []string) error {
	pool, err := parseAddress("pool", args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := openSession(cmd.Context(), cfg, nil, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	sum, err := sess.service.PoolSummary(cmd.Context(), pool)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return writeJSON(out, sum)
	}
	fmt.Fprintln(out, StatusBox("Pool "+FormatAddress(pool.Hex()), poolFields(sum, cfg.Ledger.TokenDecimals)))
	return nil
}

func poolFields(sum *staking.PoolSummary, decimals int) [][2]string {
	p := sum.Pool
	status := "closed"
	if sum.Open {
		status = "open"
	} else if p.Active && sum.AsOf < p.StartTime {
		status = "pending"
	}
	runway := "unbounded"
	if !sum.Unbounded {
		runway = strconv.FormatFloat(sum.RunwayDays, 'f', 1, 64) + " days"
	}
	end := FormatUnix(p.EndTime)
	if p.EndTime == 0 {
		end = "open ended"
	}
	return [][2]string{
		{"Address", p.Address.Hex()},
		{"Campaign", p.Campaign.Hex()},
		{"Status", StatusBadge(status)},
		{"Rate", fmt.Sprintf("%d bps/day", p.RewardRate)},
		{"Lockup", FormatDuration(secondsDuration(p.LockupPeriod))},
		{"Window", FormatUnix(p.StartTime) + " to " + end},
		{"Staked", FormatTokens(p.StakedTokens, decimals)},
		{"Stakers", strconv.FormatUint(p.StakersCount, 10)},
		{"Reserve", FormatTokens(p.PoolBalance, decimals)},
		{"Daily emission", FormatTokens(sum.DailyEmission, decimals)},
		{"Runway", runway},
	}
}

package rewards

import (
	"time"

	"github.com/crowdstake/crowdstake/pkg/types"
)

// IsUnstakeEligible reports whether staker may withdraw at the current
// wall-clock time.
func IsUnstakeEligible(staker *types.StakerInfo) bool {
	return IsUnstakeEligibleAt(staker, time.Now().Unix())
}

// IsUnstakeEligibleAt reports whether now >= staker.UnstakeAvailableTime.
// An absent staker has nothing to withdraw and is never eligible; an
// UnstakeAvailableTime of 0 means no lockup was configured.
func IsUnstakeEligibleAt(staker *types.StakerInfo, now int64) bool {
	if staker == nil {
		return false
	}
	if staker.UnstakeAvailableTime == 0 {
		return true
	}
	return now >= staker.UnstakeAvailableTime
}

// UnlockRemaining returns how long until staker may withdraw. It is zero
// once eligible and for an absent staker.
func UnlockRemaining(staker *types.StakerInfo, now int64) time.Duration {
	if staker == nil || IsUnstakeEligibleAt(staker, now) {
		return 0
	}
	return time.Duration(staker.UnstakeAvailableTime-now) * time.Second
}

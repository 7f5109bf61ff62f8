package rewards

import (
	"testing"
	"time"

	"github.com/crowdstake/crowdstake/pkg/types"
)

func TestIsUnstakeEligibleAt(t *testing.T) {
	staker := &types.StakerInfo{UnstakeAvailableTime: 1000}

	tests := []struct {
		name string
		now  int64
		want bool
	}{
		{"well before", 0, false},
		{"one second before", 999, false},
		{"exactly at", 1000, true},
		{"after", 5000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnstakeEligibleAt(staker, tt.now); got != tt.want {
				t.Errorf("IsUnstakeEligibleAt(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestIsUnstakeEligibleAt_NoLockup(t *testing.T) {
	staker := &types.StakerInfo{UnstakeAvailableTime: 0}

	for _, now := range []int64{0, 1, 1_700_000_000} {
		if !IsUnstakeEligibleAt(staker, now) {
			t.Errorf("no-lockup position should be eligible at %d", now)
		}
	}
}

func TestIsUnstakeEligible_AbsentStaker(t *testing.T) {
	if IsUnstakeEligibleAt(nil, 1_700_000_000) {
		t.Error("absent staker should never be eligible")
	}
	if IsUnstakeEligible(nil) {
		t.Error("absent staker should never be eligible")
	}
}

func TestIsUnstakeEligible_WallClock(t *testing.T) {
	past := &types.StakerInfo{UnstakeAvailableTime: time.Now().Add(-time.Hour).Unix()}
	future := &types.StakerInfo{UnstakeAvailableTime: time.Now().Add(time.Hour).Unix()}

	if !IsUnstakeEligible(past) {
		t.Error("expired lockup should be eligible")
	}
	if IsUnstakeEligible(future) {
		t.Error("active lockup should not be eligible")
	}
}

func TestUnlockRemaining(t *testing.T) {
	staker := &types.StakerInfo{UnstakeAvailableTime: 1000}

	if got := UnlockRemaining(staker, 400); got != 600*time.Second {
		t.Errorf("remaining = %v, want 10m", got)
	}
	if got := UnlockRemaining(staker, 1000); got != 0 {
		t.Errorf("remaining at unlock = %v, want 0", got)
	}
	if got := UnlockRemaining(nil, 0); got != 0 {
		t.Errorf("remaining for absent staker = %v, want 0", got)
	}
}

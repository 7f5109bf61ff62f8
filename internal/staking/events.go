package staking

import (
	"context"
	"fmt"

	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/logging"
)

const eventBuffer = 64

// WatchEvents subscribes to src and records every pool event until ctx is
// cancelled or the source closes its channel. fn, if non-nil, is called for
// each event after it has been counted.
func (s *Service) WatchEvents(ctx context.Context, src ledger.EventSource, fn func(*ledger.PoolEvent)) error {
	ch := make(chan *ledger.PoolEvent, eventBuffer)
	if err := src.Subscribe(ctx, ch); err != nil {
		return fmt.Errorf("failed to subscribe to pool events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			// Drain until the source closes ch so its goroutine can exit.
			for range ch {
			}
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.metrics.RecordPoolEvent(string(ev.Kind))
			logging.Debug("pool event",
				"kind", ev.Kind,
				logging.Pool(ev.Pool),
				logging.Staker(ev.Staker),
				logging.Amount("amount", ev.Amount),
				"block", ev.Block)
			if fn != nil {
				fn(ev)
			}
		}
	}
}

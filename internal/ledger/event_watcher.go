package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/util"
)

const (
	eventReconnectBase  = 2 * time.Second
	eventReconnectMax   = 60 * time.Second
	eventPollInterval   = 12 * time.Second
	eventLogBuffer      = 16
	eventMaxBlockWindow = 2000 // widest range requested per FilterLogs call
)

// EventWatcher follows Staked, Unstaked and RewardsClaimed logs of the
// staking program. With a WebSocket endpoint it subscribes and reconnects
// with backoff, backfilling any blocks missed while disconnected; without
// one it polls over RPC.
type EventWatcher struct {
	baseClient   *BaseClient
	program      *ContractLedger
	pollInterval time.Duration
	lastBlock    atomic.Uint64
}

// NewEventWatcher creates a watcher for program's events.
func NewEventWatcher(bc *BaseClient, program *ContractLedger) *EventWatcher {
	return &EventWatcher{
		baseClient:   bc,
		program:      program,
		pollInterval: eventPollInterval,
	}
}

// Subscribe starts delivering events to ch from the current block onward.
// It returns once the watcher is running; ch is closed after ctx is
// cancelled and the watcher has stopped.
func (ew *EventWatcher) Subscribe(ctx context.Context, ch chan<- *PoolEvent) error {
	if ew.baseClient == nil || !ew.baseClient.IsConnected() {
		return ErrNotConnected
	}

	block, err := ew.baseClient.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head block: %w", err)
	}
	ew.lastBlock.Store(block)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{ew.program.Address()},
		Topics:    [][]common.Hash{ew.program.eventTopics()},
	}

	handler := func(l ethtypes.Log) {
		if l.Removed {
			return
		}
		ev, err := ew.program.decodeEvent(l)
		if err != nil {
			logging.Debug("event watcher: skipping undecodable log", logging.Err(err))
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	util.SafeGoWithName("pool-event-watcher", func() {
		defer close(ch)
		if ew.baseClient.HasWSConfig() {
			ew.subscribeWithReconnect(ctx, query, handler)
		} else {
			logging.Info("event watcher: no WebSocket endpoint configured, polling over RPC")
			ew.poll(ctx, query, handler)
		}
	})

	logging.Info("event watcher started", "block", ew.lastBlock.Load())
	return nil
}

// subscribeWithReconnect manages the subscription with automatic
// reconnection and backfill on WS failure.
func (ew *EventWatcher) subscribeWithReconnect(ctx context.Context, query ethereum.FilterQuery, handler func(ethtypes.Log)) {
	delay := eventReconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		wsClient := ew.baseClient.WSClient()
		if wsClient == nil {
			if err := ew.baseClient.ReconnectWS(ctx); err != nil {
				logging.Warn("event watcher: WS reconnect failed", logging.Err(err))
				if !sleepOrDone(ctx, delay) {
					return
				}
				delay = nextDelay(delay)
				continue
			}
			wsClient = ew.baseClient.WSClient()
		}

		ew.backfill(ctx, query, handler)

		logs := make(chan ethtypes.Log, eventLogBuffer)
		sub, err := wsClient.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			logging.Warn("event watcher: subscribe failed", logging.Err(err))
			if !sleepOrDone(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			_ = ew.baseClient.ReconnectWS(ctx)
			continue
		}

		delay = eventReconnectBase
		logging.Info("event watcher: subscribed")

		done := ew.processEvents(ctx, sub, logs, handler)
		sub.Unsubscribe()
		if done {
			return
		}

		// Subscription dropped, reconnect WS and retry
		_ = ew.baseClient.ReconnectWS(ctx)
	}
}

// processEvents reads events until an error or context done. Returns true
// if the context was cancelled, false if the subscription failed.
func (ew *EventWatcher) processEvents(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log, handler func(ethtypes.Log)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			if err != nil {
				logging.Warn("event watcher: subscription error", logging.Err(err))
			}
			return false
		case l := <-logs:
			if l.BlockNumber > ew.lastBlock.Load() {
				ew.lastBlock.Store(l.BlockNumber)
			}
			handler(l)
		}
	}
}

// poll fetches new logs over RPC on every tick.
func (ew *EventWatcher) poll(ctx context.Context, query ethereum.FilterQuery, handler func(ethtypes.Log)) {
	ticker := time.NewTicker(ew.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ew.backfill(ctx, query, handler)
		}
	}
}

// backfill delivers logs from the block after the last one seen up to the
// current head, in windows of at most eventMaxBlockWindow blocks.
func (ew *EventWatcher) backfill(ctx context.Context, query ethereum.FilterQuery, handler func(ethtypes.Log)) {
	last := ew.lastBlock.Load()
	head, err := ew.baseClient.GetBlockNumber(ctx)
	if err != nil {
		logging.Warn("event watcher: failed to read head block", logging.Err(err))
		return
	}
	if head <= last {
		return
	}

	count := 0
	for from := last + 1; from <= head; from += eventMaxBlockWindow {
		to := from + eventMaxBlockWindow - 1
		if to > head {
			to = head
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: query.Addresses,
			Topics:    query.Topics,
		}

		var logs []ethtypes.Log
		err := ew.baseClient.Do(ctx, func(c *ethclient.Client) error {
			var err error
			logs, err = c.FilterLogs(ctx, q)
			return err
		})
		if err != nil {
			logging.Warn("event watcher: backfill failed", logging.Err(err), "from_block", from)
			return
		}
		for _, l := range logs {
			handler(l)
		}
		count += len(logs)
		ew.lastBlock.Store(to)
	}

	if count > 0 {
		logging.Info("event watcher: backfilled events", "count", count, "from_block", last+1, "to_block", head)
	}
}

// sleepOrDone sleeps for d or returns false if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextDelay doubles the reconnect delay up to eventReconnectMax.
func nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > eventReconnectMax {
		next = eventReconnectMax
	}
	return next
}

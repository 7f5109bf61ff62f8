package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/time/rate"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/util"
)

// BaseClientConfig holds configuration for the chain client
type BaseClientConfig struct {
	RPCURLs            []string
	WSEndpoints        []string
	ChainID            int64
	BlockConfirmations int
	GasLimitMultiplier float64 // Multiplier for estimated gas (default: 1.2)
	MaxGasPrice        *big.Int
	RequestsPerSecond  float64 // 0 disables throttling
	ConfirmationPoll   time.Duration
	RetryConfig        *util.RetryConfig
}

// DefaultBaseClientConfig returns sensible defaults
func DefaultBaseClientConfig() *BaseClientConfig {
	return &BaseClientConfig{
		RPCURLs:            []string{"https://mainnet.base.org"},
		ChainID:            8453, // Base mainnet
		BlockConfirmations: 2,
		GasLimitMultiplier: 1.2,
		MaxGasPrice:        big.NewInt(50 * params.GWei),
		RequestsPerSecond:  10,
		ConfirmationPoll:   2 * time.Second,
		RetryConfig:        util.DefaultRetryConfig(),
	}
}

// NewBaseClientConfig builds a client configuration from the ledger section
// of the config file.
func NewBaseClientConfig(lc *config.LedgerConfig) *BaseClientConfig {
	cfg := DefaultBaseClientConfig()
	cfg.RPCURLs = lc.ResolvedRPCURLs()
	cfg.WSEndpoints = lc.ResolvedWSEndpoints()
	cfg.ChainID = lc.ChainID
	cfg.BlockConfirmations = lc.BlockConfirmations
	cfg.RequestsPerSecond = lc.RequestsPerSecond
	if lc.MaxGasPriceGwei > 0 {
		cfg.MaxGasPrice = new(big.Int).Mul(big.NewInt(lc.MaxGasPriceGwei), big.NewInt(params.GWei))
	} else {
		cfg.MaxGasPrice = nil
	}
	return cfg
}

// BaseClient is a JSON-RPC connection to the chain hosting the staking
// program. It fails over between configured endpoints, throttles requests
// and tracks the signer's nonce.
type BaseClient struct {
	config     *BaseClientConfig
	tracker    *EndpointTracker
	limiter    *rate.Limiter
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	client    *ethclient.Client
	activeURL string
	wsClient  *ethclient.Client
	mu        sync.RWMutex

	nonceMu      sync.Mutex
	pendingNonce uint64
}

// NewBaseClient creates a client. privateKey may be nil for read-only use.
func NewBaseClient(cfg *BaseClientConfig, privateKey *ecdsa.PrivateKey) *BaseClient {
	if cfg == nil {
		cfg = DefaultBaseClientConfig()
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}
	if cfg.ConfirmationPoll <= 0 {
		cfg.ConfirmationPoll = 2 * time.Second
	}

	bc := &BaseClient{
		config:     cfg,
		tracker:    NewEndpointTracker(cfg.RPCURLs),
		privateKey: privateKey,
		chainID:    big.NewInt(cfg.ChainID),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		bc.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if privateKey != nil {
		bc.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return bc
}

// Connect dials the healthiest reachable RPC endpoint and, if configured,
// a WebSocket endpoint for subscriptions.
func (bc *BaseClient) Connect(ctx context.Context) error {
	if bc.tracker.Len() == 0 {
		return fmt.Errorf("%w: no rpc endpoints configured", ErrNotConnected)
	}

	var lastErr error
	for _, url := range bc.tracker.GetHealthy() {
		start := time.Now()
		client, result := util.RetryWithValue(ctx, bc.config.RetryConfig, func() (*ethclient.Client, error) {
			return bc.dial(ctx, url)
		})
		if result.LastError != nil {
			bc.tracker.RecordError(url)
			lastErr = result.LastError
			logging.Warn("rpc endpoint unreachable", "url", url, logging.Err(result.LastError))
			continue
		}
		bc.tracker.RecordSuccess(url, time.Since(start))
		bc.setClient(client, url)
		break
	}
	if bc.Client() == nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
	}

	if bc.HasWSConfig() {
		if err := bc.ReconnectWS(ctx); err != nil {
			// WebSocket is optional, log but don't fail
			logging.Warn("websocket endpoint unavailable", logging.Err(err))
		}
	}

	if bc.privateKey != nil {
		if err := bc.SyncNonce(ctx); err != nil {
			return err
		}
	}

	logging.Info("connected to ledger", "url", bc.ActiveURL(), "chain_id", bc.chainID.Int64())
	return nil
}

// dial connects to url and verifies the chain ID.
func (bc *BaseClient) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(bc.chainID) != 0 {
		client.Close()
		return nil, util.MarkNonRetryable(fmt.Errorf("chain ID mismatch: expected %d, got %d", bc.chainID, chainID))
	}
	return client, nil
}

func (bc *BaseClient) setClient(client *ethclient.Client, url string) {
	bc.mu.Lock()
	old := bc.client
	bc.client = client
	bc.activeURL = url
	bc.mu.Unlock()
	if old != nil && old != client {
		old.Close()
	}
}

// Close closes all connections
func (bc *BaseClient) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.client != nil {
		bc.client.Close()
		bc.client = nil
	}
	if bc.wsClient != nil {
		bc.wsClient.Close()
		bc.wsClient = nil
	}
	bc.activeURL = ""
}

// IsConnected returns true if an RPC connection is open
func (bc *BaseClient) IsConnected() bool {
	return bc.Client() != nil
}

// Client returns the active RPC client
func (bc *BaseClient) Client() *ethclient.Client {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.client
}

// ActiveURL returns the endpoint currently in use
func (bc *BaseClient) ActiveURL() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.activeURL
}

// WSClient returns the WebSocket client for subscriptions
func (bc *BaseClient) WSClient() *ethclient.Client {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.wsClient
}

// HasWSConfig reports whether any WebSocket endpoint is configured
func (bc *BaseClient) HasWSConfig() bool {
	return len(bc.config.WSEndpoints) > 0
}

// ReconnectWS replaces the WebSocket client with a fresh connection to the
// first reachable configured endpoint.
func (bc *BaseClient) ReconnectWS(ctx context.Context) error {
	var lastErr error
	for _, url := range bc.config.WSEndpoints {
		client, err := bc.dial(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		bc.mu.Lock()
		old := bc.wsClient
		bc.wsClient = client
		bc.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("no websocket endpoints configured")
	}
	return fmt.Errorf("failed to connect websocket: %w", lastErr)
}

// Address returns the signer address
func (bc *BaseClient) Address() common.Address {
	return bc.address
}

// ChainID returns the chain ID
func (bc *BaseClient) ChainID() *big.Int {
	return bc.chainID
}

// Do runs fn against the active client after waiting for the rate limiter.
// Transport failures count against the endpoint; once it is marked
// unhealthy the client fails over to the next healthy endpoint.
// Contract reverts are answers, not endpoint failures.
func (bc *BaseClient) Do(ctx context.Context, fn func(*ethclient.Client) error) error {
	if bc.limiter != nil {
		if err := bc.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	bc.mu.RLock()
	client, url := bc.client, bc.activeURL
	bc.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}

	start := time.Now()
	err := fn(client)
	switch {
	case err == nil || isRevert(err):
		bc.tracker.RecordSuccess(url, time.Since(start))
	case ctx.Err() != nil:
	default:
		bc.tracker.RecordError(url)
		if !bc.tracker.IsHealthy(url) {
			bc.failover(ctx, url)
		}
	}
	return err
}

func (bc *BaseClient) failover(ctx context.Context, from string) {
	next, ok := bc.tracker.GetNext(from)
	if !ok {
		logging.Warn("rpc endpoint unhealthy, no alternative available", "url", from)
		return
	}
	client, err := bc.dial(ctx, next)
	if err != nil {
		bc.tracker.RecordError(next)
		logging.Warn("rpc failover failed", "from", from, "to", next, logging.Err(err))
		return
	}
	bc.setClient(client, next)
	logging.Info("rpc failover", "from", from, "to", next)
}

// GetTransactOpts creates signed transaction options with the next nonce
func (bc *BaseClient) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if bc.privateKey == nil {
		return nil, fmt.Errorf("no private key configured")
	}

	var gasPrice *big.Int
	err := bc.Do(ctx, func(c *ethclient.Client) error {
		var err error
		gasPrice, err = c.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	if bc.config.MaxGasPrice != nil && gasPrice.Cmp(bc.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(bc.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(bc.privateKey, bc.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	bc.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(bc.pendingNonce)
	bc.pendingNonce++
	bc.nonceMu.Unlock()

	return auth, nil
}

// SyncNonce synchronizes the nonce with the network
func (bc *BaseClient) SyncNonce(ctx context.Context) error {
	var nonce uint64
	err := bc.Do(ctx, func(c *ethclient.Client) error {
		var err error
		nonce, err = c.PendingNonceAt(ctx, bc.address)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	bc.nonceMu.Lock()
	bc.pendingNonce = nonce
	bc.nonceMu.Unlock()
	return nil
}

// ReleaseNonce hands back a nonce reserved by GetTransactOpts whose
// transaction failed to send, so the next send reuses it. After a nonce
// error, or once a later nonce has been reserved, the cache is resynced
// from the network instead.
func (bc *BaseClient) ReleaseNonce(ctx context.Context, nonce uint64, sendErr error) {
	if !isNonceError(sendErr) {
		bc.nonceMu.Lock()
		if bc.pendingNonce == nonce+1 {
			bc.pendingNonce = nonce
			bc.nonceMu.Unlock()
			return
		}
		bc.nonceMu.Unlock()
	}
	if err := bc.SyncNonce(ctx); err != nil {
		logging.Warn("nonce resync failed", "nonce", nonce, logging.Err(err))
	}
}

// WaitForTransaction waits for a transaction to be mined and confirmed
func (bc *BaseClient) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client := bc.Client()
	if client == nil {
		return nil, ErrNotConnected
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("transaction failed: %s", tx.Hash().Hex())
	}

	if bc.config.BlockConfirmations <= 0 {
		return receipt, nil
	}

	target := receipt.BlockNumber.Uint64() + uint64(bc.config.BlockConfirmations)
	ticker := time.NewTicker(bc.config.ConfirmationPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
			current, err := bc.GetBlockNumber(ctx)
			if err != nil {
				continue
			}
			if current >= target {
				return receipt, nil
			}
		}
	}
}

// GetBlockNumber returns the current block number
func (bc *BaseClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var block uint64
	err := bc.Do(ctx, func(c *ethclient.Client) error {
		var err error
		block, err = c.BlockNumber(ctx)
		return err
	})
	return block, err
}

// BlockTime returns the timestamp of the latest block
func (bc *BaseClient) BlockTime(ctx context.Context) (int64, error) {
	var header *types.Header
	err := bc.Do(ctx, func(c *ethclient.Client) error {
		var err error
		header, err = c.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int64(header.Time), nil
}

// ChainClock returns a clock that follows ledger time. The offset between
// the latest block timestamp and the local clock is measured once.
func (bc *BaseClient) ChainClock(ctx context.Context) (func() int64, error) {
	blockTime, err := bc.BlockTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block time: %w", err)
	}
	offset := blockTime - time.Now().Unix()
	return func() int64 { return time.Now().Unix() + offset }, nil
}

// isNonceError reports whether a send failed because the local nonce drifted.
func isNonceError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), "nonce too low", "nonce too high", "replacement transaction underpriced")
}

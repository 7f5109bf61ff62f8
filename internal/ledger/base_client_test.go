package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"github.com/crowdstake/crowdstake/internal/config"
)

func TestNewBaseClientConfig(t *testing.T) {
	lc := config.DefaultConfig().Ledger
	lc.RPCURL = "https://rpc.example"
	lc.RPCURLs = []string{"https://rpc.example", "https://backup.example"}
	lc.WSEndpoint = "wss://ws.example"
	lc.ChainID = 84532
	lc.MaxGasPriceGwei = 7
	lc.RequestsPerSecond = 2.5

	cfg := NewBaseClientConfig(&lc)

	if len(cfg.RPCURLs) != 2 || cfg.RPCURLs[0] != "https://rpc.example" {
		t.Errorf("RPCURLs = %v", cfg.RPCURLs)
	}
	if len(cfg.WSEndpoints) != 1 {
		t.Errorf("WSEndpoints = %v", cfg.WSEndpoints)
	}
	if cfg.ChainID != 84532 || cfg.RequestsPerSecond != 2.5 {
		t.Errorf("unexpected chain settings: %+v", cfg)
	}
	if cfg.MaxGasPrice.Int64() != 7*params.GWei {
		t.Errorf("MaxGasPrice = %s, want 7 gwei", cfg.MaxGasPrice)
	}

	lc.MaxGasPriceGwei = 0
	if NewBaseClientConfig(&lc).MaxGasPrice != nil {
		t.Error("zero gas cap should disable the cap")
	}
}

func TestNewBaseClient_Limiter(t *testing.T) {
	cfg := offlineConfig()
	if NewBaseClient(cfg, nil).limiter != nil {
		t.Error("zero requests per second should disable throttling")
	}

	cfg.RequestsPerSecond = 0.5
	bc := NewBaseClient(cfg, nil)
	if bc.limiter == nil || bc.limiter.Burst() != 1 {
		t.Error("fractional rate should still allow a burst of 1")
	}
}

func TestBaseClient_NotConnected(t *testing.T) {
	bc := NewBaseClient(offlineConfig(), nil)
	ctx := context.Background()

	if bc.IsConnected() {
		t.Error("new client should not be connected")
	}
	err := bc.Do(ctx, func(*ethclient.Client) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Do: expected ErrNotConnected, got %v", err)
	}
	if err := bc.Connect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect without endpoints: expected ErrNotConnected, got %v", err)
	}
	if _, err := bc.GetBlockNumber(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetBlockNumber: expected ErrNotConnected, got %v", err)
	}
	if _, err := bc.GetTransactOpts(ctx); err == nil {
		t.Error("GetTransactOpts without a key should fail")
	}
}

func TestBaseClient_ConnectChainMismatch(t *testing.T) {
	node := newStakingNode(t)
	node.chainID = "0x1"
	srv := newRPCServer(t, node.handle)

	bc := NewBaseClient(offlineConfig(srv.URL), nil)
	defer bc.Close()

	err := bc.Connect(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if !strings.Contains(err.Error(), "chain ID mismatch") {
		t.Errorf("error should name the mismatch: %v", err)
	}
	if got := node.count("eth_chainId"); got != 1 {
		t.Errorf("chain mismatch retried: %d eth_chainId calls", got)
	}
}

func TestBaseClient_ConnectSkipsDeadEndpoint(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	node := newStakingNode(t)
	live := newRPCServer(t, node.handle)

	bc := connectTo(t, dead.URL, live.URL)
	if bc.ActiveURL() != live.URL {
		t.Errorf("ActiveURL = %s, want %s", bc.ActiveURL(), live.URL)
	}
	if !bc.tracker.IsHealthy(live.URL) {
		t.Error("live endpoint should be healthy")
	}

	block, err := bc.GetBlockNumber(context.Background())
	if err != nil || block != 16 {
		t.Errorf("GetBlockNumber = %d, %v; want 16", block, err)
	}
}

func TestBaseClient_DoFailsOver(t *testing.T) {
	first := newRPCServer(t, newStakingNode(t).handle)
	second := newRPCServer(t, newStakingNode(t).handle)

	bc := connectTo(t, first.URL, second.URL)
	if bc.ActiveURL() != first.URL {
		t.Fatalf("ActiveURL = %s, want %s", bc.ActiveURL(), first.URL)
	}

	boom := errors.New("connection reset by peer")
	for i := 0; i < defaultMaxConsecutiveErrors; i++ {
		if err := bc.Do(context.Background(), func(*ethclient.Client) error { return boom }); err != boom {
			t.Fatalf("Do returned %v", err)
		}
	}
	if bc.ActiveURL() != second.URL {
		t.Errorf("after repeated failures ActiveURL = %s, want %s", bc.ActiveURL(), second.URL)
	}
}

func TestBaseClient_RevertKeepsEndpointHealthy(t *testing.T) {
	srv := newRPCServer(t, newStakingNode(t).handle)
	bc := connectTo(t, srv.URL)

	revert := &dataError{msg: "execution reverted", data: "0x"}
	for i := 0; i < 2*defaultMaxConsecutiveErrors; i++ {
		_ = bc.Do(context.Background(), func(*ethclient.Client) error { return revert })
	}
	if !bc.tracker.IsHealthy(srv.URL) {
		t.Error("reverts should not mark the endpoint unhealthy")
	}
}

func TestBaseClient_ReleaseNonce(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	node := newStakingNode(t)
	node.nonce = 7
	srv := newRPCServer(t, node.handle)
	bc := connectSigner(t, key, srv.URL)
	ctx := context.Background()
	revert := &dataError{msg: "execution reverted", data: revertData(t, "StaleState")}

	tests := []struct {
		name      string
		pending   uint64
		chain     uint64
		err       error
		wantAfter uint64
	}{
		{"revert rolls back", 8, 7, revert, 7},
		{"later reservation resyncs", 9, 7, revert, 7},
		{"nonce error resyncs", 8, 8, errors.New("nonce too low"), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node.mu.Lock()
			node.nonce = tt.chain
			node.mu.Unlock()
			bc.nonceMu.Lock()
			bc.pendingNonce = tt.pending
			bc.nonceMu.Unlock()

			bc.ReleaseNonce(ctx, 7, tt.err)

			bc.nonceMu.Lock()
			got := bc.pendingNonce
			bc.nonceMu.Unlock()
			if got != tt.wantAfter {
				t.Errorf("pending nonce = %d, want %d", got, tt.wantAfter)
			}
		})
	}
}

func TestIsNonceError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("nonce too low"), true},
		{errors.New("Nonce Too High: next nonce 5"), true},
		{errors.New("replacement transaction underpriced"), true},
		{errors.New("insufficient funds for gas"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isNonceError(tt.err); got != tt.want {
			t.Errorf("isNonceError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/tierstake/internal/util"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeRPC answers the handful of JSON-RPC methods the client uses.
func fakeRPC(t *testing.T, chainIDHex string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result string
		switch req.Method {
		case "eth_chainId":
			result = chainIDHex
		case "eth_getTransactionCount":
			result = "0x7"
		case "eth_blockNumber":
			result = "0x64"
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClientConfig(urls ...string) *BaseClientConfig {
	cfg := DefaultBaseClientConfig()
	cfg.RPCURLs = urls
	cfg.RetryConfig = &util.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2, RetryIf: util.RetryIfTransient}
	return cfg
}

func TestNewBaseClient_RequiresURLs(t *testing.T) {
	if _, err := NewBaseClient(&BaseClientConfig{}, nil); err == nil {
		t.Fatal("expected error without RPC URLs")
	}
}

func TestBaseClient_ConnectVerifiesChainAndNonce(t *testing.T) {
	srv := fakeRPC(t, "0x2105", nil) // 8453
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	bc, err := NewBaseClient(testClientConfig(srv.URL), key)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := bc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bc.Close()

	if !bc.IsConnected() || bc.ActiveEndpoint() != srv.URL {
		t.Errorf("expected connection to %s, got %q", srv.URL, bc.ActiveEndpoint())
	}
	if bc.pendingNonce != 7 {
		t.Errorf("expected nonce 7, got %d", bc.pendingNonce)
	}
	n, err := bc.GetBlockNumber(ctx)
	if err != nil || n != 100 {
		t.Errorf("block number = %d, %v", n, err)
	}
	if bc.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("address does not match key")
	}
}

func TestBaseClient_ChainMismatchNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := fakeRPC(t, "0x1", &calls)

	bc, _ := NewBaseClient(testClientConfig(srv.URL), nil)
	err := bc.Connect(context.Background())
	if !errors.Is(err, errChainMismatch) {
		t.Fatalf("expected chain mismatch, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single chain id call, got %d", calls.Load())
	}
	if bc.IsConnected() {
		t.Error("client should not be connected")
	}
}

func TestBaseClient_FailsOverToHealthyEndpoint(t *testing.T) {
	good := fakeRPC(t, "0x2105", nil)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	bc, _ := NewBaseClient(testClientConfig(dead.URL, good.URL), nil)
	if err := bc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bc.Close()

	if bc.ActiveEndpoint() != good.URL {
		t.Errorf("expected failover to %s, got %s", good.URL, bc.ActiveEndpoint())
	}
	for _, ep := range bc.Endpoints() {
		if ep.URL == dead.URL && ep.ConsecutiveErrs == 0 {
			t.Error("expected dead endpoint error recorded")
		}
	}
}

func TestBaseClient_NotConnected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	bc, _ := NewBaseClient(testClientConfig("http://127.0.0.1:1"), key)

	if _, err := bc.GetTransactOpts(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := bc.SyncNonce(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestBaseClient_TransactOptsNeedKey(t *testing.T) {
	bc, _ := NewBaseClient(testClientConfig("http://127.0.0.1:1"), nil)
	if _, err := bc.GetTransactOpts(context.Background()); err == nil {
		t.Error("expected error without private key")
	}
}

func TestProbeEndpoint(t *testing.T) {
	srv := fakeRPC(t, "0x2105", nil)
	ctx := context.Background()

	if _, err := ProbeEndpoint(ctx, srv.URL, 8453); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if _, err := ProbeEndpoint(ctx, srv.URL, 84532); !errors.Is(err, errChainMismatch) {
		t.Errorf("expected chain mismatch, got %v", err)
	}
}

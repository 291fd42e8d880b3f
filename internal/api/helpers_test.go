package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/payment"
	"github.com/moltbunker/tierstake/internal/staking"
)

const day = 24 * 60 * 60

var custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")

type signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

var nonceCounter atomic.Uint64

// sign sets inline auth headers for a message stamped at now.
func (s *signer) sign(t *testing.T, req *http.Request, now time.Time) {
	t.Helper()
	msg := FormatAuthMessage(now, strconv.FormatUint(nonceCounter.Add(1), 10))
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), s.key)
	require.NoError(t, err)
	sig[64] += 27
	req.Header.Set(HeaderWalletAddress, s.addr.Hex())
	req.Header.Set(HeaderWalletSignature, "0x"+hex.EncodeToString(sig))
	req.Header.Set(HeaderWalletMessage, msg)
}

type testEnv struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	token  *payment.TokenContract
	ledger *staking.Service
	server *Server
	owner  *signer
	alice  *signer
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newEnv(t *testing.T, mutate func(*config.APIConfig, *Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		t:     t,
		clock: clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		token: payment.NewMockTokenContract(custody),
		owner: newSigner(t),
		alice: newSigner(t),
	}
	for _, s := range []*signer{env.owner, env.alice} {
		env.token.SetMockBalance(s.addr, tokens(1_000_000))
		env.token.MockApprove(s.addr, custody, math.MaxBig256)
	}

	params := staking.DefaultParams()
	params.ClaimCooldown = 0
	ledger, err := staking.NewService(staking.Config{
		Clock:  env.clock,
		Owner:  env.owner.addr,
		Token:  env.token,
		Params: params,
		Tiers: []staking.TierSpec{{
			TierParams: staking.TierParams{
				Name:         "standard",
				LockDuration: 30 * day,
				BaseRateBps:  1200,
				MinStake:     tokens(100),
				MaxStake:     tokens(100_000),
				TierMaxStake: tokens(1_000_000),
				Active:       true,
			},
			PremiumBonusBps: 300,
		}},
	})
	require.NoError(t, err)
	env.ledger = ledger

	cfg := config.DefaultAPIConfig()
	opts := Options{Ledger: ledger, Clock: env.clock, Version: "test"}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	opts.Config = cfg
	env.server, err = NewServer(opts)
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, ledger.FundRewardPool(ctx, env.owner.addr, tokens(10_000)))
	return env
}

// do runs a request through the handler; as signs it when non-nil.
func (e *testEnv) do(method, path string, body any, as *signer) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		as.sign(e.t, req, e.clock.Now())
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

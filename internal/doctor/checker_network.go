package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moltbunker/tierstake/internal/client"
	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/payment"
)

const probeTimeout = 5 * time.Second

// APIChecker checks whether a daemon answers on the API address.
type APIChecker struct {
	endpoint string
}

func NewAPIChecker(endpoint string) *APIChecker {
	return &APIChecker{endpoint: endpoint}
}

func (c *APIChecker) Name() string       { return "Daemon API" }
func (c *APIChecker) Category() Category { return CategoryServices }

func (c *APIChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	health, err := client.NewAPIClient(c.endpoint, nil).Health(ctx)
	if err != nil {
		return r.warn("Daemon API: Not reachable at "+c.endpoint, err.Error()).fix("stakingd serve")
	}
	msg := fmt.Sprintf("Daemon API: %s, version %s, up %s", health.Status, health.Version, health.Uptime)
	if health.Paused {
		return r.warn(msg, "Staking is paused by the owner")
	}
	if health.Status != "healthy" {
		return r.warn(msg, health.Reason)
	}
	return r.ok(msg)
}

// RPCChecker probes every configured RPC endpoint for the expected chain.
type RPCChecker struct {
	chain config.ChainConfig
	probe func(ctx context.Context, url string, chainID int64) (time.Duration, error)
}

func NewRPCChecker(chain config.ChainConfig) *RPCChecker {
	return &RPCChecker{chain: chain, probe: payment.ProbeEndpoint}
}

func (c *RPCChecker) Name() string       { return "RPC endpoints" }
func (c *RPCChecker) Category() Category { return CategoryServices }

func (c *RPCChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	if c.chain.MockPayments {
		return r.skip("RPC endpoints: Payments are mocked")
	}
	urls := c.chain.ResolvedRPCURLs()
	if len(urls) == 0 {
		return r.fail("RPC endpoints: None configured", "Set chain.rpc_url or chain.rpc_urls")
	}

	var failed []string
	var best time.Duration
	for _, url := range urls {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		latency, err := c.probe(pctx, url, c.chain.ChainID)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", url, err))
			continue
		}
		if best == 0 || latency < best {
			best = latency
		}
	}

	healthy := len(urls) - len(failed)
	msg := fmt.Sprintf("RPC endpoints: %d/%d serve chain %d", healthy, len(urls), c.chain.ChainID)
	switch {
	case healthy == 0:
		return r.fail(msg, strings.Join(failed, "\n    "))
	case len(failed) > 0:
		return r.warn(msg, strings.Join(failed, "\n    "))
	}
	return r.ok(fmt.Sprintf("%s, fastest %s", msg, best.Round(time.Millisecond)))
}

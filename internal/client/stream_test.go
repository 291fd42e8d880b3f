package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/payment"
	"github.com/moltbunker/tierstake/internal/staking"
)

func TestAPIClient_StreamEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub(nil)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	owner := newKeyWallet(t)
	ledger, err := staking.NewService(staking.Config{
		Clock: clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		Owner: owner.Address(),
		Token: payment.NewMockTokenContract(custody),
		Sinks: []staking.EventSink{hub},
	})
	require.NoError(t, err)

	srv, err := api.NewServer(api.Options{Config: config.DefaultAPIConfig(), Ledger: ledger, Hub: hub})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	got := make(chan staking.Event, 4)
	streamDone := make(chan error, 1)
	c := NewAPIClient(ts.URL, nil)
	go func() {
		streamDone <- c.StreamEvents(ctx, []string{string(staking.EventPaused)}, func(ev staking.Event) {
			got <- ev
		})
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, ledger.Pause(owner.Address()))

	select {
	case ev := <-got:
		assert.Equal(t, staking.EventPaused, ev.Kind)
		assert.Equal(t, owner.Address(), ev.Actor)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-streamDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	<-hubDone
}

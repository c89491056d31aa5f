package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id string

	mu     sync.Mutex
	err    error
	pings  int
	closed string
}

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.err
}

func (f *fakePeer) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
}

func (f *fakePeer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePeer) closedWith() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func healthOf(h *Hub, id string) *PeerHealth {
	for _, hc := range h.Peers() {
		if hc.ID == id {
			return &hc
		}
	}
	return nil
}

func TestNewHub(t *testing.T) {
	h := NewHub(5*time.Second, 0)
	assert.Equal(t, 5*time.Second, h.interval)
	assert.Equal(t, 1, h.maxFailures, "non-positive failures is clamped")
	assert.Zero(t, h.Len())
}

func TestHubAddRemove(t *testing.T) {
	h := NewHub(time.Hour, 3)
	before := testutil.ToFloat64(mPeers)

	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	h.Add(a)
	h.Add(b)
	h.Add(a) // re-adding does not double count
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, before+2, testutil.ToFloat64(mPeers))

	hc := healthOf(h, "a")
	require.NotNil(t, hc)
	assert.Equal(t, "a", hc.ID)
	assert.Nil(t, healthOf(h, "missing"))

	peers := h.Peers()
	require.Len(t, peers, 2)
	assert.False(t, peers[1].Connected.Before(peers[0].Connected), "oldest connection first")

	h.Remove("a")
	h.Remove("a")
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(mPeers))
	assert.Empty(t, a.closedWith(), "Remove does not close")

	h.Remove("b")
	assert.Equal(t, before, testutil.ToFloat64(mPeers))
}

// TestHubDropsDeadPeers verifies a peer is closed only after maxFailures
// consecutive missed pings and that a pong resets the count
func TestHubDropsDeadPeers(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Hour, 3)
	healthy := &fakePeer{id: "healthy"}
	flaky := &fakePeer{id: "flaky", err: errors.New("timeout")}
	h.Add(healthy)
	h.Add(flaky)

	h.pingAll(ctx)
	h.pingAll(ctx)
	require.NotNil(t, healthOf(h, "flaky"))
	assert.Equal(t, 2, healthOf(h, "flaky").ConsecutiveFails)

	flaky.setErr(nil)
	h.pingAll(ctx)
	assert.Zero(t, healthOf(h, "flaky").ConsecutiveFails)

	flaky.setErr(errors.New("timeout"))
	for i := 0; i < 3; i++ {
		h.pingAll(ctx)
	}
	assert.Nil(t, healthOf(h, "flaky"))
	assert.Equal(t, "keepalive timeout", flaky.closedWith())

	require.NotNil(t, healthOf(h, "healthy"))
	assert.Empty(t, healthy.closedWith())
	assert.Equal(t, 6, healthy.pings)
}

func TestHubPeersEmpty(t *testing.T) {
	peers := NewHub(time.Hour, 1).Peers()
	assert.NotNil(t, peers)
	assert.Empty(t, peers)
}

func TestHubRunClosesPeersOnShutdown(t *testing.T) {
	h := NewHub(10*time.Millisecond, 3)
	p := &fakePeer{id: "p"}
	h.Add(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.pings > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, "server shutting down", p.closedWith())
	assert.Zero(t, h.Len())
}

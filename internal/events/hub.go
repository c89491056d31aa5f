package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// Peer is a connected client the hub keeps alive.
type Peer interface {
	ID() string
	Ping(ctx context.Context) error
	Close(reason string)
}

// PeerHealth is a snapshot of one peer's keepalive state.
type PeerHealth struct {
	ID               string    `json:"id"`
	Connected        time.Time `json:"connected"`
	LastPong         time.Time `json:"last_pong"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

type peerState struct {
	peer   Peer
	health PeerHealth
}

// Hub tracks connected peers and pings them on an interval. A peer that
// misses maxFailures consecutive pings is closed and forgotten. When Run
// returns every remaining peer is closed, so shutdown does not wait on
// hijacked connections the HTTP server no longer tracks.
type Hub struct {
	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	mu    sync.RWMutex
	peers map[string]*peerState
}

// NewHub creates a hub pinging every interval. Each ping may take at most
// the interval itself before it counts as missed.
func NewHub(interval time.Duration, maxFailures int) *Hub {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Hub{
		interval:    interval,
		timeout:     interval,
		maxFailures: maxFailures,
		peers:       make(map[string]*peerState),
	}
}

// Add starts tracking p.
func (h *Hub) Add(p Peer) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.ID()]; !ok {
		mPeers.Inc()
	}
	h.peers[p.ID()] = &peerState{
		peer:   p,
		health: PeerHealth{ID: p.ID(), Connected: now, LastPong: now},
	}
}

// Remove stops tracking the peer with id. It does not close it.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; ok {
		delete(h.peers, id)
		mPeers.Dec()
	}
}

// Len returns the number of tracked peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Peers returns the keepalive state of every tracked peer, oldest
// connection first.
func (h *Hub) Peers() []PeerHealth {
	h.mu.RLock()
	out := make([]PeerHealth, 0, len(h.peers))
	for _, st := range h.peers {
		out = append(out, st.health)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b PeerHealth) int {
		if c := a.Connected.Compare(b.Connected); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Run pings peers until ctx is done, then closes them all.
func (h *Hub) Run(ctx context.Context) {
	log := clog.FromContext(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Infof("Event hub started with ping interval %v", h.interval)
	for {
		select {
		case <-ticker.C:
			h.pingAll(ctx)
		case <-ctx.Done():
			h.closeAll("server shutting down")
			log.Info("Event hub stopped")
			return
		}
	}
}

func (h *Hub) snapshot() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Peer, 0, len(h.peers))
	for _, st := range h.peers {
		out = append(out, st.peer)
	}
	return out
}

func (h *Hub) pingAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(16)
	for _, p := range h.snapshot() {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			h.record(ctx, p, p.Ping(pctx))
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) record(ctx context.Context, p Peer, err error) {
	log := clog.FromContext(ctx).With("peer", p.ID())

	h.mu.Lock()
	st, ok := h.peers[p.ID()]
	if !ok {
		h.mu.Unlock()
		return
	}
	if err == nil {
		st.health.ConsecutiveFails = 0
		st.health.LastPong = time.Now()
		h.mu.Unlock()
		return
	}

	st.health.ConsecutiveFails++
	fails := st.health.ConsecutiveFails
	dead := fails >= h.maxFailures
	if dead {
		delete(h.peers, p.ID())
		mPeers.Dec()
	}
	h.mu.Unlock()

	log.Warnf("Ping failed (attempt %d/%d): %v", fails, h.maxFailures, err)
	if dead {
		log.Infof("Peer disconnected after %d missed pings", fails)
		p.Close("keepalive timeout")
	}
}

func (h *Hub) closeAll(reason string) {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peerState)
	mPeers.Sub(float64(len(peers)))
	h.mu.Unlock()

	for _, st := range peers {
		st.peer.Close(reason)
	}
}

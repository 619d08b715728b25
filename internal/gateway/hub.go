// Package gateway pushes engine views to dashboard WebSocket clients. The
// dashboard is a read-only mirror: clients receive state, they never change
// it.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types.
const (
	TypeView    = "view"
	TypeSignals = "signals"
	TypeStatus  = "status"
)

// MarketClock reports the trading window state for status frames.
type MarketClock interface {
	InWindow(t time.Time) bool
	StatusString(t time.Time) string
}

// Hub manages WebSocket clients and fans out envelopes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string][]byte // last envelope per message type
	seq     int64
	replay  *ReplayBuffer

	upgrader websocket.Upgrader

	// OnClientCount, if set, is called with the client count after every
	// connect and disconnect.
	OnClientCount func(n int)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string][]byte),
		replay:  NewReplayBuffer(200),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// PublishView broadcasts an encoded engine view.
func (h *Hub) PublishView(_ context.Context, view []byte) error {
	h.Broadcast(TypeView, view)
	return nil
}

// Broadcast wraps data in an envelope and sends it to every client. Slow
// clients drop messages rather than block the sender.
func (h *Hub) Broadcast(kind string, data []byte) {
	h.mu.Lock()
	h.seq++
	env := buildEnvelope(kind, data, time.Now().UTC(), h.seq)
	h.latest[kind] = env
	h.replay.Push(h.seq, env)
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.trySend(env)
	}
}

// buildEnvelope hand-crafts {"type":..,"data":..,"ts":..,"seq":N}.
func buildEnvelope(kind string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(kind)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request and registers the client. A client that
// reconnects with ?since=<seq> gets the envelopes it missed if they are
// still buffered, otherwise the latest envelope of each type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	initial := h.initialState(since)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
	for _, env := range initial {
		c.trySend(env)
	}
	go c.writePump()
	go c.readPump()
}

// initialState must be called with h.mu held.
func (h *Hub) initialState(since int64) [][]byte {
	if since > 0 {
		if missed, ok := h.replay.Since(since); ok {
			return missed
		}
	}
	out := make([][]byte, 0, len(h.latest))
	for _, kind := range []string{TypeStatus, TypeSignals, TypeView} {
		if env, ok := h.latest[kind]; ok {
			out = append(out, env)
		}
	}
	return out
}

// removeClient unregisters c and closes its send queue.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	log.Printf("[gateway] ws client disconnected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// StartStatusBroadcast sends the market status to all clients every
// interval until ctx is cancelled.
func (h *Hub) StartStatusBroadcast(ctx context.Context, clock MarketClock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			data, _ := json.Marshal(map[string]interface{}{
				"marketOpen":   clock.InWindow(now),
				"marketStatus": clock.StatusString(now),
				"clients":      h.ClientCount(),
			})
			h.Broadcast(TypeStatus, data)
		}
	}
}

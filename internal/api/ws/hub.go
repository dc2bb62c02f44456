// Package ws streams recovery events to connected dashboard clients over
// WebSocket, so operators see rollbacks and recreations as they happen.
package ws

import (
	"sync"

	"github.com/wpperf/dashkeeper/internal/engine/errlog"
)

// Hub fans recorded recovery events out to connected clients. It
// subscribes to the event log once; clients come and go.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub wired to the event log.
func NewHub(log *errlog.Log) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	log.Subscribe(h.broadcast)
	return h
}

// broadcast runs inside errlog.Record and must not block: slow clients
// lose events rather than stalling the engine.
func (h *Hub) broadcast(e errlog.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.events <- e:
		default:
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

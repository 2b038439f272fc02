package ws

import (
	"sync"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/metrics"
)

// Sink is one locally attached connection.
type Sink interface {
	ID() domain.ConnID
	// Enqueue queues ev without blocking and reports whether it was accepted.
	Enqueue(ev domain.Event) bool
	Close() error
}

// Hub addresses attached connections by id.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]Sink
}

func NewHub() *Hub {
	return &Hub{conns: make(map[domain.ConnID]Sink)}
}

func (h *Hub) Add(c Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

func (h *Hub) Remove(id domain.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Deliver queues ev for every attached connection in to. Unknown ids are
// skipped; full queues drop the event for that recipient only.
func (h *Hub) Deliver(to []domain.ConnID, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range to {
		c, ok := h.conns[id]
		if !ok {
			continue
		}
		if !c.Enqueue(ev) {
			metrics.OutboundDropped.Inc()
		}
	}
}

// CloseAll closes every attached connection. Each read loop then runs its
// normal disconnect path. http.Server.Shutdown does not reach hijacked
// sockets, so the serve command calls this during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Sink, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

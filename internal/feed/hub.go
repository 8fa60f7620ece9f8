package feed

import (
	"context"
	"sync"
)

// Hub keeps the set of open feed subscriptions grouped by user so they can be
// counted and cancelled together on shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*subscription]struct{}
	closed  bool
}

type subscription struct {
	userID int64
	cancel context.CancelFunc
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*subscription]struct{})}
}

// Subscribe registers a stream for userID. The returned context is cancelled
// when the parent is done or the hub closes; release must be called when the
// stream ends.
func (h *Hub) Subscribe(parent context.Context, userID int64) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	sub := &subscription{userID: userID, cancel: cancel}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return ctx, func() {}
	}
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*subscription]struct{})
	}
	h.clients[userID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			h.remove(sub)
		})
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[sub.userID]; ok {
		delete(clients, sub)
		if len(clients) == 0 {
			delete(h.clients, sub.userID)
		}
	}
}

// CloseAll cancels every open subscription and refuses new ones. Long-lived
// streams would otherwise hold http.Server.Shutdown until its deadline.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.clients {
		for sub := range clients {
			sub.cancel()
		}
	}
}

func (h *Hub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

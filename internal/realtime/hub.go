// Package realtime fans committed item changes out to live watchers.
//
// Hub delivers within one server process. AMQPRelay extends delivery across
// replicas by routing every change through a RabbitMQ topic exchange and
// feeding consumed messages back into the local Hub.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/larder/internal/model"
)

const defaultBuffer = 64

type subscriber struct {
	ch chan model.Change
}

// Hub keeps per-owner subscriber channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
	buf  int
	log  *zap.Logger

	// OnDrop, if set, is called for every change discarded because a
	// subscriber's buffer was full.
	OnDrop func(owner string)
}

// NewHub constructs a hub with per-subscriber buffers of size buf.
func NewHub(buf int, log *zap.Logger) *Hub {
	if buf <= 0 {
		buf = defaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: map[string]map[*subscriber]struct{}{}, buf: buf, log: log}
}

// Subscribe registers a watcher for owner. The returned cancel func removes
// the watcher and closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe(owner string) (<-chan model.Change, func()) {
	s := &subscriber{ch: make(chan model.Change, h.buf)}

	h.mu.Lock()
	set, ok := h.subs[owner]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.subs[owner] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[owner], s)
			if len(h.subs[owner]) == 0 {
				delete(h.subs, owner)
			}
			close(s.ch)
		})
	}
}

// Publish delivers ch to every watcher of ch.OwnerID without blocking.
// Slow watchers lose the change.
func (h *Hub) Publish(_ context.Context, ch model.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ch.OwnerID] {
		select {
		case s.ch <- ch:
		default:
			h.log.Warn("realtime subscriber lagging, change dropped",
				zap.String("owner", ch.OwnerID), zap.String("id", ch.ID))
			if h.OnDrop != nil {
				h.OnDrop(ch.OwnerID)
			}
		}
	}
}

// Watchers returns the number of live watchers of owner.
func (h *Hub) Watchers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}

package core

import (
	"context"
	"sync"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// group is the live subscriber set of one room.
type group struct {
	mu    sync.RWMutex
	bySID map[SessionID]Subscriber
}

func (g *group) snapshot() []Subscriber {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Subscriber, 0, len(g.bySID))
	for _, s := range g.bySID {
		out = append(out, s)
	}
	return out
}

// Hub is the in-process GroupBroadcaster: one group per room id.
type Hub struct {
	mu     sync.RWMutex
	groups map[domain.RoomID]*group
}

func NewHub() *Hub {
	return &Hub{groups: make(map[domain.RoomID]*group)}
}

// Subscribe holds the hub lock while attaching so a concurrent Unsubscribe
// cannot drop the group between lookup and insert.
func (h *Hub) Subscribe(id domain.RoomID, sub Subscriber) {
	h.mu.Lock()
	g, ok := h.groups[id]
	if !ok {
		g = &group{bySID: make(map[SessionID]Subscriber)}
		h.groups[id] = g
	}
	g.mu.Lock()
	g.bySID[sub.SessionID()] = sub
	g.mu.Unlock()
	h.mu.Unlock()
	log.Info().Str("module", "core.hub").Str("room", string(id)).Str("sid", string(sub.SessionID())).Msg("subscribed")
}

func (h *Hub) Unsubscribe(id domain.RoomID, sid SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[id]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.bySID, sid)
	empty := len(g.bySID) == 0
	g.mu.Unlock()
	if empty {
		delete(h.groups, id)
	}
	log.Info().Str("module", "core.hub").Str("room", string(id)).Str("sid", string(sid)).Msg("unsubscribed")
}

// Publish hands ev to every subscriber of the room. Subscribers enqueue
// without blocking, so a publisher's events keep their order per subscriber.
func (h *Hub) Publish(_ context.Context, id domain.RoomID, ev Event) {
	h.mu.RLock()
	g, ok := h.groups[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	subs := g.snapshot()
	for _, s := range subs {
		s.Deliver(ev)
	}
	log.Debug().Str("module", "core.hub").Str("room", string(id)).Str("type", string(ev.Type)).Int("sent_to", len(subs)).Msg("publish")
}

func (h *Hub) SubscriberCount(id domain.RoomID) int {
	h.mu.RLock()
	g, ok := h.groups[id]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bySID)
}

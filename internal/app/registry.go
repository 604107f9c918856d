package app

import (
	"sync"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room    domain.RoomID
	User    domain.UserID
	Session core.Subscriber
	Cancel  func()
}

// Registry tracks the live sessions of this node.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

// Bind registers sess and returns the sessions the same identity already
// holds in the same room.
func (r *Registry) Bind(
	room domain.RoomID,
	user domain.UserID,
	sess core.Subscriber,
	cancel func(),
) []core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var older []core.SessionID
	for sid, e := range r.sessions {
		if e.Room == room && e.User == user {
			older = append(older, sid)
		}
	}
	r.sessions[sess.SessionID()] = &sessionEntry{
		Room:    room,
		User:    user,
		Session: sess,
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sess.SessionID())).Str("room", string(room)).Msg("bound session")
	return older
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// RoomCount returns how many sessions this node holds for room.
func (r *Registry) RoomCount(room domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.Room == room {
			n++
		}
	}
	return n
}

// Cancel runs the close func a session was bound with. It reports false
// for unknown sessions.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

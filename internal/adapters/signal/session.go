package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateSubscribed
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateSubscribed:
		return "subscribed"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// hostOnly events are dropped for everyone but the room host.
var hostOnly = map[core.EventType]bool{
	core.EventJoinRequest: true,
}

// lobbyVisible events reach sessions that are still waiting for approval.
var lobbyVisible = map[core.EventType]bool{
	core.EventMeetingStarted: true,
	core.EventMeetingEnded:   true,
}

// session is one connected client. It is the Subscriber registered with
// the room group and owns the filtering of everything delivered to it.
type session struct {
	id      core.SessionID
	user    domain.User
	room    *domain.Room
	conn    *WsSignalConn
	ctl     *SignalWSController
	limiter *RateLimiter
	cancel  context.CancelFunc

	state    atomic.Int32
	admitted atomic.Bool
	code     atomic.Int32
	reason   atomic.Value
	kickOnce sync.Once
	written  chan struct{}
}

func newSession(
	ctl *SignalWSController,
	id core.SessionID,
	user domain.User,
	room *domain.Room,
	conn *WsSignalConn,
	cancel context.CancelFunc,
) *session {
	return &session{
		id:      id,
		user:    user,
		room:    room,
		conn:    conn,
		ctl:     ctl,
		limiter: NewRateLimiter(ctl.Opts.RateLimits, ctl.Opts.RateDefault, rateWindow),
		cancel:  cancel,
		written: make(chan struct{}),
	}
}

func (s *session) SessionID() core.SessionID { return s.id }

func (s *session) setState(st sessionState) { s.state.Store(int32(st)) }

func (s *session) currentState() sessionState { return sessionState(s.state.Load()) }

// transition moves to st and reports false when the session already was there.
func (s *session) transition(st sessionState) bool {
	return sessionState(s.state.Swap(int32(st))) != st
}

func (s *session) closeCode() int { return int(s.code.Load()) }

// Deliver filters ev for this session and enqueues it without blocking.
func (s *session) Deliver(ev core.Event) {
	if s.currentState() == stateClosed || s.closing() {
		return
	}
	if ev.Type == core.EventUserLeft && ev.From == s.user.ID {
		if leftByRequest(ev) {
			s.kick(CloseNormal, "left the meeting")
		}
		return
	}
	if ev.From != "" && ev.From == s.user.ID {
		return
	}
	if ev.To != "" && ev.To != s.user.ID {
		return
	}
	if hostOnly[ev.Type] && !s.room.IsHost(s.user.ID) {
		return
	}

	switch ev.Type {
	case core.EventForceDisconnect:
		var p forceDisconnectPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("bad force_disconnect payload")
			return
		}
		if p.SessionID != s.id {
			log.Info().Str("module", "signal").Str("sid", string(s.id)).Str("replaced_by", string(p.SessionID)).Msg("duplicate connection")
			s.kick(CloseDuplicate, "duplicate connection")
		}
		return
	case core.EventMeetingEnded:
		s.kick(CloseNormal, "meeting ended", ev)
		return
	case core.EventApproval:
		s.admitted.Store(true)
	}

	if !s.admitted.Load() && ev.To != s.user.ID && !lobbyVisible[ev.Type] {
		return
	}
	s.enqueue(ev)
}

// leftByRequest reports whether a user_left came from an explicit leave
// rather than a dropped connection.
func leftByRequest(ev core.Event) bool {
	var p memberPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false
	}
	return p.Reason == app.LeftByRequest
}

func (s *session) enqueue(ev core.Event) {
	b, ok := encode(ev)
	if !ok {
		return
	}
	err := s.conn.TrySend(b)
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	action := app.KickMember
	if s.ctl.Policy != nil {
		action = s.ctl.Policy.OnBackPressure(s.room.ID, s.id, ev)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "signal").Str("sid", string(s.id)).Msg("send buffer full, kicking")
		s.kick(CloseGeneric, "connection too slow")
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "signal").Str("sid", string(s.id)).Str("type", string(ev.Type)).Msg("frame dropped")
	}
}

func encode(ev core.Event) (core.Frame, bool) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", string(ev.Type)).Msg("marshal event")
		return nil, false
	}
	return b, true
}

// send writes ev to this session only, bypassing delivery filters.
func (s *session) send(ev core.Event) { s.enqueue(ev) }

func (s *session) sendError(code, message string) {
	s.enqueue(core.ErrorEvent(code, message))
}

// closing reports whether the session has been told to close.
func (s *session) closing() bool { return s.closeCode() != 0 }

func (s *session) closeReason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return ""
}

// kick marks the session closed with code and queues last as its final
// frames. It never writes to the socket; the write pump flushes the queue
// and sends the close frame.
func (s *session) kick(code int, reason string, last ...core.Event) {
	s.kickOnce.Do(func() {
		s.reason.Store(reason)
		s.code.Store(int32(code))
		for _, ev := range last {
			if b, ok := encode(ev); ok {
				_ = s.conn.TrySend(b)
			}
		}
		s.cancel()
	})
}

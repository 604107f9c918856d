package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageType is the closed set of inbound message types.
type MessageType string

const (
	MsgJoin             MessageType = "join"
	MsgJoinReady        MessageType = "join_ready"
	MsgOffer            MessageType = "offer"
	MsgAnswer           MessageType = "answer"
	MsgICECandidate     MessageType = "ice_candidate"
	MsgTrackState       MessageType = "track_state"
	MsgChat             MessageType = "chat"
	MsgReaction         MessageType = "reaction"
	MsgRaiseHand        MessageType = "raise_hand"
	MsgLowerHand        MessageType = "lower_hand"
	MsgScreenShareStart MessageType = "screen_share_start"
	MsgScreenShareStop  MessageType = "screen_share_stop"
	MsgPing             MessageType = "ping"
)

// Error codes carried by outbound error frames.
const (
	ErrCodeMalformed      = "malformed_message"
	ErrCodeUnknownType    = "unknown_message_type"
	ErrCodeRateLimited    = "rate_limit_exceeded"
	ErrCodeNotAdmitted    = "not_admitted"
	ErrCodeInvalidSignal  = "invalid_signal"
	ErrCodeInvalidContent = "invalid_message_content"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeInternal       = "internal_error"
)

// inbound is the client envelope.
type inbound struct {
	Type       MessageType     `json:"type"`
	ToIdentity domain.UserID   `json:"toIdentity,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type handlerFunc func(ctl *SignalWSController, ctx context.Context, s *session, in inbound)

var handlers = map[MessageType]handlerFunc{
	MsgJoin:             (*SignalWSController).handleJoin,
	MsgJoinReady:        (*SignalWSController).handleJoinReady,
	MsgOffer:            (*SignalWSController).handleRelay,
	MsgAnswer:           (*SignalWSController).handleRelay,
	MsgICECandidate:     (*SignalWSController).handleRelay,
	MsgTrackState:       (*SignalWSController).handleRelay,
	MsgChat:             (*SignalWSController).handleChat,
	MsgReaction:         (*SignalWSController).handleReaction,
	MsgRaiseHand:        (*SignalWSController).handleHand,
	MsgLowerHand:        (*SignalWSController).handleHand,
	MsgScreenShareStart: (*SignalWSController).handleScreenShare,
	MsgScreenShareStop:  (*SignalWSController).handleScreenShare,
	MsgPing:             (*SignalWSController).handlePing,
}

func (ctl *SignalWSController) writePump(ctx context.Context, s *session) {
	defer close(s.written)
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer ticker.Stop()
	c := s.conn
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(s.id)).Msg("writePump ctx done")
			ctl.flush(s)
			code, reason := s.closeCode(), s.closeReason()
			if code == 0 {
				code, reason = websocket.CloseGoingAway, "session closed"
			}
			c.CloseWith(code, reason)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(s.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, all within one WriteWait.
func (ctl *SignalWSController) flush(s *session) {
	c := s.conn
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
		return
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("flush")
				return
			}
		default:
			return
		}
	}
}

// readPump owns the session: its deferred teardown runs on every exit path.
func (ctl *SignalWSController) readPump(ctx context.Context, s *session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(s.id)).Interface("panic", r).Msg("readPump panic")
		}
		ctl.teardown(s)
	}()

	c := s.conn.conn
	c.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil || s.closing() {
			return
		}
		ctl.dispatch(ctx, s, data)
	}
}

// dispatch routes one inbound frame. Every failure is reported to the
// sender as an error frame and the session continues.
func (ctl *SignalWSController) dispatch(ctx context.Context, s *session, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		log.Debug().Err(domain.ErrMalformedMessage).Str("module", "signal").Str("sid", string(s.id)).Msg("dropped frame")
		s.sendError(ErrCodeMalformed, "message must be a JSON object with a type")
		return
	}
	h, ok := handlers[in.Type]
	if !ok {
		s.sendError(ErrCodeUnknownType, fmt.Sprintf("unknown message type %q", in.Type))
		return
	}
	if !s.admitted.Load() && in.Type != MsgPing {
		s.sendError(ErrCodeNotAdmitted, "waiting for host approval")
		return
	}
	if !s.limiter.Allow(in.Type) {
		log.Debug().Err(domain.ErrRateLimited).Str("module", "signal").Str("sid", string(s.id)).Str("type", string(in.Type)).Msg("dropped frame")
		s.sendError(ErrCodeRateLimited, fmt.Sprintf("too many %s messages", in.Type))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(s.id)).Str("type", string(in.Type)).Interface("panic", r).Msg("handler panic")
			s.sendError(ErrCodeInternal, "internal error")
		}
	}()
	h(ctl, ctx, s, in)
}

package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventJoinReady        EventType = "join_ready"
	EventParticipantsList EventType = "participants_list"
	EventApproval         EventType = "approval_notification"
	EventRejection        EventType = "rejection_notification"
	EventJoinRequest      EventType = "join_request_notification"
	EventMeetingStarted   EventType = "meeting_started"
	EventMeetingEnded     EventType = "meeting_ended"
	EventOffer            EventType = "offer"
	EventAnswer           EventType = "answer"
	EventICECandidate     EventType = "ice_candidate"
	EventTrackState       EventType = "track_state"
	EventChatMessage      EventType = "chat_message"
	EventReaction         EventType = "reaction"
	EventHandRaise        EventType = "hand_raise"
	EventScreenShare      EventType = "screen_share"
	EventForceDisconnect  EventType = "force_disconnect"
	EventPong             EventType = "pong"
	EventError            EventType = "error"
)

// Event is the room-scoped envelope carried by the GroupBroadcaster and
// written to clients as-is. From and To drive receiver-side filtering.
type Event struct {
	Type      EventType       `json:"type"`
	From      domain.UserID   `json:"fromIdentity,omitempty"`
	To        domain.UserID   `json:"toIdentity,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into a fresh event stamped with the current UTC time.
func NewEvent(kind EventType, payload any) Event {
	ev := Event{Type: kind, Timestamp: time.Now().UTC()}
	if payload == nil {
		return ev
	}
	if raw, ok := payload.(json.RawMessage); ok {
		ev.Payload = raw
		return ev
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "core.event").Str("type", string(kind)).Msg("marshal payload")
		return ev
	}
	ev.Payload = b
	return ev
}

// ErrorEvent is the typed error frame sent to a single session.
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Error: code, Message: message, Timestamp: time.Now().UTC()}
}

package core

import (
	"context"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
)

// Frame is one serialized outbound websocket message.
type Frame []byte

type SessionID string

// SignalConnection abstracts the messaging transport of one session.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Subscriber is a live session attached to a room group.
// Deliver must not block; it filters and enqueues.
type Subscriber interface {
	SessionID() SessionID
	Deliver(Event)
}

// GroupBroadcaster fans events out to every session subscribed to a room.
// Publish returns immediately and gives no delivery guarantee; events from one
// publisher reach each subscriber in publish order.
type GroupBroadcaster interface {
	Subscribe(group domain.RoomID, sub Subscriber)
	Unsubscribe(group domain.RoomID, sid SessionID)
	Publish(ctx context.Context, group domain.RoomID, ev Event)
}

// IdentityResolver maps a connection or request credential to a user.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (domain.User, error)
}

type RoomStore interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// ListRooms returns rooms in the given statuses, newest first. No statuses means all.
	ListRooms(ctx context.Context, statuses ...domain.RoomStatus) ([]domain.Room, error)
	// StartRoom reports changed=false when the room already is active or ended.
	StartRoom(ctx context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error)
	// EndRoom ends the room and moves every approved participant to left in one step.
	EndRoom(ctx context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error)
}

// ParticipantStore mutations are atomic per room: capacity checks and the
// status change they guard never interleave with another mutation.
type ParticipantStore interface {
	// RequestJoin reports notify=true when a new or reopened pending request was written.
	RequestJoin(ctx context.Context, room domain.RoomID, user domain.User, at time.Time) (*domain.Participant, bool, error)
	ApproveParticipant(ctx context.Context, room domain.RoomID, id domain.ParticipantID, at time.Time) (*domain.Participant, bool, error)
	RejectParticipant(ctx context.Context, room domain.RoomID, id domain.ParticipantID) (*domain.Participant, bool, error)
	LeaveRoom(ctx context.Context, room domain.RoomID, user domain.UserID, at time.Time) (*domain.Participant, error)
	FindParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Participant, error)
	ListParticipants(ctx context.Context, room domain.RoomID, status domain.ParticipantStatus) ([]domain.Participant, error)
	CountParticipants(ctx context.Context, room domain.RoomID, status domain.ParticipantStatus) (int, error)
}

type InteractionStore interface {
	SaveChatMessage(ctx context.Context, msg *domain.ChatMessage) error
	// ListChatMessages returns the latest limit messages, oldest first.
	ListChatMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
	SaveReaction(ctx context.Context, r *domain.Reaction) error
	SetRaisedHand(ctx context.Context, room domain.RoomID, user domain.User, raised bool, at time.Time) (*domain.RaisedHand, error)
	ListRaisedHands(ctx context.Context, room domain.RoomID) ([]domain.RaisedHand, error)

	SaveSignal(ctx context.Context, msg *domain.SignalMessage) error
	// ListSignals returns signals addressed to receiver or unaddressed, not sent
	// by receiver, created at or after since, oldest first.
	ListSignals(ctx context.Context, room domain.RoomID, receiver domain.UserID, since time.Time) ([]domain.SignalMessage, error)
	PurgeSignals(ctx context.Context, before time.Time) (int64, error)
}

type Store interface {
	RoomStore
	ParticipantStore
	InteractionStore
}

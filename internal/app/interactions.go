package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type HandAction string

const (
	HandRaise HandAction = "raise"
	HandLower HandAction = "lower"
)

type reactionPayload struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	Reaction string        `json:"reaction"`
}

type handPayload struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	Action   HandAction    `json:"action"`
}

// requireAdmitted returns the room when caller is its host or an approved participant.
func (l *Lifecycle) requireAdmitted(ctx context.Context, caller domain.User, id domain.RoomID) (*domain.Room, error) {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room.IsHost(caller.ID) {
		return room, nil
	}
	p, err := l.Store.FindParticipant(ctx, id, caller.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if !room.Admitted(caller.ID, p) {
		return nil, domain.ErrForbidden
	}
	return room, nil
}

// liveRoom fails with a validation error once the room has ended.
func (l *Lifecycle) liveRoom(ctx context.Context, id domain.RoomID) error {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if room.Status == domain.RoomEnded {
		return domain.Invalid("roomId", "meeting has ended")
	}
	return nil
}

// Chat persists a message and then relays it to the room.
func (l *Lifecycle) Chat(ctx context.Context, id domain.RoomID, sender domain.User, content string) (*domain.ChatMessage, error) {
	msg, err := domain.NewChatMessage(id, sender, content, l.Now())
	if err != nil {
		return nil, err
	}
	if err := l.liveRoom(ctx, id); err != nil {
		return nil, err
	}
	if err := l.Store.SaveChatMessage(ctx, msg); err != nil {
		return nil, err
	}
	ev := core.NewEvent(core.EventChatMessage, msg)
	ev.From = sender.ID
	l.publish(ctx, id, ev)
	return msg, nil
}

func (l *Lifecycle) React(ctx context.Context, id domain.RoomID, user domain.User, kind string) (*domain.Reaction, error) {
	r, err := domain.NewReaction(id, user, kind, l.Now())
	if err != nil {
		return nil, err
	}
	if err := l.liveRoom(ctx, id); err != nil {
		return nil, err
	}
	if err := l.Store.SaveReaction(ctx, r); err != nil {
		return nil, err
	}
	ev := core.NewEvent(core.EventReaction, reactionPayload{Identity: user.ID, Username: user.Username, Reaction: r.Kind})
	ev.From = user.ID
	l.publish(ctx, id, ev)
	return r, nil
}

func (l *Lifecycle) SetHand(ctx context.Context, id domain.RoomID, user domain.User, action HandAction) (*domain.RaisedHand, error) {
	if err := l.liveRoom(ctx, id); err != nil {
		return nil, err
	}
	hand, err := l.Store.SetRaisedHand(ctx, id, user, action == HandRaise, l.Now())
	if err != nil {
		return nil, err
	}
	ev := core.NewEvent(core.EventHandRaise, handPayload{Identity: user.ID, Username: user.Username, Action: action})
	ev.From = user.ID
	l.publish(ctx, id, ev)
	return hand, nil
}

// ChatHistory returns up to limit latest messages, oldest first.
func (l *Lifecycle) ChatHistory(ctx context.Context, caller domain.User, id domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if _, err := l.requireAdmitted(ctx, caller, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return l.Store.ListChatMessages(ctx, id, limit)
}

func (l *Lifecycle) RaisedHands(ctx context.Context, caller domain.User, id domain.RoomID) ([]domain.RaisedHand, error) {
	if _, err := l.requireAdmitted(ctx, caller, id); err != nil {
		return nil, err
	}
	return l.Store.ListRaisedHands(ctx, id)
}

// PostSignal stores a negotiation signal for peers that poll instead of
// holding a websocket.
func (l *Lifecycle) PostSignal(ctx context.Context, caller domain.User, id domain.RoomID, kind string, to domain.UserID, payload json.RawMessage) (*domain.SignalMessage, error) {
	room, err := l.requireAdmitted(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomEnded {
		return nil, domain.Invalid("roomId", "meeting has ended")
	}
	msg, err := domain.NewSignalMessage(id, caller, to, kind, payload, l.Now())
	if err != nil {
		return nil, err
	}
	if err := l.Store.SaveSignal(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// PullSignals returns the signals for caller that are still inside the retention window.
func (l *Lifecycle) PullSignals(ctx context.Context, caller domain.User, id domain.RoomID) ([]domain.SignalMessage, error) {
	if _, err := l.requireAdmitted(ctx, caller, id); err != nil {
		return nil, err
	}
	return l.Store.ListSignals(ctx, id, caller.ID, l.Now().Add(-l.SignalTTL))
}

// PurgeSignals drops signals older than the retention window.
func (l *Lifecycle) PurgeSignals(ctx context.Context) (int64, error) {
	return l.Store.PurgeSignals(ctx, l.Now().Add(-l.SignalTTL))
}

package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxChatLen     = 1000
	MaxReactionLen = 32
)

type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     RoomID    `json:"roomId"`
	SenderID   UserID    `json:"senderIdentity"`
	SenderName string    `json:"sender"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewChatMessage trims content and rejects empty or over-long messages.
func NewChatMessage(room RoomID, sender User, content string, now time.Time) (*ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Invalid("content", "message content is required")
	}
	if utf8.RuneCountInString(content) > MaxChatLen {
		return nil, Invalid("content", "message content must be at most 1000 characters")
	}
	return &ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     room,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    content,
		CreatedAt:  now,
	}, nil
}

type Reaction struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	UserID    UserID    `json:"identity"`
	Username  string    `json:"username"`
	Kind      string    `json:"reaction"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewReaction(room RoomID, user User, kind string, now time.Time) (*Reaction, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, Invalid("reaction", "reaction is required")
	}
	if utf8.RuneCountInString(kind) > MaxReactionLen {
		return nil, Invalid("reaction", "reaction must be at most 32 characters")
	}
	return &Reaction{
		ID:        uuid.NewString(),
		RoomID:    room,
		UserID:    user.ID,
		Username:  user.Username,
		Kind:      kind,
		CreatedAt: now,
	}, nil
}

// RaisedHand is kept per (room, identity); Active flips on raise and lower.
type RaisedHand struct {
	RoomID    RoomID     `json:"roomId"`
	UserID    UserID     `json:"identity"`
	Username  string     `json:"username"`
	Active    bool       `json:"isActive"`
	RaisedAt  *time.Time `json:"raisedAt,omitempty"`
	LoweredAt *time.Time `json:"loweredAt,omitempty"`
}

func (h *RaisedHand) Set(raised bool, now time.Time) {
	h.Active = raised
	if raised {
		h.RaisedAt = &now
		h.LoweredAt = nil
		return
	}
	h.LoweredAt = &now
}

// SignalMessage is a negotiation signal kept for the pull-based fallback.
type SignalMessage struct {
	ID         string          `json:"id"`
	RoomID     RoomID          `json:"roomId"`
	SenderID   UserID          `json:"fromIdentity"`
	SenderName string          `json:"fromUsername"`
	ReceiverID UserID          `json:"toIdentity,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"timestamp"`
}

// SignalTypes are the negotiation types accepted by the pull-based fallback.
var SignalTypes = map[string]bool{
	"offer":         true,
	"answer":        true,
	"ice_candidate": true,
}

func NewSignalMessage(room RoomID, sender User, to UserID, kind string, payload json.RawMessage, now time.Time) (*SignalMessage, error) {
	if !SignalTypes[kind] {
		return nil, Invalid("type", "type must be offer, answer or ice_candidate")
	}
	if !PayloadPresent(payload) {
		return nil, Invalid("payload", "payload is required")
	}
	return &SignalMessage{
		ID:         uuid.NewString(),
		RoomID:     room,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		ReceiverID: to,
		Type:       kind,
		Payload:    payload,
		CreatedAt:  now,
	}, nil
}

// PayloadPresent reports whether raw holds a non-empty JSON object.
func PayloadPresent(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

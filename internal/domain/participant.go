package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantID string

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantApproved ParticipantStatus = "approved"
	ParticipantRejected ParticipantStatus = "rejected"
	ParticipantLeft     ParticipantStatus = "left"
)

// Participant is the single membership row of one identity in one room.
// It is reused across rejoin cycles and never deleted.
type Participant struct {
	ID        ParticipantID     `json:"id"`
	RoomID    RoomID            `json:"roomId"`
	UserID    UserID            `json:"identity"`
	Username  string            `json:"username"`
	Status    ParticipantStatus `json:"status"`
	JoinedAt  *time.Time        `json:"joinedAt,omitempty"`
	LeftAt    *time.Time        `json:"leftAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func NewParticipant(room RoomID, user User, now time.Time) *Participant {
	return &Participant{
		ID:        ParticipantID(uuid.NewString()),
		RoomID:    room,
		UserID:    user.ID,
		Username:  user.Username,
		Status:    ParticipantPending,
		CreatedAt: now,
	}
}

// Reopen turns a rejected or left row back into a pending request.
// It reports false for rows that are already pending or approved.
func (p *Participant) Reopen() bool {
	switch p.Status {
	case ParticipantRejected, ParticipantLeft:
		p.Status = ParticipantPending
		p.JoinedAt = nil
		p.LeftAt = nil
		return true
	}
	return false
}

// Approve reports whether the row changed. Rows that are neither pending
// nor approved are rejected with a ValidationError.
func (p *Participant) Approve(now time.Time) (bool, error) {
	switch p.Status {
	case ParticipantApproved:
		return false, nil
	case ParticipantPending:
		p.Status = ParticipantApproved
		p.JoinedAt = &now
		return true, nil
	}
	return false, Invalid("participantId", "participant has no pending request")
}

func (p *Participant) Reject() (bool, error) {
	switch p.Status {
	case ParticipantRejected:
		return false, nil
	case ParticipantPending:
		p.Status = ParticipantRejected
		return true, nil
	}
	return false, Invalid("participantId", "participant has no pending request")
}

func (p *Participant) Leave(now time.Time) {
	p.Status = ParticipantLeft
	p.LeftAt = &now
}

// Admitted reports whether the identity may take part in the live session.
func (r *Room) Admitted(id UserID, p *Participant) bool {
	if r.IsHost(id) {
		return true
	}
	return p != nil && p.UserID == id && p.Status == ParticipantApproved
}

package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxSecretLen      = 50

	MinCapacity     = 2
	MaxCapacity     = 50
	DefaultCapacity = 10
)

type RoomID string

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

func (s RoomStatus) rank() int {
	switch s {
	case RoomWaiting:
		return 0
	case RoomActive:
		return 1
	case RoomEnded:
		return 2
	}
	return -1
}

// Reached reports whether the status is at or past target.
func (s RoomStatus) Reached(target RoomStatus) bool { return s.rank() >= target.rank() }

type Room struct {
	ID              RoomID     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	HostID          UserID     `json:"hostId"`
	HostUsername    string     `json:"hostUsername"`
	Status          RoomStatus `json:"status"`
	MaxParticipants int        `json:"maxParticipants"`
	SecretHash      string     `json:"-"`
	ScheduledTime   *time.Time `json:"scheduledTime,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// RoomParams is the caller-supplied part of a room.
type RoomParams struct {
	Title           string
	Description     string
	MaxParticipants *int
	Secret          string
	ScheduledTime   *time.Time
}

// Validate normalizes p in place and checks every bound.
func (p *RoomParams) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Secret = strings.TrimSpace(p.Secret)

	if p.Title == "" {
		return Invalid("title", "title is required")
	}
	if utf8.RuneCountInString(p.Title) > MaxTitleLen {
		return Invalid("title", "title must be at most 200 characters")
	}
	if utf8.RuneCountInString(p.Description) > MaxDescriptionLen {
		return Invalid("description", "description must be at most 1000 characters")
	}
	if utf8.RuneCountInString(p.Secret) > MaxSecretLen {
		return Invalid("secret", "secret must be at most 50 characters")
	}
	if p.MaxParticipants != nil {
		if *p.MaxParticipants < MinCapacity {
			return Invalid("maxParticipants", "maxParticipants must be at least 2")
		}
		if *p.MaxParticipants > MaxCapacity {
			return Invalid("maxParticipants", "maxParticipants must be at most 50")
		}
	}
	return nil
}

// NewRoom validates params and builds a waiting room owned by host.
// The secret is not copied; callers store its hash in SecretHash.
func NewRoom(host User, p RoomParams, now time.Time) (*Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	capacity := DefaultCapacity
	if p.MaxParticipants != nil {
		capacity = *p.MaxParticipants
	}
	return &Room{
		ID:              RoomID(uuid.NewString()),
		Title:           p.Title,
		Description:     p.Description,
		HostID:          host.ID,
		HostUsername:    host.Username,
		Status:          RoomWaiting,
		MaxParticipants: capacity,
		ScheduledTime:   p.ScheduledTime,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsHost is the only host check; REST handlers and the gateway both go through it.
func (r *Room) IsHost(id UserID) bool {
	return r != nil && id != "" && r.HostID == id
}

func (r *Room) HasSecret() bool { return r.SecretHash != "" }

// Start moves a waiting room to active. It reports false when the room
// already is active or ended.
func (r *Room) Start(now time.Time) bool {
	if r.Status.Reached(RoomActive) {
		return false
	}
	r.Status = RoomActive
	r.StartedAt = &now
	r.UpdatedAt = now
	return true
}

// End moves the room to its terminal state. It reports false when already ended.
func (r *Room) End(now time.Time) bool {
	if r.Status == RoomEnded {
		return false
	}
	r.Status = RoomEnded
	r.EndedAt = &now
	r.UpdatedAt = now
	return true
}

package gormstore

import (
	"time"

	"github.com/dkeye/meetroom/internal/domain"
)

type roomRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	Title           string `gorm:"size:200;not null"`
	Description     string `gorm:"size:1000"`
	HostID          string `gorm:"size:64;index;not null"`
	HostUsername    string `gorm:"size:150"`
	Status          string `gorm:"size:16;index;not null"`
	MaxParticipants int    `gorm:"not null"`
	SecretHash      string `gorm:"size:100"`
	ScheduledTime   *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

func (roomRecord) TableName() string { return "rooms" }

func roomToRecord(r *domain.Room) roomRecord {
	return roomRecord{
		ID:              string(r.ID),
		Title:           r.Title,
		Description:     r.Description,
		HostID:          string(r.HostID),
		HostUsername:    r.HostUsername,
		Status:          string(r.Status),
		MaxParticipants: r.MaxParticipants,
		SecretHash:      r.SecretHash,
		ScheduledTime:   r.ScheduledTime,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (rec roomRecord) toDomain() *domain.Room {
	return &domain.Room{
		ID:              domain.RoomID(rec.ID),
		Title:           rec.Title,
		Description:     rec.Description,
		HostID:          domain.UserID(rec.HostID),
		HostUsername:    rec.HostUsername,
		Status:          domain.RoomStatus(rec.Status),
		MaxParticipants: rec.MaxParticipants,
		SecretHash:      rec.SecretHash,
		ScheduledTime:   rec.ScheduledTime,
		StartedAt:       rec.StartedAt,
		EndedAt:         rec.EndedAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// participantRecord carries the (room, identity) unique key that makes
// rejoin reuse the same row.
type participantRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	RoomID    string `gorm:"size:36;not null;uniqueIndex:idx_participant_room_user"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_participant_room_user"`
	Username  string `gorm:"size:150"`
	Status    string `gorm:"size:16;index;not null"`
	JoinedAt  *time.Time
	LeftAt    *time.Time
	CreatedAt time.Time
}

func (participantRecord) TableName() string { return "room_participants" }

func participantToRecord(p *domain.Participant) participantRecord {
	return participantRecord{
		ID:        string(p.ID),
		RoomID:    string(p.RoomID),
		UserID:    string(p.UserID),
		Username:  p.Username,
		Status:    string(p.Status),
		JoinedAt:  p.JoinedAt,
		LeftAt:    p.LeftAt,
		CreatedAt: p.CreatedAt,
	}
}

func (rec participantRecord) toDomain() *domain.Participant {
	return &domain.Participant{
		ID:        domain.ParticipantID(rec.ID),
		RoomID:    domain.RoomID(rec.RoomID),
		UserID:    domain.UserID(rec.UserID),
		Username:  rec.Username,
		Status:    domain.ParticipantStatus(rec.Status),
		JoinedAt:  rec.JoinedAt,
		LeftAt:    rec.LeftAt,
		CreatedAt: rec.CreatedAt,
	}
}

type chatRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	RoomID     string `gorm:"size:36;index;not null"`
	SenderID   string `gorm:"size:64;not null"`
	SenderName string `gorm:"size:150"`
	Content    string `gorm:"size:1000;not null"`
	CreatedAt  time.Time
}

func (chatRecord) TableName() string { return "chat_messages" }

type reactionRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	RoomID    string `gorm:"size:36;index;not null"`
	UserID    string `gorm:"size:64;not null"`
	Username  string `gorm:"size:150"`
	Kind      string `gorm:"size:32;not null"`
	CreatedAt time.Time
}

func (reactionRecord) TableName() string { return "reactions" }

type raisedHandRecord struct {
	RoomID    string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:64"`
	Username  string `gorm:"size:150"`
	Active    bool   `gorm:"index"`
	RaisedAt  *time.Time
	LoweredAt *time.Time
}

func (raisedHandRecord) TableName() string { return "raised_hands" }

func (rec raisedHandRecord) toDomain() domain.RaisedHand {
	return domain.RaisedHand{
		RoomID:    domain.RoomID(rec.RoomID),
		UserID:    domain.UserID(rec.UserID),
		Username:  rec.Username,
		Active:    rec.Active,
		RaisedAt:  rec.RaisedAt,
		LoweredAt: rec.LoweredAt,
	}
}

type signalRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	RoomID     string    `gorm:"size:36;index;not null"`
	SenderID   string    `gorm:"size:64;not null"`
	SenderName string    `gorm:"size:150"`
	ReceiverID string    `gorm:"size:64"`
	Type       string    `gorm:"size:16;not null"`
	Payload    string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (signalRecord) TableName() string { return "signal_messages" }

func (rec signalRecord) toDomain() domain.SignalMessage {
	return domain.SignalMessage{
		ID:         rec.ID,
		RoomID:     domain.RoomID(rec.RoomID),
		SenderID:   domain.UserID(rec.SenderID),
		SenderName: rec.SenderName,
		ReceiverID: domain.UserID(rec.ReceiverID),
		Type:       rec.Type,
		Payload:    []byte(rec.Payload),
		CreatedAt:  rec.CreatedAt,
	}
}

// Package gormstore persists rooms, memberships and room interactions through gorm.
// Production runs on postgres; membership mutations lock the room row so the
// capacity check and the write it guards are one atomic step.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

var _ core.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Connect opens a postgres connection, retrying while the database comes up.
func Connect(ctx context.Context, dsn string, retries int, interval time.Duration) (*gorm.DB, error) {
	var err error
	for i := 0; i <= retries; i++ {
		var db *gorm.DB
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err == nil {
			return db, nil
		}
		log.Warn().Err(err).Str("module", "storage.gorm").Int("retry", i).Msg("database connect failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&roomRecord{},
		&participantRecord{},
		&chatRecord{},
		&reactionRecord{},
		&raisedHandRecord{},
		&signalRecord{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func mapErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// lockRoom reads the room row, taking a row lock where the dialect has one.
func lockRoom(tx *gorm.DB, id domain.RoomID) (*roomRecord, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec roomRecord
	if err := q.Take(&rec, "id = ?", string(id)).Error; err != nil {
		return nil, mapErr("lock room", err)
	}
	return &rec, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	rec := roomToRecord(room)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var rec roomRecord
	if err := s.db.WithContext(ctx).Take(&rec, "id = ?", string(id)).Error; err != nil {
		return nil, mapErr("get room", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) ListRooms(ctx context.Context, statuses ...domain.RoomStatus) ([]domain.Room, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}
	var recs []roomRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, mapErr("list rooms", err)
	}
	out := make([]domain.Room, len(recs))
	for i, rec := range recs {
		out[i] = *rec.toDomain()
	}
	return out, nil
}

func (s *Store) StartRoom(ctx context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error) {
	var (
		room    *domain.Room
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := lockRoom(tx, id)
		if err != nil {
			return err
		}
		room = rec.toDomain()
		if changed = room.Start(at); !changed {
			return nil
		}
		next := roomToRecord(room)
		return tx.Save(&next).Error
	})
	if err != nil {
		return nil, false, mapErr("start room", err)
	}
	return room, changed, nil
}

func (s *Store) EndRoom(ctx context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error) {
	var (
		room    *domain.Room
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := lockRoom(tx, id)
		if err != nil {
			return err
		}
		room = rec.toDomain()
		if changed = room.End(at); !changed {
			return nil
		}
		next := roomToRecord(room)
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		return tx.Model(&participantRecord{}).
			Where("room_id = ? AND status = ?", string(id), string(domain.ParticipantApproved)).
			Updates(map[string]any{"status": string(domain.ParticipantLeft), "left_at": at}).Error
	})
	if err != nil {
		return nil, false, mapErr("end room", err)
	}
	return room, changed, nil
}

func countStatus(tx *gorm.DB, room domain.RoomID, status domain.ParticipantStatus) (int, error) {
	var n int64
	err := tx.Model(&participantRecord{}).
		Where("room_id = ? AND status = ?", string(room), string(status)).
		Count(&n).Error
	return int(n), err
}

func (s *Store) RequestJoin(ctx context.Context, roomID domain.RoomID, user domain.User, at time.Time) (*domain.Participant, bool, error) {
	var (
		p      *domain.Participant
		notify bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		var rec participantRecord
		err = tx.Take(&rec, "room_id = ? AND user_id = ?", string(roomID), string(user.ID)).Error
		switch {
		case err == nil:
			p = rec.toDomain()
			if notify = p.Reopen(); !notify {
				return nil
			}
			next := participantToRecord(p)
			return tx.Save(&next).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		approved, err := countStatus(tx, roomID, domain.ParticipantApproved)
		if err != nil {
			return err
		}
		if approved >= room.MaxParticipants {
			return domain.ErrCapacityExceeded
		}
		p = domain.NewParticipant(roomID, user, at)
		notify = true
		next := participantToRecord(p)
		return tx.Create(&next).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			return nil, false, err
		}
		return nil, false, mapErr("request join", err)
	}
	return p, notify, nil
}

func (s *Store) ApproveParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID, at time.Time) (*domain.Participant, bool, error) {
	var (
		p       *domain.Participant
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockRoom(tx, roomID)
		if err != nil {
			return err
		}
		var rec participantRecord
		if err := tx.Take(&rec, "id = ? AND room_id = ?", string(id), string(roomID)).Error; err != nil {
			return err
		}
		p = rec.toDomain()
		if p.Status == domain.ParticipantPending {
			approved, err := countStatus(tx, roomID, domain.ParticipantApproved)
			if err != nil {
				return err
			}
			if approved >= room.MaxParticipants {
				return domain.ErrCapacityExceeded
			}
		}
		if changed, err = p.Approve(at); err != nil || !changed {
			return err
		}
		next := participantToRecord(p)
		return tx.Save(&next).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrValidation) {
			return nil, false, err
		}
		return nil, false, mapErr("approve participant", err)
	}
	return p, changed, nil
}

func (s *Store) RejectParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) (*domain.Participant, bool, error) {
	var (
		p       *domain.Participant
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, roomID); err != nil {
			return err
		}
		var rec participantRecord
		if err := tx.Take(&rec, "id = ? AND room_id = ?", string(id), string(roomID)).Error; err != nil {
			return err
		}
		p = rec.toDomain()
		var err error
		if changed, err = p.Reject(); err != nil || !changed {
			return err
		}
		next := participantToRecord(p)
		return tx.Save(&next).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, false, err
		}
		return nil, false, mapErr("reject participant", err)
	}
	return p, changed, nil
}

func (s *Store) LeaveRoom(ctx context.Context, roomID domain.RoomID, user domain.UserID, at time.Time) (*domain.Participant, error) {
	var p *domain.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec participantRecord
		if err := tx.Take(&rec, "room_id = ? AND user_id = ?", string(roomID), string(user)).Error; err != nil {
			return err
		}
		p = rec.toDomain()
		p.Leave(at)
		next := participantToRecord(p)
		return tx.Save(&next).Error
	})
	if err != nil {
		return nil, mapErr("leave room", err)
	}
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) (*domain.Participant, error) {
	var rec participantRecord
	err := s.db.WithContext(ctx).Take(&rec, "room_id = ? AND user_id = ?", string(roomID), string(user)).Error
	if err != nil {
		return nil, mapErr("find participant", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID domain.RoomID, status domain.ParticipantStatus) ([]domain.Participant, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", string(roomID))
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var recs []participantRecord
	if err := q.Order("created_at").Find(&recs).Error; err != nil {
		return nil, mapErr("list participants", err)
	}
	out := make([]domain.Participant, len(recs))
	for i, rec := range recs {
		out[i] = *rec.toDomain()
	}
	return out, nil
}

func (s *Store) CountParticipants(ctx context.Context, roomID domain.RoomID, status domain.ParticipantStatus) (int, error) {
	n, err := countStatus(s.db.WithContext(ctx), roomID, status)
	if err != nil {
		return 0, mapErr("count participants", err)
	}
	return n, nil
}

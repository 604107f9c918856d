package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"gorm.io/gorm"
)

func (s *Store) SaveChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	rec := chatRecord{
		ID:         msg.ID,
		RoomID:     string(msg.RoomID),
		SenderID:   string(msg.SenderID),
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return mapErr("save chat message", err)
	}
	return nil
}

func (s *Store) ListChatMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", string(roomID)).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []chatRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, mapErr("list chat messages", err)
	}
	out := make([]domain.ChatMessage, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = domain.ChatMessage{
			ID:         rec.ID,
			RoomID:     domain.RoomID(rec.RoomID),
			SenderID:   domain.UserID(rec.SenderID),
			SenderName: rec.SenderName,
			Content:    rec.Content,
			CreatedAt:  rec.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) SaveReaction(ctx context.Context, r *domain.Reaction) error {
	rec := reactionRecord{
		ID:        r.ID,
		RoomID:    string(r.RoomID),
		UserID:    string(r.UserID),
		Username:  r.Username,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return mapErr("save reaction", err)
	}
	return nil
}

func (s *Store) SetRaisedHand(ctx context.Context, roomID domain.RoomID, user domain.User, raised bool, at time.Time) (*domain.RaisedHand, error) {
	var hand domain.RaisedHand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec raisedHandRecord
		err := tx.Take(&rec, "room_id = ? AND user_id = ?", string(roomID), string(user.ID)).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !exists {
			rec = raisedHandRecord{RoomID: string(roomID), UserID: string(user.ID)}
		}
		rec.Username = user.Username
		hand = rec.toDomain()
		hand.Set(raised, at)
		rec.Active, rec.RaisedAt, rec.LoweredAt = hand.Active, hand.RaisedAt, hand.LoweredAt
		if exists {
			return tx.Save(&rec).Error
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, mapErr("set raised hand", err)
	}
	return &hand, nil
}

func (s *Store) ListRaisedHands(ctx context.Context, roomID domain.RoomID) ([]domain.RaisedHand, error) {
	var recs []raisedHandRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND active = ?", string(roomID), true).
		Order("raised_at").
		Find(&recs).Error
	if err != nil {
		return nil, mapErr("list raised hands", err)
	}
	out := make([]domain.RaisedHand, len(recs))
	for i, rec := range recs {
		out[i] = rec.toDomain()
	}
	return out, nil
}

func (s *Store) SaveSignal(ctx context.Context, msg *domain.SignalMessage) error {
	rec := signalRecord{
		ID:         msg.ID,
		RoomID:     string(msg.RoomID),
		SenderID:   string(msg.SenderID),
		SenderName: msg.SenderName,
		ReceiverID: string(msg.ReceiverID),
		Type:       msg.Type,
		Payload:    string(msg.Payload),
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return mapErr("save signal", err)
	}
	return nil
}

func (s *Store) ListSignals(ctx context.Context, roomID domain.RoomID, receiver domain.UserID, since time.Time) ([]domain.SignalMessage, error) {
	var recs []signalRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND sender_id <> ? AND created_at >= ?", string(roomID), string(receiver), since).
		Where("receiver_id = ? OR receiver_id = ?", "", string(receiver)).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, mapErr("list signals", err)
	}
	out := make([]domain.SignalMessage, len(recs))
	for i, rec := range recs {
		out[i] = rec.toDomain()
	}
	return out, nil
}

func (s *Store) PurgeSignals(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&signalRecord{})
	if res.Error != nil {
		return 0, mapErr("purge signals", res.Error)
	}
	return res.RowsAffected, nil
}

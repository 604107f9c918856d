// Package memory is a single-process Membership Store. One mutex serializes
// every mutation, which makes capacity checks atomic with the writes they guard.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
)

type handKey struct {
	room domain.RoomID
	user domain.UserID
}

type Store struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomID]*domain.Room
	participants map[domain.RoomID]map[domain.UserID]*domain.Participant
	chat         map[domain.RoomID][]domain.ChatMessage
	reactions    map[domain.RoomID][]domain.Reaction
	hands        map[handKey]*domain.RaisedHand
	signals      []domain.SignalMessage
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rooms:        make(map[domain.RoomID]*domain.Room),
		participants: make(map[domain.RoomID]map[domain.UserID]*domain.Participant),
		chat:         make(map[domain.RoomID][]domain.ChatMessage),
		reactions:    make(map[domain.RoomID][]domain.Reaction),
		hands:        make(map[handKey]*domain.RaisedHand),
	}
}

func (s *Store) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *Store) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRooms(_ context.Context, statuses ...domain.RoomStatus) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if len(statuses) > 0 && !hasStatus(statuses, r.Status) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func hasStatus(set []domain.RoomStatus, st domain.RoomStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) StartRoom(_ context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	changed := r.Start(at)
	cp := *r
	return &cp, changed, nil
}

func (s *Store) EndRoom(_ context.Context, id domain.RoomID, at time.Time) (*domain.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	changed := r.End(at)
	if changed {
		for _, p := range s.participants[id] {
			if p.Status == domain.ParticipantApproved {
				p.Leave(at)
			}
		}
	}
	cp := *r
	return &cp, changed, nil
}

func (s *Store) countLocked(room domain.RoomID, status domain.ParticipantStatus) int {
	n := 0
	for _, p := range s.participants[room] {
		if p.Status == status {
			n++
		}
	}
	return n
}

func (s *Store) RequestJoin(_ context.Context, roomID domain.RoomID, user domain.User, at time.Time) (*domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if p, ok := s.participants[roomID][user.ID]; ok {
		notify := p.Reopen()
		cp := *p
		return &cp, notify, nil
	}
	if s.countLocked(roomID, domain.ParticipantApproved) >= room.MaxParticipants {
		return nil, false, domain.ErrCapacityExceeded
	}
	p := domain.NewParticipant(roomID, user, at)
	if s.participants[roomID] == nil {
		s.participants[roomID] = make(map[domain.UserID]*domain.Participant)
	}
	s.participants[roomID][user.ID] = p
	cp := *p
	return &cp, true, nil
}

func (s *Store) byIDLocked(roomID domain.RoomID, id domain.ParticipantID) (*domain.Participant, error) {
	for _, p := range s.participants[roomID] {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ApproveParticipant(_ context.Context, roomID domain.RoomID, id domain.ParticipantID, at time.Time) (*domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	p, err := s.byIDLocked(roomID, id)
	if err != nil {
		return nil, false, err
	}
	if p.Status == domain.ParticipantPending &&
		s.countLocked(roomID, domain.ParticipantApproved) >= room.MaxParticipants {
		return nil, false, domain.ErrCapacityExceeded
	}
	changed, err := p.Approve(at)
	if err != nil {
		return nil, false, err
	}
	cp := *p
	return &cp, changed, nil
}

func (s *Store) RejectParticipant(_ context.Context, roomID domain.RoomID, id domain.ParticipantID) (*domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.byIDLocked(roomID, id)
	if err != nil {
		return nil, false, err
	}
	changed, err := p.Reject()
	if err != nil {
		return nil, false, err
	}
	cp := *p
	return &cp, changed, nil
}

func (s *Store) LeaveRoom(_ context.Context, roomID domain.RoomID, user domain.UserID, at time.Time) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][user]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Leave(at)
	cp := *p
	return &cp, nil
}

func (s *Store) FindParticipant(_ context.Context, roomID domain.RoomID, user domain.UserID) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[roomID][user]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListParticipants(_ context.Context, roomID domain.RoomID, status domain.ParticipantStatus) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for _, p := range s.participants[roomID] {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountParticipants(_ context.Context, roomID domain.RoomID, status domain.ParticipantStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(roomID, status), nil
}

func (s *Store) SaveChatMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[msg.RoomID] = append(s.chat[msg.RoomID], *msg)
	return nil
}

func (s *Store) ListChatMessages(_ context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chat[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) SaveReaction(_ context.Context, r *domain.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[r.RoomID] = append(s.reactions[r.RoomID], *r)
	return nil
}

func (s *Store) SetRaisedHand(_ context.Context, roomID domain.RoomID, user domain.User, raised bool, at time.Time) (*domain.RaisedHand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := handKey{room: roomID, user: user.ID}
	h, ok := s.hands[k]
	if !ok {
		h = &domain.RaisedHand{RoomID: roomID, UserID: user.ID, Username: user.Username}
		s.hands[k] = h
	}
	h.Set(raised, at)
	cp := *h
	return &cp, nil
}

func (s *Store) ListRaisedHands(_ context.Context, roomID domain.RoomID) ([]domain.RaisedHand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RaisedHand, 0)
	for k, h := range s.hands {
		if k.room == roomID && h.Active {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(*out[j].RaisedAt) })
	return out, nil
}

func (s *Store) SaveSignal(_ context.Context, msg *domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, *msg)
	return nil
}

func (s *Store) ListSignals(_ context.Context, roomID domain.RoomID, receiver domain.UserID, since time.Time) ([]domain.SignalMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SignalMessage, 0)
	for _, m := range s.signals {
		if m.RoomID != roomID || m.SenderID == receiver || m.CreatedAt.Before(since) {
			continue
		}
		if m.ReceiverID != "" && m.ReceiverID != receiver {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) PurgeSignals(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.signals[:0]
	var purged int64
	for _, m := range s.signals {
		if m.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, m)
	}
	s.signals = kept
	return purged, nil
}

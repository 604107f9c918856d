package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const DefaultSignalTTL = 5 * time.Minute

// Lifecycle owns every room and membership transition and publishes the
// matching room events once the store has committed them.
type Lifecycle struct {
	Store     core.Store
	Bus       core.GroupBroadcaster
	Now       func() time.Time
	SignalTTL time.Duration
}

func NewLifecycle(store core.Store, bus core.GroupBroadcaster) *Lifecycle {
	return &Lifecycle{
		Store:     store,
		Bus:       bus,
		Now:       func() time.Time { return time.Now().UTC() },
		SignalTTL: DefaultSignalTTL,
	}
}

// RoomView is a room as seen by one caller.
type RoomView struct {
	domain.Room
	HasSecret         bool                     `json:"hasSecret"`
	ParticipantCount  int                      `json:"participantCount"`
	IsHost            bool                     `json:"isHost"`
	ParticipantStatus domain.ParticipantStatus `json:"participantStatus,omitempty"`
}

// RosterEntry is one admitted member of a live room.
type RosterEntry struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	IsHost   bool          `json:"isHost"`
}

type participantPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	RoomID        domain.RoomID        `json:"roomId"`
	Identity      domain.UserID        `json:"identity"`
	Username      string               `json:"username"`
	HostUsername  string               `json:"hostUsername,omitempty"`
}

// LeftByRequest is the user_left reason for an explicit leave. Sessions of
// the leaving identity close when they see it.
const LeftByRequest = "left"

type memberPayload struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	Reason   string        `json:"reason,omitempty"`
}

type meetingPayload struct {
	RoomID    domain.RoomID `json:"roomId"`
	StartedBy string        `json:"startedBy,omitempty"`
	EndedBy   string        `json:"endedBy,omitempty"`
}

func (l *Lifecycle) publish(ctx context.Context, room domain.RoomID, ev core.Event) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(ctx, room, ev)
}

func (l *Lifecycle) hostRoom(ctx context.Context, caller domain.User, id domain.RoomID) (*domain.Room, error) {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.IsHost(caller.ID) {
		return nil, domain.ErrForbidden
	}
	return room, nil
}

func (l *Lifecycle) Create(ctx context.Context, host domain.User, p domain.RoomParams) (*domain.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	room, err := domain.NewRoom(host, p, l.Now())
	if err != nil {
		return nil, err
	}
	if p.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room secret: %w", err)
		}
		room.SecretHash = string(hash)
	}
	if err := l.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.lifecycle").Str("room", string(room.ID)).Str("host", string(host.ID)).Msg("room created")
	return room, nil
}

func (l *Lifecycle) Get(ctx context.Context, caller domain.User, id domain.RoomID) (*RoomView, error) {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.view(ctx, caller, *room)
}

// List returns the waiting and active rooms, newest first.
func (l *Lifecycle) List(ctx context.Context, caller domain.User) ([]RoomView, error) {
	rooms, err := l.Store.ListRooms(ctx, domain.RoomWaiting, domain.RoomActive)
	if err != nil {
		return nil, err
	}
	out := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		v, err := l.view(ctx, caller, r)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (l *Lifecycle) view(ctx context.Context, caller domain.User, room domain.Room) (*RoomView, error) {
	n, err := l.Store.CountParticipants(ctx, room.ID, domain.ParticipantApproved)
	if err != nil {
		return nil, err
	}
	v := &RoomView{
		Room:             room,
		HasSecret:        room.HasSecret(),
		ParticipantCount: n,
		IsHost:           room.IsHost(caller.ID),
	}
	if !v.IsHost {
		p, err := l.Store.FindParticipant(ctx, room.ID, caller.ID)
		switch {
		case err == nil:
			v.ParticipantStatus = p.Status
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	return v, nil
}

func (l *Lifecycle) Start(ctx context.Context, caller domain.User, id domain.RoomID) (*domain.Room, error) {
	if _, err := l.hostRoom(ctx, caller, id); err != nil {
		return nil, err
	}
	room, changed, err := l.Store.StartRoom(ctx, id, l.Now())
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Msg("meeting started")
		l.publish(ctx, id, core.NewEvent(core.EventMeetingStarted, meetingPayload{RoomID: id, StartedBy: caller.Username}))
	}
	return room, nil
}

// End is idempotent: only the call that performs the transition publishes meeting_ended.
func (l *Lifecycle) End(ctx context.Context, caller domain.User, id domain.RoomID) (*domain.Room, error) {
	if _, err := l.hostRoom(ctx, caller, id); err != nil {
		return nil, err
	}
	return l.end(ctx, id, caller.Username)
}

func (l *Lifecycle) end(ctx context.Context, id domain.RoomID, by string) (*domain.Room, error) {
	room, changed, err := l.Store.EndRoom(ctx, id, l.Now())
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("ended_by", by).Msg("meeting ended")
		l.publish(ctx, id, core.NewEvent(core.EventMeetingEnded, meetingPayload{RoomID: id, EndedBy: by}))
	}
	return room, nil
}

// RequestJoin files or reopens a join request. notify reports whether a
// new pending request was written; the host gets (nil, false, nil).
func (l *Lifecycle) RequestJoin(ctx context.Context, caller domain.User, id domain.RoomID, secret string) (*domain.Participant, bool, error) {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if room.IsHost(caller.ID) {
		return nil, false, nil
	}
	if room.Status == domain.RoomEnded {
		return nil, false, domain.Invalid("roomId", "meeting has ended")
	}
	if room.HasSecret() {
		if err := bcrypt.CompareHashAndPassword([]byte(room.SecretHash), []byte(secret)); err != nil {
			return nil, false, domain.ErrForbidden
		}
	}
	p, notify, err := l.Store.RequestJoin(ctx, id, caller, l.Now())
	if err != nil {
		return nil, false, err
	}
	if notify {
		log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("identity", string(caller.ID)).Msg("join requested")
		ev := core.NewEvent(core.EventJoinRequest, participantPayload{
			ParticipantID: p.ID,
			RoomID:        id,
			Identity:      p.UserID,
			Username:      p.Username,
		})
		ev.From = caller.ID
		l.publish(ctx, id, ev)
	}
	return p, notify, nil
}

// Approve admits a pending participant. Approving an approved participant
// returns it unchanged and publishes nothing.
func (l *Lifecycle) Approve(ctx context.Context, caller domain.User, id domain.RoomID, pid domain.ParticipantID) (*domain.Participant, error) {
	room, err := l.hostRoom(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomEnded {
		return nil, domain.Invalid("roomId", "meeting has ended")
	}
	p, changed, err := l.Store.ApproveParticipant(ctx, id, pid, l.Now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}
	log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("identity", string(p.UserID)).Msg("participant approved")

	approval := core.NewEvent(core.EventApproval, participantPayload{
		ParticipantID: p.ID,
		RoomID:        id,
		Identity:      p.UserID,
		Username:      p.Username,
		HostUsername:  room.HostUsername,
	})
	approval.To = p.UserID
	l.publish(ctx, id, approval)

	joined := core.NewEvent(core.EventUserJoined, memberPayload{Identity: p.UserID, Username: p.Username})
	joined.From = p.UserID
	l.publish(ctx, id, joined)
	return p, nil
}

func (l *Lifecycle) Reject(ctx context.Context, caller domain.User, id domain.RoomID, pid domain.ParticipantID) (*domain.Participant, error) {
	if _, err := l.hostRoom(ctx, caller, id); err != nil {
		return nil, err
	}
	p, changed, err := l.Store.RejectParticipant(ctx, id, pid)
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("identity", string(p.UserID)).Msg("participant rejected")
		ev := core.NewEvent(core.EventRejection, participantPayload{
			ParticipantID: p.ID,
			RoomID:        id,
			Identity:      p.UserID,
			Username:      p.Username,
		})
		ev.To = p.UserID
		l.publish(ctx, id, ev)
	}
	return p, nil
}

func (l *Lifecycle) Leave(ctx context.Context, caller domain.User, id domain.RoomID) (*domain.Participant, error) {
	if _, err := l.Store.GetRoom(ctx, id); err != nil {
		return nil, err
	}
	p, err := l.Store.LeaveRoom(ctx, id, caller.ID, l.Now())
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("identity", string(caller.ID)).Msg("participant left")
	ev := core.NewEvent(core.EventUserLeft, memberPayload{Identity: p.UserID, Username: p.Username, Reason: LeftByRequest})
	ev.From = caller.ID
	l.publish(ctx, id, ev)
	return p, nil
}

func (l *Lifecycle) PendingRequests(ctx context.Context, caller domain.User, id domain.RoomID) ([]domain.Participant, error) {
	if _, err := l.hostRoom(ctx, caller, id); err != nil {
		return nil, err
	}
	return l.Store.ListParticipants(ctx, id, domain.ParticipantPending)
}

// Authorize decides whether user may open a live session in room id.
// admitted is false for users still waiting for approval.
func (l *Lifecycle) Authorize(ctx context.Context, user domain.User, id domain.RoomID) (*domain.Room, bool, error) {
	room, err := l.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if room.Status == domain.RoomEnded {
		return nil, false, domain.Invalid("roomId", "meeting has ended")
	}
	if room.IsHost(user.ID) {
		return room, true, nil
	}
	p, err := l.Store.FindParticipant(ctx, id, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, domain.ErrForbidden
	}
	if err != nil {
		return nil, false, err
	}
	return room, room.Admitted(user.ID, p), nil
}

// Roster lists the host and every approved participant.
func (l *Lifecycle) Roster(ctx context.Context, room *domain.Room) ([]RosterEntry, error) {
	approved, err := l.Store.ListParticipants(ctx, room.ID, domain.ParticipantApproved)
	if err != nil {
		return nil, err
	}
	out := make([]RosterEntry, 0, len(approved)+1)
	out = append(out, RosterEntry{Identity: room.HostID, Username: room.HostUsername, IsHost: true})
	for _, p := range approved {
		out = append(out, RosterEntry{Identity: p.UserID, Username: p.Username})
	}
	return out, nil
}

// ExpireStale ends waiting or active rooms without updates since idle ago.
// Rooms for which busy reports true are skipped; busy may be nil.
func (l *Lifecycle) ExpireStale(ctx context.Context, idle time.Duration, busy func(domain.RoomID) bool) (int, error) {
	rooms, err := l.Store.ListRooms(ctx, domain.RoomWaiting, domain.RoomActive)
	if err != nil {
		return 0, err
	}
	cutoff := l.Now().Add(-idle)
	n := 0
	for _, r := range rooms {
		if r.UpdatedAt.After(cutoff) || (busy != nil && busy(r.ID)) {
			continue
		}
		if _, err := l.end(ctx, r.ID, "system"); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Package storetest holds the behaviour every core.Store must share.
// Each store package runs it against its own constructor.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func user(t *testing.T, id string) domain.User {
	t.Helper()
	u, err := domain.NewUser(id, "name-"+id)
	require.NoError(t, err)
	return u
}

func newRoom(t *testing.T, s core.Store, capacity int) *domain.Room {
	t.Helper()
	room, err := domain.NewRoom(user(t, "host"), domain.RoomParams{Title: "room", MaxParticipants: &capacity}, base)
	require.NoError(t, err)
	require.NoError(t, s.CreateRoom(context.Background(), room))
	return room
}

// Run executes the shared suite; concurrent controls the parallel approve check.
func Run(t *testing.T, newStore func(t *testing.T) core.Store, concurrent bool) {
	t.Run("RoomRoundTrip", func(t *testing.T) { roomRoundTrip(t, newStore(t)) })
	t.Run("RequestJoinIsIdempotent", func(t *testing.T) { requestJoinIdempotent(t, newStore(t)) })
	t.Run("RejoinReusesRow", func(t *testing.T) { rejoinReusesRow(t, newStore(t)) })
	t.Run("CapacityOnRequestAndApprove", func(t *testing.T) { capacity(t, newStore(t)) })
	if concurrent {
		t.Run("ConcurrentApproveKeepsCapacity", func(t *testing.T) { concurrentApprove(t, newStore(t)) })
	}
	t.Run("EndMovesApprovedToLeft", func(t *testing.T) { endRoom(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { notFound(t, newStore(t)) })
	t.Run("ChatHistory", func(t *testing.T) { chatHistory(t, newStore(t)) })
	t.Run("RaisedHands", func(t *testing.T) { raisedHands(t, newStore(t)) })
	t.Run("Signals", func(t *testing.T) { signals(t, newStore(t)) })
}

func roomRoundTrip(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, room.Title, got.Title)
	assert.Equal(t, 5, got.MaxParticipants)
	assert.Equal(t, domain.RoomWaiting, got.Status)

	started, changed, err := s.StartRoom(ctx, room.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.RoomActive, started.Status)

	_, changed, err = s.StartRoom(ctx, room.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	listed, err := s.ListRooms(ctx, domain.RoomWaiting, domain.RoomActive)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, _, err = s.EndRoom(ctx, room.ID, base.Add(time.Hour))
	require.NoError(t, err)
	listed, err = s.ListRooms(ctx, domain.RoomWaiting, domain.RoomActive)
	require.NoError(t, err)
	assert.Empty(t, listed)

	all, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func requestJoinIdempotent(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	a := user(t, "a")

	p1, notify, err := s.RequestJoin(ctx, room.ID, a, base)
	require.NoError(t, err)
	assert.True(t, notify)

	p2, notify, err := s.RequestJoin(ctx, room.ID, a, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, notify)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, domain.ParticipantPending, p2.Status)

	_, _, err = s.ApproveParticipant(ctx, room.ID, p1.ID, base)
	require.NoError(t, err)
	p3, notify, err := s.RequestJoin(ctx, room.ID, a, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, notify)
	assert.Equal(t, domain.ParticipantApproved, p3.Status)

	all, err := s.ListParticipants(ctx, room.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func rejoinReusesRow(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	a := user(t, "a")

	p, _, err := s.RequestJoin(ctx, room.ID, a, base)
	require.NoError(t, err)
	_, changed, err := s.RejectParticipant(ctx, room.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	p2, notify, err := s.RequestJoin(ctx, room.ID, a, base)
	require.NoError(t, err)
	assert.True(t, notify)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, domain.ParticipantPending, p2.Status)

	_, _, err = s.ApproveParticipant(ctx, room.ID, p.ID, base)
	require.NoError(t, err)
	left, err := s.LeaveRoom(ctx, room.ID, a.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantLeft, left.Status)
	require.NotNil(t, left.LeftAt)

	p3, notify, err := s.RequestJoin(ctx, room.ID, a, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, notify)
	assert.Equal(t, p.ID, p3.ID)
	assert.Nil(t, p3.LeftAt)
	assert.Nil(t, p3.JoinedAt)

	all, err := s.ListParticipants(ctx, room.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1, "rejoin never adds a row")
}

func capacity(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 2)

	pa, _, err := s.RequestJoin(ctx, room.ID, user(t, "a"), base)
	require.NoError(t, err)
	pb, _, err := s.RequestJoin(ctx, room.ID, user(t, "b"), base)
	require.NoError(t, err)
	pc, _, err := s.RequestJoin(ctx, room.ID, user(t, "c"), base)
	require.NoError(t, err)

	_, _, err = s.ApproveParticipant(ctx, room.ID, pa.ID, base)
	require.NoError(t, err)
	_, _, err = s.ApproveParticipant(ctx, room.ID, pb.ID, base)
	require.NoError(t, err)

	_, _, err = s.ApproveParticipant(ctx, room.ID, pc.ID, base)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, _, err = s.RequestJoin(ctx, room.ID, user(t, "d"), base)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	n, err := s.CountParticipants(ctx, room.ID, domain.ParticipantApproved)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, changed, err := s.ApproveParticipant(ctx, room.ID, pa.ID, base)
	require.NoError(t, err, "re-approving an approved row is not a capacity violation")
	assert.False(t, changed)
}

func concurrentApprove(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 3)

	var ids []domain.ParticipantID
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		p, _, err := s.RequestJoin(ctx, room.ID, user(t, id), base)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.ParticipantID) {
			defer wg.Done()
			_, changed, err := s.ApproveParticipant(ctx, room.ID, id, base)
			if err == nil && changed {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, approved)
	n, err := s.CountParticipants(ctx, room.ID, domain.ParticipantApproved)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func endRoom(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	for _, id := range []string{"a", "b"} {
		p, _, err := s.RequestJoin(ctx, room.ID, user(t, id), base)
		require.NoError(t, err)
		_, _, err = s.ApproveParticipant(ctx, room.ID, p.ID, base)
		require.NoError(t, err)
	}
	pending, _, err := s.RequestJoin(ctx, room.ID, user(t, "c"), base)
	require.NoError(t, err)

	ended, changed, err := s.EndRoom(ctx, room.ID, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.RoomEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	left, err := s.ListParticipants(ctx, room.ID, domain.ParticipantLeft)
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, p := range left {
		assert.NotNil(t, p.LeftAt)
	}
	still, err := s.FindParticipant(ctx, room.ID, pending.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantPending, still.Status)

	_, changed, err = s.EndRoom(ctx, room.ID, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
}

func notFound(t *testing.T, s core.Store) {
	ctx := context.Background()
	_, err := s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	room := newRoom(t, s, 5)
	_, err = s.FindParticipant(ctx, room.ID, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = s.ApproveParticipant(ctx, room.ID, "missing", base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.LeaveRoom(ctx, room.ID, "nobody", base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = s.StartRoom(ctx, "missing", base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func chatHistory(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	a := user(t, "a")
	for i, text := range []string{"one", "two", "three"} {
		msg, err := domain.NewChatMessage(room.ID, a, text, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, s.SaveChatMessage(ctx, msg))
	}

	msgs, err := s.ListChatMessages(ctx, room.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, a.ID, msgs[1].SenderID)

	r, err := domain.NewReaction(room.ID, a, "👍", base)
	require.NoError(t, err)
	require.NoError(t, s.SaveReaction(ctx, r))
}

func raisedHands(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	a, b := user(t, "a"), user(t, "b")

	_, err := s.SetRaisedHand(ctx, room.ID, a, true, base)
	require.NoError(t, err)
	_, err = s.SetRaisedHand(ctx, room.ID, b, true, base.Add(time.Second))
	require.NoError(t, err)
	h, err := s.SetRaisedHand(ctx, room.ID, a, false, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, h.Active)
	require.NotNil(t, h.LoweredAt)

	hands, err := s.ListRaisedHands(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.Equal(t, b.ID, hands[0].UserID)

	_, err = s.SetRaisedHand(ctx, room.ID, a, true, base.Add(3*time.Second))
	require.NoError(t, err)
	hands, err = s.ListRaisedHands(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, hands, 2)
}

func signals(t *testing.T, s core.Store) {
	ctx := context.Background()
	room := newRoom(t, s, 5)
	a, b, c := user(t, "a"), user(t, "b"), user(t, "c")
	payload := json.RawMessage(`{"sdp":"v=0"}`)

	save := func(from domain.User, to domain.UserID, at time.Time) {
		msg, err := domain.NewSignalMessage(room.ID, from, to, "offer", payload, at)
		require.NoError(t, err)
		require.NoError(t, s.SaveSignal(ctx, msg))
	}
	save(a, "", base.Add(-time.Hour))
	save(a, "", base)
	save(a, b.ID, base.Add(time.Second))
	save(b, c.ID, base.Add(2*time.Second))

	forB, err := s.ListSignals(ctx, room.ID, b.ID, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, forB, 2)
	assert.Equal(t, domain.UserID(""), forB[0].ReceiverID)
	assert.Equal(t, b.ID, forB[1].ReceiverID)
	assert.JSONEq(t, string(payload), string(forB[1].Payload))

	forA, err := s.ListSignals(ctx, room.ID, a.ID, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, forA, "own and foreign-addressed signals are hidden")

	purged, err := s.PurgeSignals(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

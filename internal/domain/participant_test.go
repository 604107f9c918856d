package domain_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipant_RejoinCycle(t *testing.T) {
	u, err := domain.NewUser("u-1", "")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.Username, "username falls back to the id")

	p := domain.NewParticipant("room-1", u, now)
	id := p.ID
	assert.Equal(t, domain.ParticipantPending, p.Status)

	changed, err := p.Reject()
	require.NoError(t, err)
	assert.True(t, changed)

	assert.True(t, p.Reopen())
	assert.Equal(t, domain.ParticipantPending, p.Status)

	changed, err = p.Approve(now)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, p.JoinedAt)

	p.Leave(now.Add(time.Minute))
	assert.Equal(t, domain.ParticipantLeft, p.Status)
	require.NotNil(t, p.LeftAt)

	assert.True(t, p.Reopen())
	assert.Nil(t, p.JoinedAt)
	assert.Nil(t, p.LeftAt)
	assert.Equal(t, id, p.ID, "the same row is reused")
}

func TestParticipant_ApproveIsIdempotent(t *testing.T) {
	u, _ := domain.NewUser("u-1", "one")
	p := domain.NewParticipant("room-1", u, now)

	changed, err := p.Approve(now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = p.Approve(now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, now, *p.JoinedAt)

	assert.False(t, p.Reopen(), "approved rows are not reopened")
}

func TestParticipant_ApproveRequiresPending(t *testing.T) {
	u, _ := domain.NewUser("u-1", "one")
	p := domain.NewParticipant("room-1", u, now)
	p.Leave(now)

	_, err := p.Approve(now)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = p.Reject()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRoom_Admitted(t *testing.T) {
	room, err := domain.NewRoom(host(t), domain.RoomParams{Title: "x"}, now)
	require.NoError(t, err)
	u, _ := domain.NewUser("u-1", "one")
	p := domain.NewParticipant(room.ID, u, now)

	assert.True(t, room.Admitted("host-1", nil))
	assert.False(t, room.Admitted("u-1", p))
	_, _ = p.Approve(now)
	assert.True(t, room.Admitted("u-1", p))
	assert.False(t, room.Admitted("u-2", p))
}

func TestNewUser_Bounds(t *testing.T) {
	_, err := domain.NewUser("  ", "x")
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)
	_, err = domain.NewUser(strings.Repeat("i", 65), "x")
	assert.ErrorIs(t, err, domain.ErrUserIDTooLong)
	_, err = domain.NewUser("id", strings.Repeat("n", 151))
	assert.ErrorIs(t, err, domain.ErrUsernameTooLong)
}

func TestNewChatMessage_Length(t *testing.T) {
	u, _ := domain.NewUser("u-1", "one")

	_, err := domain.NewChatMessage("room-1", u, strings.Repeat("a", 1001), now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = domain.NewChatMessage("room-1", u, " \n ", now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	msg, err := domain.NewChatMessage("room-1", u, strings.Repeat("a", 1000), now)
	require.NoError(t, err)
	assert.Len(t, msg.Content, 1000)
	assert.Equal(t, "one", msg.SenderName)
}

func TestNewSignalMessage(t *testing.T) {
	u, _ := domain.NewUser("u-1", "one")

	_, err := domain.NewSignalMessage("room-1", u, "", "bogus", json.RawMessage(`{"sdp":"x"}`), now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = domain.NewSignalMessage("room-1", u, "", "offer", json.RawMessage(`{}`), now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	msg, err := domain.NewSignalMessage("room-1", u, "u-2", "offer", json.RawMessage(`{"sdp":"x"}`), now)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u-2"), msg.ReceiverID)
}

func TestPayloadPresent(t *testing.T) {
	assert.False(t, domain.PayloadPresent(nil))
	assert.False(t, domain.PayloadPresent(json.RawMessage(`null`)))
	assert.False(t, domain.PayloadPresent(json.RawMessage(`{}`)))
	assert.False(t, domain.PayloadPresent(json.RawMessage(`"sdp"`)))
	assert.True(t, domain.PayloadPresent(json.RawMessage(`{"candidate":"c"}`)))
}

package app_test

import (
	"testing"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/stretchr/testify/assert"
)

type stubSession core.SessionID

func (s stubSession) SessionID() core.SessionID { return core.SessionID(s) }
func (s stubSession) Deliver(core.Event) {}

func TestRegistry_BindReportsOlderSessions(t *testing.T) {
	r := app.NewRegistry()

	assert.Empty(t, r.Bind("room-1", "alice", stubSession("s1"), nil))
	assert.Empty(t, r.Bind("room-2", "alice", stubSession("s2"), nil), "other rooms do not count")
	assert.Empty(t, r.Bind("room-1", "bob", stubSession("s3"), nil))

	older := r.Bind("room-1", "alice", stubSession("s4"), nil)
	assert.Equal(t, []core.SessionID{"s1"}, older)
	assert.Equal(t, 3, r.RoomCount("room-1"))
	assert.Equal(t, 4, r.Len())

	r.Unbind("s1")
	r.Unbind("s1")
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.RoomCount("room-1"))
	assert.Equal(t, []core.SessionID{"s4"}, r.Bind("room-1", "alice", stubSession("s5"), nil))
}

func TestRegistry_Cancel(t *testing.T) {
	r := app.NewRegistry()
	closed := 0
	r.Bind("room-1", "alice", stubSession("s1"), func() { closed++ })

	assert.True(t, r.Cancel("s1"))
	assert.Equal(t, 1, closed)
	assert.False(t, r.Cancel("missing"))

	r.Bind("room-1", "bob", stubSession("s2"), nil)
	assert.True(t, r.Cancel("s2"), "sessions without a close func are still known")
}

func TestSimplePolicy(t *testing.T) {
	p := app.SimplePolicy{}
	assert.Equal(t, app.DropFrame, p.OnBackPressure("room-1", "s1", core.Event{Type: core.EventTrackState}))
	assert.Equal(t, app.DropFrame, p.OnBackPressure("room-1", "s1", core.Event{Type: core.EventReaction}))
	assert.Equal(t, app.KickMember, p.OnBackPressure("room-1", "s1", core.Event{Type: core.EventOffer}))
	assert.Equal(t, app.KickMember, p.OnBackPressure("room-1", "s1", core.Event{Type: core.EventChatMessage}))
}

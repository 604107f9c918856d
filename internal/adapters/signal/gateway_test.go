package signal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/adapters/storage/memory"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
)

// tokenResolver accepts any token listed in users; the token is the identity.
type tokenResolver map[string]string

func (r tokenResolver) Resolve(_ context.Context, credential string) (domain.User, error) {
	name, ok := r[credential]
	if !ok {
		return domain.User{}, errors.New("unknown token")
	}
	return domain.NewUser(credential, name)
}

// hookBus runs a one-shot hook right before the next Subscribe.
type hookBus struct {
	*core.Hub

	mu     sync.Mutex
	before func()
}

func (b *hookBus) onNextSubscribe(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.before = fn
}

func (b *hookBus) Subscribe(room domain.RoomID, sub core.Subscriber) {
	b.mu.Lock()
	fn := b.before
	b.before = nil
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
	b.Hub.Subscribe(room, sub)
}

type gateway struct {
	srv   *httptest.Server
	rooms *app.Lifecycle
	hub   *core.Hub
	bus   *hookBus
	reg   *app.Registry
	host  domain.User
}

func newGateway(t *testing.T, tune func(*signal.Options)) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := core.NewHub()
	bus := &hookBus{Hub: hub}
	rooms := app.NewLifecycle(memory.New(), hub)
	reg := app.NewRegistry()
	opts := signal.DefaultOptions()
	if tune != nil {
		tune(&opts)
	}
	ids := tokenResolver{"host": "Hosty", "alice": "Alice", "bob": "Bob", "carol": "Carol", "eve": "Eve"}
	ctl := signal.NewSignalWSController(rooms, bus, reg, app.SimplePolicy{}, ids, opts)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws/rooms/:id", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	host, err := domain.NewUser("host", "Hosty")
	require.NoError(t, err)
	return &gateway{srv: srv, rooms: rooms, hub: hub, bus: bus, reg: reg, host: host}
}

func (g *gateway) room(t *testing.T) *domain.Room {
	t.Helper()
	room, err := g.rooms.Create(context.Background(), g.host, domain.RoomParams{Title: "Sync"})
	require.NoError(t, err)
	return room
}

func (g *gateway) user(t *testing.T, id string) domain.User {
	t.Helper()
	u, err := domain.NewUser(id, strings.ToUpper(id[:1])+id[1:])
	require.NoError(t, err)
	return u
}

func (g *gateway) request(t *testing.T, room *domain.Room, id string) *domain.Participant {
	t.Helper()
	p, _, err := g.rooms.RequestJoin(context.Background(), g.user(t, id), room.ID, "")
	require.NoError(t, err)
	return p
}

func (g *gateway) admit(t *testing.T, room *domain.Room, id string) {
	t.Helper()
	p := g.request(t, room, id)
	_, err := g.rooms.Approve(context.Background(), g.host, room.ID, p.ID)
	require.NoError(t, err)
}

func (g *gateway) dial(t *testing.T, room domain.RoomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/rooms/" + string(room) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and consumes the participants_list every session starts with.
func (g *gateway) connect(t *testing.T, room domain.RoomID, token string) *websocket.Conn {
	t.Helper()
	conn := g.dial(t, room, token)
	ev := read(t, conn)
	require.Equal(t, core.EventParticipantsList, ev.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) core.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev core.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// readUntil returns the first event of type typ, discarding earlier ones.
func readUntil(t *testing.T, conn *websocket.Conn, typ core.EventType) core.Event {
	t.Helper()
	for {
		ev := read(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// quiet asserts nothing but a pong arrives before the reply to a ping.
func quiet(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, map[string]string{"type": "ping"})
	ev := read(t, conn)
	assert.Equal(t, core.EventPong, ev.Type, "unexpected %s frame", ev.Type)
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

// closedWith asserts the very next read is a close frame carrying code.
func closedWith(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, code, ce.Code)
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)

	conn := g.dial(t, room.ID, "forged")
	assert.Equal(t, signal.CloseUnauthenticated, closeCode(t, conn))
}

func TestGateway_RejectsStrangers(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)

	conn := g.dial(t, room.ID, "eve")
	assert.Equal(t, signal.CloseForbidden, closeCode(t, conn))
}

func TestGateway_RejectsEndedRoom(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	_, err := g.rooms.End(context.Background(), g.host, room.ID)
	require.NoError(t, err)

	conn := g.dial(t, room.ID, "host")
	assert.Equal(t, signal.CloseGeneric, closeCode(t, conn))
}

func TestGateway_ParticipantsListComesFirst(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")

	conn := g.dial(t, room.ID, "alice")
	ev := read(t, conn)
	require.Equal(t, core.EventParticipantsList, ev.Type)

	var p struct {
		RoomID       domain.RoomID     `json:"roomId"`
		Status       domain.RoomStatus `json:"status"`
		Participants []app.RosterEntry `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, room.ID, p.RoomID)
	assert.Equal(t, domain.RoomWaiting, p.Status)
	require.Len(t, p.Participants, 2)
	assert.True(t, p.Participants[0].IsHost)
	assert.Equal(t, domain.UserID("alice"), p.Participants[1].Identity)
}

func TestGateway_ChatSkipsSender(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	send(t, alice, map[string]any{"type": "chat", "payload": map[string]string{"content": "hello"}})

	ev := readUntil(t, host, core.EventChatMessage)
	assert.Equal(t, domain.UserID("alice"), ev.From)
	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "Alice", msg.SenderName)

	quiet(t, alice)
}

func TestGateway_ChatLength(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	send(t, alice, map[string]any{"type": "chat", "payload": map[string]string{"content": strings.Repeat("x", 1001)}})
	ev := read(t, alice)
	assert.Equal(t, core.EventError, ev.Type)
	assert.Equal(t, signal.ErrCodeInvalidContent, ev.Error)

	send(t, alice, map[string]any{"type": "chat", "payload": map[string]string{"content": strings.Repeat("x", 1000)}})
	ev = readUntil(t, host, core.EventChatMessage)
	assert.Contains(t, string(ev.Payload), strings.Repeat("x", 1000))
}

func TestGateway_TargetedOffer(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	g.admit(t, room, "bob")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")
	bob := g.connect(t, room.ID, "bob")

	send(t, alice, map[string]any{
		"type":       "offer",
		"toIdentity": "bob",
		"payload":    map[string]string{"type": "offer", "sdp": "v=0"},
	})

	ev := readUntil(t, bob, core.EventOffer)
	assert.Equal(t, domain.UserID("alice"), ev.From)
	assert.Equal(t, domain.UserID("bob"), ev.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(ev.Payload))

	quiet(t, host)
	quiet(t, alice)
}

func TestGateway_BroadcastCandidate(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	send(t, host, map[string]any{"type": "ice_candidate", "payload": map[string]string{"candidate": "candidate:1"}})
	ev := readUntil(t, alice, core.EventICECandidate)
	assert.Equal(t, domain.UserID("host"), ev.From)
	assert.Empty(t, ev.To)
}

func TestGateway_InvalidSignal(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	host := g.connect(t, room.ID, "host")

	send(t, host, map[string]any{"type": "answer"})
	ev := read(t, host)
	assert.Equal(t, core.EventError, ev.Type)
	assert.Equal(t, signal.ErrCodeInvalidSignal, ev.Error)

	send(t, host, map[string]any{"type": "answer", "payload": map[string]string{}})
	ev = read(t, host)
	assert.Equal(t, signal.ErrCodeInvalidSignal, ev.Error)
}

func TestGateway_MalformedAndUnknown(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	host := g.connect(t, room.ID, "host")

	require.NoError(t, host.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := read(t, host)
	assert.Equal(t, signal.ErrCodeMalformed, ev.Error)

	send(t, host, map[string]string{"payload": "{}"})
	ev = read(t, host)
	assert.Equal(t, signal.ErrCodeMalformed, ev.Error)

	send(t, host, map[string]string{"type": "dance"})
	ev = read(t, host)
	assert.Equal(t, signal.ErrCodeUnknownType, ev.Error)

	quiet(t, host)
}

func TestGateway_RateLimit(t *testing.T) {
	g := newGateway(t, func(o *signal.Options) {
		o.RateLimits = map[signal.MessageType]int{signal.MsgChat: 2}
	})
	room := g.room(t)
	host := g.connect(t, room.ID, "host")

	chat := map[string]any{"type": "chat", "payload": map[string]string{"content": "spam"}}
	send(t, host, chat)
	send(t, host, chat)
	send(t, host, chat)

	ev := read(t, host)
	assert.Equal(t, core.EventError, ev.Type)
	assert.Equal(t, signal.ErrCodeRateLimited, ev.Error)

	quiet(t, host)
}

func TestGateway_UserLeftOnDisconnect(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")
	require.Equal(t, 2, g.hub.SubscriberCount(room.ID))

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	ev := readUntil(t, host, core.EventUserLeft)
	assert.Equal(t, domain.UserID("alice"), ev.From)
	assert.Eventually(t, func() bool {
		return g.hub.SubscriberCount(room.ID) == 1 && g.reg.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_DuplicateConnection(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	first := g.connect(t, room.ID, "alice")
	second := g.connect(t, room.ID, "alice")

	assert.Equal(t, signal.CloseDuplicate, closeCode(t, first))
	assert.Eventually(t, func() bool { return g.reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	quiet(t, host)
	quiet(t, second)
}

func TestGateway_LobbyUntilApproved(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	p := g.request(t, room, "bob")
	host := g.connect(t, room.ID, "host")
	bob := g.connect(t, room.ID, "bob")

	send(t, bob, map[string]any{"type": "chat", "payload": map[string]string{"content": "let me in"}})
	ev := read(t, bob)
	assert.Equal(t, signal.ErrCodeNotAdmitted, ev.Error)

	send(t, host, map[string]any{"type": "chat", "payload": map[string]string{"content": "members only"}})
	quiet(t, host)
	quiet(t, bob)

	_, err := g.rooms.Start(context.Background(), g.host, room.ID)
	require.NoError(t, err)
	ev = read(t, bob)
	assert.Equal(t, core.EventMeetingStarted, ev.Type, "meeting events reach the lobby")

	_, err = g.rooms.Approve(context.Background(), g.host, room.ID, p.ID)
	require.NoError(t, err)
	ev = read(t, bob)
	assert.Equal(t, core.EventApproval, ev.Type)
	joined := readUntil(t, host, core.EventUserJoined)
	assert.Equal(t, domain.UserID("bob"), joined.From)

	send(t, bob, map[string]any{"type": "chat", "payload": map[string]string{"content": "thanks"}})
	ev = readUntil(t, host, core.EventChatMessage)
	assert.Equal(t, domain.UserID("bob"), ev.From)
}

func TestGateway_JoinRequestsReachOnlyTheHost(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	g.request(t, room, "carol")

	ev := readUntil(t, host, core.EventJoinRequest)
	assert.Equal(t, domain.UserID("carol"), ev.From)
	quiet(t, alice)
}

func TestGateway_ReactionsAndHands(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	send(t, alice, map[string]any{"type": "reaction", "payload": map[string]string{"reaction": "🎉"}})
	ev := readUntil(t, host, core.EventReaction)
	assert.JSONEq(t, `{"identity":"alice","username":"Alice","reaction":"🎉"}`, string(ev.Payload))

	send(t, alice, map[string]any{"type": "raise_hand"})
	ev = readUntil(t, host, core.EventHandRaise)
	assert.Contains(t, string(ev.Payload), `"action":"raise"`)

	send(t, alice, map[string]any{"type": "screen_share_start"})
	ev = readUntil(t, host, core.EventScreenShare)
	assert.Contains(t, string(ev.Payload), `"action":"start"`)

	hands, err := g.rooms.RaisedHands(context.Background(), g.host, room.ID)
	require.NoError(t, err)
	assert.Len(t, hands, 1)
}

func TestGateway_MeetingEndedReachesEverySessionOnce(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	g.admit(t, room, "bob")
	conns := map[string]*websocket.Conn{
		"host":  g.connect(t, room.ID, "host"),
		"alice": g.connect(t, room.ID, "alice"),
		"bob":   g.connect(t, room.ID, "bob"),
	}
	require.Equal(t, 3, g.hub.SubscriberCount(room.ID))

	_, err := g.rooms.End(context.Background(), g.host, room.ID)
	require.NoError(t, err)

	for who, conn := range conns {
		ev := read(t, conn)
		assert.Equal(t, core.EventMeetingEnded, ev.Type, who)
		closedWith(t, conn, signal.CloseNormal)
	}
	assert.Eventually(t, func() bool {
		return g.hub.SubscriberCount(room.ID) == 0 && g.reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	ended, err := g.rooms.End(context.Background(), g.host, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEnded, ended.Status)
}

func TestGateway_NothingRelayedAfterEnd(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	_, err := g.rooms.End(context.Background(), g.host, room.ID)
	require.NoError(t, err)
	require.Equal(t, core.EventMeetingEnded, read(t, alice).Type)

	// The socket may already be gone; either way nothing may come of these.
	_ = alice.WriteJSON(map[string]any{"type": "chat", "payload": map[string]string{"content": "still here?"}})
	_ = alice.WriteJSON(map[string]any{
		"type":       "offer",
		"toIdentity": "host",
		"payload":    map[string]string{"type": "offer", "sdp": "v=0"},
	})

	require.Equal(t, core.EventMeetingEnded, read(t, host).Type)
	closedWith(t, host, signal.CloseNormal)
	assert.Equal(t, signal.CloseNormal, closeCode(t, alice))
	assert.Eventually(t, func() bool { return g.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	msgs, err := g.rooms.ChatHistory(context.Background(), g.host, room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGateway_LeaveClosesTheSession(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	g.admit(t, room, "alice")
	host := g.connect(t, room.ID, "host")
	alice := g.connect(t, room.ID, "alice")

	_, err := g.rooms.Leave(context.Background(), g.user(t, "alice"), room.ID)
	require.NoError(t, err)

	ev := readUntil(t, host, core.EventUserLeft)
	assert.Equal(t, domain.UserID("alice"), ev.From)
	assert.Contains(t, string(ev.Payload), `"reason":"left"`)
	closedWith(t, alice, signal.CloseNormal)

	assert.Eventually(t, func() bool { return g.hub.SubscriberCount(room.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	quiet(t, host)
}

func TestGateway_StalledClientDoesNotBlockPublish(t *testing.T) {
	g := newGateway(t, func(o *signal.Options) {
		o.SendBuffer = 2
		o.WriteWait = 3 * time.Second
	})
	room := g.room(t)
	g.admit(t, room, "alice")
	g.connect(t, room.ID, "alice") // never read again

	big := core.NewEvent(core.EventChatMessage, map[string]string{"content": strings.Repeat("x", 1<<20)})
	var worst time.Duration
	for i := 0; i < 64; i++ {
		start := time.Now()
		g.hub.Publish(context.Background(), room.ID, big)
		if d := time.Since(start); d > worst {
			worst = d
		}
	}
	assert.Less(t, worst, time.Second, "a full send buffer must not stall the publisher")
	assert.Eventually(t, func() bool { return g.reg.Len() == 0 }, 10*time.Second, 20*time.Millisecond)
}

func TestGateway_ApprovalWhileConnecting(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)
	p := g.request(t, room, "bob")

	g.bus.onNextSubscribe(func() {
		_, err := g.rooms.Approve(context.Background(), g.host, room.ID, p.ID)
		assert.NoError(t, err)
	})
	bob := g.connect(t, room.ID, "bob")

	ev := read(t, bob)
	assert.Equal(t, core.EventApproval, ev.Type)
	assert.Equal(t, domain.UserID("bob"), ev.To)

	send(t, bob, map[string]any{"type": "chat", "payload": map[string]string{"content": "in"}})
	quiet(t, bob)
}

func TestGateway_EndWhileConnecting(t *testing.T) {
	g := newGateway(t, nil)
	room := g.room(t)

	g.bus.onNextSubscribe(func() {
		_, err := g.rooms.End(context.Background(), g.host, room.ID)
		assert.NoError(t, err)
	})
	host := g.connect(t, room.ID, "host")

	ev := read(t, host)
	assert.Equal(t, core.EventMeetingEnded, ev.Type)
	closedWith(t, host, signal.CloseNormal)
}

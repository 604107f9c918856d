package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meetroom/internal/adapters/auth"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Websocket close codes sent to clients.
const (
	CloseNormal          = websocket.CloseNormalClosure
	CloseGeneric         = 4000
	CloseUnauthenticated = 4001
	CloseDuplicate       = 4002
	CloseForbidden       = 4003
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	SendBuffer  int
	RateLimits  map[MessageType]int
	RateDefault int
	CheckOrigin func(r *http.Request) bool
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 64,
		RateLimits: map[MessageType]int{
			MsgChat:     10,
			MsgReaction: 5,
		},
		RateDefault: 20,
	}
}

// SignalWSController is the realtime gateway: one session per websocket,
// subscribed to the room group it connected to.
type SignalWSController struct {
	Rooms    *app.Lifecycle
	Bus      core.GroupBroadcaster
	Registry *app.Registry
	Policy   app.Policy
	Identity core.IdentityResolver
	Opts     Options

	upgrader websocket.Upgrader
}

func NewSignalWSController(
	rooms *app.Lifecycle,
	bus core.GroupBroadcaster,
	reg *app.Registry,
	policy app.Policy,
	identity core.IdentityResolver,
	opts Options,
) *SignalWSController {
	check := opts.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	return &SignalWSController{
		Rooms:    rooms,
		Bus:      bus,
		Registry: reg,
		Policy:   policy,
		Identity: identity,
		Opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: check},
	}
}

type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int, writeWait time.Duration) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// CloseWith sends a close frame carrying code and closes the connection.
func (c *WsSignalConn) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int("code", code).Msg("write close frame")
	}
	c.Close()
}

// HandleSignal upgrades the request and runs the session until the
// connection drops or ctx ends.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	client := c.GetString("client_token")
	token := auth.TokenFromRequest(c.Request)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer, ctl.Opts.WriteWait)

	user, err := ctl.Identity.Resolve(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("client", client).Msg("unauthenticated connection")
		conn.CloseWith(CloseUnauthenticated, "unauthenticated")
		return
	}

	room, admitted, err := ctl.Rooms.Authorize(ctx, user, roomID)
	if err != nil {
		code, reason := CloseGeneric, "connection refused"
		if errors.Is(err, domain.ErrForbidden) {
			code, reason = CloseForbidden, "not a participant"
		}
		log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Str("identity", string(user.ID)).Msg("connection refused")
		conn.CloseWith(code, reason)
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	s := newSession(ctl, core.SessionID(uuid.NewString()), user, room, conn, cancel)
	s.admitted.Store(admitted)
	s.setState(stateAuthenticated)

	log.Info().
		Str("module", "signal").
		Str("sid", string(s.id)).
		Str("client", client).
		Str("room", string(room.ID)).
		Str("identity", string(user.ID)).
		Bool("admitted", admitted).
		Msg("new WS connection")

	kick := func() { s.kick(CloseDuplicate, "duplicate connection") }
	older := ctl.Registry.Bind(room.ID, user.ID, s, kick)
	ctl.sendParticipants(sctx, s)
	ctl.Bus.Subscribe(room.ID, s)
	s.setState(stateSubscribed)

	go ctl.writePump(sctx, s)
	go ctl.readPump(sctx, s)

	ctl.recheck(sctx, s)

	// Local older sessions close now; those on other nodes close on receipt
	// of force_disconnect.
	for _, sid := range older {
		ctl.Registry.Cancel(sid)
	}
	if len(older) > 0 {
		log.Info().Str("module", "signal").Str("identity", string(user.ID)).Int("older", len(older)).Msg("replacing sessions")
	}
	ev := core.NewEvent(core.EventForceDisconnect, forceDisconnectPayload{SessionID: s.id, Identity: user.ID})
	ev.To = user.ID
	ctl.Bus.Publish(sctx, room.ID, ev)
}

// recheck reloads admission once the session is subscribed, catching an
// approval or an end published between Authorize and Subscribe.
func (ctl *SignalWSController) recheck(ctx context.Context, s *session) {
	room, admitted, err := ctl.Rooms.Authorize(ctx, s.user, s.room.ID)
	switch {
	case errors.Is(err, domain.ErrValidation):
		log.Info().Str("module", "signal").Str("sid", string(s.id)).Msg("room ended while connecting")
		s.kick(CloseNormal, "meeting ended",
			core.NewEvent(core.EventMeetingEnded, meetingEndedPayload{RoomID: s.room.ID}))
	case err != nil:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("admission recheck")
	case admitted && !s.admitted.Swap(true):
		log.Info().Str("module", "signal").Str("sid", string(s.id)).Msg("approved while connecting")
		ev := core.NewEvent(core.EventApproval, approvalPayload{
			RoomID:       room.ID,
			Identity:     s.user.ID,
			Username:     s.user.Username,
			HostUsername: room.HostUsername,
		})
		ev.To = s.user.ID
		s.send(ev)
	}
}

type forceDisconnectPayload struct {
	SessionID core.SessionID `json:"sessionId"`
	Identity  domain.UserID  `json:"identity"`
}

type meetingEndedPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type approvalPayload struct {
	RoomID       domain.RoomID `json:"roomId"`
	Identity     domain.UserID `json:"identity"`
	Username     string        `json:"username"`
	HostUsername string        `json:"hostUsername"`
}

type participantsPayload struct {
	RoomID       domain.RoomID     `json:"roomId"`
	Status       domain.RoomStatus `json:"status"`
	Participants []app.RosterEntry `json:"participants"`
}

func (ctl *SignalWSController) sendParticipants(ctx context.Context, s *session) {
	roster, err := ctl.Rooms.Roster(ctx, s.room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("load roster")
		s.sendError(ErrCodeInternal, "could not load participants")
		return
	}
	s.send(core.NewEvent(core.EventParticipantsList, participantsPayload{
		RoomID:       s.room.ID,
		Status:       s.room.Status,
		Participants: roster,
	}))
}

// teardown runs once per session, whatever ended it. It waits for the
// write pump so a pending close frame goes out before the socket closes.
func (ctl *SignalWSController) teardown(s *session) {
	if !s.transition(stateClosed) {
		return
	}
	code := s.closeCode()
	if s.admitted.Load() && code != CloseDuplicate && code != CloseNormal {
		left := core.NewEvent(core.EventUserLeft, memberPayload{Identity: s.user.ID, Username: s.user.Username})
		left.From = s.user.ID
		ctl.Bus.Publish(context.Background(), s.room.ID, left)
	}
	ctl.Bus.Unsubscribe(s.room.ID, s.id)
	ctl.Registry.Unbind(s.id)
	s.cancel()
	<-s.written
	s.conn.Close()
	log.Info().Str("module", "signal").Str("sid", string(s.id)).Str("room", string(s.room.ID)).Int("code", code).Msg("session closed")
}

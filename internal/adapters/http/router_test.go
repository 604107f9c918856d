package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetroom/internal/adapters/auth"
	router "github.com/dkeye/meetroom/internal/adapters/http"
	"github.com/dkeye/meetroom/internal/adapters/rtc"
	"github.com/dkeye/meetroom/internal/adapters/storage/memory"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/config"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
)

type api struct {
	engine *gin.Engine
	tokens map[string]string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	resolver, err := auth.NewJWTResolver("router-test-secret")
	require.NoError(t, err)

	rooms := app.NewLifecycle(memory.New(), core.NewHub())
	cfg := &config.Config{Mode: "test", Secret: "cookie-secret"}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine := router.SetupRouter(ctx, cfg, router.Deps{
		Rooms:    rooms,
		Identity: resolver,
		WebRTC:   rtc.DefaultWebRTCConfig(),
	})

	a := &api{engine: engine, tokens: map[string]string{}}
	for id, name := range map[string]string{"host": "Hosty", "alice": "Alice", "bob": "Bob"} {
		u, err := domain.NewUser(id, name)
		require.NoError(t, err)
		tok, err := resolver.Issue(u, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
		require.NoError(t, err)
		a.tokens[id] = tok
	}
	return a
}

func (a *api) do(t *testing.T, method, path, who string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[who])
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func (a *api) createRoom(t *testing.T, body map[string]any) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/rooms", "host", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room struct {
		ID string `json:"id"`
	}
	decode(t, w, &room)
	require.NotEmpty(t, room.ID)
	return room.ID
}

func TestRouter_Health(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_WebRTCConfig(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/api/webrtc/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"iceServers":[{"urls":["stun:stun.l.google.com:19302"]}]}`, w.Body.String())
}

func TestRouter_RequiresToken(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"unauthenticated"`)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_JoinApproveFlow(t *testing.T) {
	a := newAPI(t)
	id := a.createRoom(t, map[string]any{"title": "Weekly", "maxParticipants": 3})
	base := "/api/rooms/" + id

	w := a.do(t, http.MethodPost, base+"/join-request", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p domain.Participant
	decode(t, w, &p)
	assert.Equal(t, domain.ParticipantPending, p.Status)

	w = a.do(t, http.MethodPost, base+"/join-request", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code, "repeated requests are idempotent")

	w = a.do(t, http.MethodPost, base+"/join-request", "host", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isHost":true}`, w.Body.String())

	w = a.do(t, http.MethodGet, base+"/pending-requests", "host", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []domain.Participant
	decode(t, w, &pending)
	require.Len(t, pending, 1)

	w = a.do(t, http.MethodPost, base+"/approve-participant", "alice", map[string]string{"participantId": string(p.ID)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, base+"/approve-participant", "host", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, base+"/approve-participant", "host", map[string]string{"participantId": string(p.ID)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &p)
	assert.Equal(t, domain.ParticipantApproved, p.Status)

	w = a.do(t, http.MethodGet, base, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		ID                string `json:"id"`
		ParticipantCount  int    `json:"participantCount"`
		ParticipantStatus string `json:"participantStatus"`
		IsHost            bool   `json:"isHost"`
		HasSecret         bool   `json:"hasSecret"`
	}
	decode(t, w, &view)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, 1, view.ParticipantCount)
	assert.Equal(t, "approved", view.ParticipantStatus)
	assert.False(t, view.IsHost)
	assert.False(t, view.HasSecret)

	w = a.do(t, http.MethodGet, base+"/chat/messages?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = a.do(t, http.MethodGet, base+"/chat/messages", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, base+"/leave", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &p)
	assert.Equal(t, domain.ParticipantLeft, p.Status)
}

func TestRouter_RejectFlow(t *testing.T) {
	a := newAPI(t)
	base := "/api/rooms/" + a.createRoom(t, map[string]any{"title": "Closed"})

	w := a.do(t, http.MethodPost, base+"/join-request", "bob", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var p domain.Participant
	decode(t, w, &p)

	w = a.do(t, http.MethodPost, base+"/reject-participant", "host", map[string]string{"participantId": string(p.ID)})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &p)
	assert.Equal(t, domain.ParticipantRejected, p.Status)

	w = a.do(t, http.MethodPost, base+"/join-request", "bob", nil)
	assert.Equal(t, http.StatusCreated, w.Code, "a rejected user may ask again")
}

func TestRouter_SecretAndValidation(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodPost, "/api/rooms", "host", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"validation_error"`)

	w = a.do(t, http.MethodPost, "/api/rooms", "host", map[string]any{"title": "x", "maxParticipants": 51})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	base := "/api/rooms/" + a.createRoom(t, map[string]any{"title": "Locked", "secret": "s3cret"})

	w = a.do(t, http.MethodPost, base+"/join-request", "alice", map[string]string{"secret": "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodPost, base+"/join-request", "alice", map[string]string{"secret": "s3cret"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestRouter_EndedRoom(t *testing.T) {
	a := newAPI(t)
	id := a.createRoom(t, map[string]any{"title": "Short"})
	base := "/api/rooms/" + id

	w := a.do(t, http.MethodPost, base+"/start", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodPost, base+"/start", "host", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/rooms", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	decode(t, w, &listed)
	assert.Len(t, listed, 1)

	w = a.do(t, http.MethodPost, base+"/end", "host", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodPost, base+"/end", "host", nil)
	assert.Equal(t, http.StatusOK, w.Code, "ending twice is harmless")

	w = a.do(t, http.MethodPost, base+"/join-request", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/rooms", "alice", nil)
	decode(t, w, &listed)
	assert.Empty(t, listed)

	w = a.do(t, http.MethodGet, "/api/rooms/does-not-exist", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_PullSignals(t *testing.T) {
	a := newAPI(t)
	base := "/api/rooms/" + a.createRoom(t, map[string]any{"title": "Fallback"})

	w := a.do(t, http.MethodPost, base+"/join-request", "alice", nil)
	var p domain.Participant
	decode(t, w, &p)
	w = a.do(t, http.MethodPost, base+"/approve-participant", "host", map[string]string{"participantId": string(p.ID)})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, base+"/signals", "alice", map[string]any{
		"type":       "offer",
		"toIdentity": "host",
		"payload":    map[string]string{"sdp": "v=0"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, base+"/signals", "alice", map[string]any{"type": "offer"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, base+"/signals", "host", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var signals []domain.SignalMessage
	decode(t, w, &signals)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.UserID("alice"), signals[0].SenderID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(signals[0].Payload))

	w = a.do(t, http.MethodGet, base+"/signals", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = a.do(t, http.MethodGet, base+"/raised-hands", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

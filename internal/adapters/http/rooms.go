package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gin-gonic/gin"
)

type roomHandlers struct {
	rooms *app.Lifecycle
}

type createRoomRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	MaxParticipants *int       `json:"maxParticipants"`
	Secret          string     `json:"secret"`
	ScheduledTime   *time.Time `json:"scheduledTime"`
}

type joinRequest struct {
	Secret string `json:"secret"`
}

type participantRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type signalRequest struct {
	Type       string          `json:"type"`
	ToIdentity domain.UserID   `json:"toIdentity"`
	Payload    json.RawMessage `json:"payload"`
}

func roomID(c *gin.Context) domain.RoomID { return domain.RoomID(c.Param("id")) }

// bind decodes an optional JSON body; an empty body leaves dst untouched.
func bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "invalid JSON body"})
		return false
	}
	return true
}

func (h *roomHandlers) create(c *gin.Context) {
	var req createRoomRequest
	if !bind(c, &req) {
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), currentUser(c), domain.RoomParams{
		Title:           req.Title,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		Secret:          req.Secret,
		ScheduledTime:   req.ScheduledTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *roomHandlers) list(c *gin.Context) {
	rooms, err := h.rooms.List(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *roomHandlers) get(c *gin.Context) {
	room, err := h.rooms.Get(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *roomHandlers) start(c *gin.Context) {
	room, err := h.rooms.Start(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *roomHandlers) end(c *gin.Context) {
	room, err := h.rooms.End(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *roomHandlers) requestJoin(c *gin.Context) {
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	p, created, err := h.rooms.RequestJoin(c.Request.Context(), currentUser(c), roomID(c), req.Secret)
	if err != nil {
		writeError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"isHost": true})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, p)
}

func (h *roomHandlers) approve(c *gin.Context) {
	var req participantRequest
	if !bind(c, &req) {
		return
	}
	if req.ParticipantID == "" {
		writeError(c, domain.Invalid("participantId", "participantId is required"))
		return
	}
	p, err := h.rooms.Approve(c.Request.Context(), currentUser(c), roomID(c), req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *roomHandlers) reject(c *gin.Context) {
	var req participantRequest
	if !bind(c, &req) {
		return
	}
	if req.ParticipantID == "" {
		writeError(c, domain.Invalid("participantId", "participantId is required"))
		return
	}
	p, err := h.rooms.Reject(c.Request.Context(), currentUser(c), roomID(c), req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *roomHandlers) leave(c *gin.Context) {
	p, err := h.rooms.Leave(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *roomHandlers) pending(c *gin.Context) {
	ps, err := h.rooms.PendingRequests(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (h *roomHandlers) chatHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.rooms.ChatHistory(c.Request.Context(), currentUser(c), roomID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *roomHandlers) raisedHands(c *gin.Context) {
	hands, err := h.rooms.RaisedHands(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hands)
}

func (h *roomHandlers) postSignal(c *gin.Context) {
	var req signalRequest
	if !bind(c, &req) {
		return
	}
	msg, err := h.rooms.PostSignal(c.Request.Context(), currentUser(c), roomID(c), req.Type, req.ToIdentity, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *roomHandlers) pullSignals(c *gin.Context) {
	msgs, err := h.rooms.PullSignals(c.Request.Context(), currentUser(c), roomID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

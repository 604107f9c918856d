package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleChat(ctx context.Context, s *session, in inbound) {
	var p struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(in.Payload, &p); err != nil {
		s.sendError(ErrCodeInvalidContent, "payload must carry content")
		return
	}
	if _, err := ctl.Rooms.Chat(ctx, s.room.ID, s.user, p.Content); err != nil {
		ctl.reportError(s, err, ErrCodeInvalidContent)
	}
}

func (ctl *SignalWSController) handleReaction(ctx context.Context, s *session, in inbound) {
	var p struct {
		Reaction string `json:"reaction"`
	}
	if err := json.Unmarshal(in.Payload, &p); err != nil {
		s.sendError(ErrCodeInvalidPayload, "payload must carry reaction")
		return
	}
	if _, err := ctl.Rooms.React(ctx, s.room.ID, s.user, p.Reaction); err != nil {
		ctl.reportError(s, err, ErrCodeInvalidPayload)
	}
}

func (ctl *SignalWSController) handleHand(ctx context.Context, s *session, in inbound) {
	action := app.HandRaise
	if in.Type == MsgLowerHand {
		action = app.HandLower
	}
	if _, err := ctl.Rooms.SetHand(ctx, s.room.ID, s.user, action); err != nil {
		ctl.reportError(s, err, ErrCodeInvalidPayload)
	}
}

// reportError sends validation failures back as invalidCode and hides
// everything else behind internal_error.
func (ctl *SignalWSController) reportError(s *session, err error, invalidCode string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		s.sendError(invalidCode, verr.Reason)
		return
	}
	log.Error().Err(err).Str("module", "signal").Str("sid", string(s.id)).Msg("handler failed")
	s.sendError(ErrCodeInternal, "internal error")
}

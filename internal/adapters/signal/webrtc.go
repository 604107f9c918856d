package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer, ice_candidate and track_state to the
// room or to one peer. Nothing is stored.
func (ctl *SignalWSController) handleRelay(ctx context.Context, s *session, in inbound) {
	if !domain.PayloadPresent(in.Payload) {
		s.sendError(ErrCodeInvalidSignal, string(in.Type)+" requires a payload object")
		return
	}
	ev := core.Event{
		Type:      core.EventType(in.Type),
		From:      s.user.ID,
		To:        in.ToIdentity,
		Payload:   in.Payload,
		Timestamp: time.Now().UTC(),
	}
	logRelay(s, in)
	ctl.Bus.Publish(ctx, s.room.ID, ev)
}

func logRelay(s *session, in inbound) {
	e := log.Debug().
		Str("module", "signal").
		Str("sid", string(s.id)).
		Str("type", string(in.Type)).
		Str("to", string(in.ToIdentity))
	switch in.Type {
	case MsgOffer, MsgAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(in.Payload, &desc); err == nil {
			e = e.Str("sdp_type", desc.Type.String()).Int("sdp_len", len(desc.SDP))
		}
	case MsgICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(in.Payload, &cand); err == nil && cand.SDPMid != nil {
			e = e.Str("sdp_mid", *cand.SDPMid)
		}
	}
	e.Msg("relay")
}

type screenSharePayload struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	Action   string        `json:"action"`
}

func (ctl *SignalWSController) handleScreenShare(ctx context.Context, s *session, in inbound) {
	action := "start"
	if in.Type == MsgScreenShareStop {
		action = "stop"
	}
	ev := core.NewEvent(core.EventScreenShare, screenSharePayload{
		Identity: s.user.ID,
		Username: s.user.Username,
		Action:   action,
	})
	ev.From = s.user.ID
	ctl.Bus.Publish(ctx, s.room.ID, ev)
}

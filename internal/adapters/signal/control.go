package signal

import (
	"context"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberPayload struct {
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
	Reason   string        `json:"reason,omitempty"`
}

func (ctl *SignalWSController) handlePing(_ context.Context, s *session, _ inbound) {
	s.send(core.NewEvent(core.EventPong, nil))
}

// handleJoin announces the session to the rest of the room.
func (ctl *SignalWSController) handleJoin(ctx context.Context, s *session, _ inbound) {
	log.Info().Str("module", "signal").Str("sid", string(s.id)).Str("room", string(s.room.ID)).Msg("join")
	ev := core.NewEvent(core.EventUserJoined, memberPayload{Identity: s.user.ID, Username: s.user.Username})
	ev.From = s.user.ID
	ctl.Bus.Publish(ctx, s.room.ID, ev)
}

// handleJoinReady tells peers the client can take offers.
func (ctl *SignalWSController) handleJoinReady(ctx context.Context, s *session, _ inbound) {
	ev := core.NewEvent(core.EventJoinReady, memberPayload{Identity: s.user.ID, Username: s.user.Username})
	ev.From = s.user.ID
	ctl.Bus.Publish(ctx, s.room.ID, ev)
}

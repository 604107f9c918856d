package app

import (
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose send buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, sid core.SessionID, ev core.Event) BackpressureAction
}

// SimplePolicy kicks slow sessions, except for frames that are safe to lose.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.RoomID, _ core.SessionID, ev core.Event) BackpressureAction {
	switch ev.Type {
	case core.EventTrackState, core.EventReaction:
		return DropFrame
	}
	return KickMember
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/meetroom/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor periodically purges expired signals and ends idle rooms. Rooms
// holding live sessions on this node are never idle.
type Janitor struct {
	lc       *Lifecycle
	reg      *Registry
	cron     *cron.Cron
	roomIdle time.Duration
}

func NewJanitor(lc *Lifecycle, reg *Registry, schedule string, roomIdle time.Duration) (*Janitor, error) {
	j := &Janitor{
		lc:       lc,
		reg:      reg,
		cron:     cron.New(),
		roomIdle: roomIdle,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep runs one cleanup pass. Failures are logged; the next tick retries.
func (j *Janitor) Sweep(ctx context.Context) {
	purged, err := j.lc.PurgeSignals(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "app.janitor").Msg("purge signals")
	} else if purged > 0 {
		log.Info().Str("module", "app.janitor").Int64("purged", purged).Msg("purged expired signals")
	}

	if j.roomIdle <= 0 {
		return
	}
	ended, err := j.lc.ExpireStale(ctx, j.roomIdle, j.busy)
	if err != nil {
		log.Error().Err(err).Str("module", "app.janitor").Msg("expire idle rooms")
	}
	if ended > 0 {
		log.Info().Str("module", "app.janitor").Int("ended", ended).Msg("ended idle rooms")
	}
}

func (j *Janitor) busy(room domain.RoomID) bool {
	return j.reg != nil && j.reg.RoomCount(room) > 0
}

// Run starts the schedule and blocks until ctx is done and running jobs finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	log.Info().Str("module", "app.janitor").Msg("janitor started")
	<-ctx.Done()
	<-j.cron.Stop().Done()
	log.Info().Str("module", "app.janitor").Msg("janitor stopped")
	return nil
}

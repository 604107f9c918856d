// Package pubsub carries room events between server nodes over redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "meetroom:room:"

// RedisBroadcaster publishes every event to a per-room channel and delivers
// what it receives to the sessions subscribed on this node.
type RedisBroadcaster struct {
	rdb    *redis.Client
	prefix string
	local  *core.Hub
}

var _ core.GroupBroadcaster = (*RedisBroadcaster)(nil)

func NewRedisBroadcaster(rdb *redis.Client, prefix string) *RedisBroadcaster {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisBroadcaster{rdb: rdb, prefix: prefix, local: core.NewHub()}
}

// Connect builds a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (b *RedisBroadcaster) channel(id domain.RoomID) string { return b.prefix + string(id) }

func (b *RedisBroadcaster) Subscribe(id domain.RoomID, sub core.Subscriber) {
	b.local.Subscribe(id, sub)
}

func (b *RedisBroadcaster) Unsubscribe(id domain.RoomID, sid core.SessionID) {
	b.local.Unsubscribe(id, sid)
}

// Publish sends ev through redis. When redis is unreachable the event still
// reaches this node's sessions.
func (b *RedisBroadcaster) Publish(ctx context.Context, id domain.RoomID, ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "pubsub.redis").Str("type", string(ev.Type)).Msg("marshal event")
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(id), data).Err(); err != nil {
		log.Error().Err(err).Str("module", "pubsub.redis").Str("room", string(id)).Msg("publish failed, delivering locally")
		b.local.Publish(ctx, id, ev)
	}
}

// Run pattern-subscribes to every room channel and feeds the local hub until ctx ends.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	log.Info().Str("module", "pubsub.redis").Str("pattern", b.prefix+"*").Msg("listening")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg)
		}
	}
}

func (b *RedisBroadcaster) dispatch(ctx context.Context, msg *redis.Message) {
	id := domain.RoomID(strings.TrimPrefix(msg.Channel, b.prefix))
	var ev core.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		log.Warn().Err(err).Str("module", "pubsub.redis").Str("channel", msg.Channel).Msg("bad event")
		return
	}
	b.local.Publish(ctx, id, ev)
}

// SubscriberCount reports the sessions of room id on this node.
func (b *RedisBroadcaster) SubscriberCount(id domain.RoomID) int {
	return b.local.SubscriberCount(id)
}

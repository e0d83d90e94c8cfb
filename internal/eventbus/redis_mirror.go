package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const mirrorChannelPrefix = "collab_events:"

// RedisPublisher is the part of the redis client the mirror needs
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror republishes every emitted event to a redis channel so that
// dashboards and other services can observe a session
type RedisMirror struct {
	rdb     RedisPublisher
	channel string
	cancel  func()
}

func NewRedisMirror(rdb RedisPublisher, sessionID string) *RedisMirror {
	return &RedisMirror{
		rdb:     rdb,
		channel: mirrorChannelPrefix + sessionID,
	}
}

// Attach subscribes the mirror to all events of the emitter
func (m *RedisMirror) Attach(e *Emitter) {
	m.cancel = e.OnAny(m.publish)
}

func (m *RedisMirror) Detach() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *RedisMirror) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("service", "eventbus").Str("event", string(msg.Name)).Msg("can't encode event")
		return
	}

	if err := m.rdb.Publish(context.Background(), m.channel, data).Err(); err != nil {
		log.Error().Err(err).Str("service", "eventbus").Str("channel", m.channel).Msg("can't mirror event")
	}
}

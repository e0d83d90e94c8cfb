package relay

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const redisChannelPrefix = "signals:"

// RedisBus is a live redis subscription
type RedisBus interface {
	Channel() <-chan *redis.Message
	Close() error
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// Redis relays envelopes over redis pub/sub, one channel per session
type Redis struct {
	rdb       redisPublisher
	subscribe func(ctx context.Context, channel string) (RedisBus, error)
	close     func() error
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{
		rdb:   rdb,
		close: rdb.Close,
		subscribe: func(ctx context.Context, channel string) (RedisBus, error) {
			pubsub := rdb.Subscribe(ctx, channel)
			// Wait until subscription is created
			if _, err := pubsub.Receive(ctx); err != nil {
				pubsub.Close()
				return nil, err
			}
			return &redisSubscription{pubsub: pubsub}, nil
		},
	}
}

func redisChannel(sessionID string) string {
	return redisChannelPrefix + sessionID
}

func (r *Redis) Publish(ctx context.Context, env *Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, redisChannel(env.SessionID), data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, sessionID string, h Handler) (Subscription, error) {
	bus, err := r.subscribe(ctx, redisChannel(sessionID))
	if err != nil {
		return nil, err
	}

	go func() {
		// If the Go channel is blocked full for 30 seconds the message is dropped.
		for msg := range bus.Channel() {
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Error().Err(err).Str("service", "relay").Str("channel", msg.Channel).Msg("")
				continue
			}
			h(env)
		}
	}()

	return bus, nil
}

func (r *Redis) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

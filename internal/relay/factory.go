package relay

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// New builds the relay for the configured mode
func New(mode string, redisAddr string, natsURL string) (Relay, error) {
	switch mode {
	case "", LocalMode:
		return NewLocal(), nil
	case RedisMode:
		return NewRedis(redis.NewClient(&redis.Options{Addr: redisAddr})), nil
	case NatsMode:
		return NewNats(natsURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

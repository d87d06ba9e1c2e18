package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const pingTimeout = 2 * time.Second

// NewClient connects to addr. Redis is optional: nil is returned when
// addr is empty or the server does not answer, and callers run single
// instance.
func NewClient(addr string) *redis.Client {
	if addr == "" {
		log.Info().Msg("Redis not configured. Running without Redis.")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Redis not available. Running without Redis.")
		client.Close()
		return nil
	}

	log.Info().Str("addr", addr).Msg("Redis connected successfully.")
	return client
}

package server

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// redisPinger adapts a go-redis client to Pinger.
type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisClient = redis.UniversalClient

// OpenRedis parses a redis uri and returns a client that answered ping.
func OpenRedis(ctx context.Context, uri string) (RedisClient, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	rc := redis.NewClient(opt)
	if err = rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		logger().Infow("ping redis fail", "addr", opt.Addr, "err", err)
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

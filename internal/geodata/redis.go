package geodata

import (
	"context"
	"errors"
	"time"

	"geo-drill/internal/logger"

	"github.com/redis/go-redis/v9"
)

// RedisSource caches raw documents of the wrapped source in Redis. Redis
// failures are logged and the wrapped source is used directly.
type RedisSource struct {
	Next   Source
	Client redis.UniversalClient
	TTL    time.Duration
	Prefix string
}

func NewRedisSource(next Source, client redis.UniversalClient, ttl time.Duration) *RedisSource {
	return &RedisSource{Next: next, Client: client, TTL: ttl, Prefix: "geo:raw:"}
}

func (s *RedisSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	if s.Client == nil {
		return s.Next.Fetch(ctx, key)
	}
	rk := s.Prefix + key
	b, err := s.Client.Get(ctx, rk).Bytes()
	if err == nil {
		logger.L().Debug("redis_raw_hit", "key", key, "bytes", len(b))
		return b, nil
	}
	if !errors.Is(err, redis.Nil) {
		logger.L().Warn("redis_raw_get_fail", "key", key, "err", err)
	}
	b, err = s.Next.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.Client.Set(ctx, rk, b, s.TTL).Err(); err != nil {
		logger.L().Warn("redis_raw_set_fail", "key", key, "err", err)
	}
	return b, nil
}

// List is not cached; it delegates to the wrapped source.
func (s *RedisSource) List(ctx context.Context, prefix string) ([]string, error) {
	if l, ok := s.Next.(Lister); ok {
		return l.List(ctx, prefix)
	}
	return nil, ErrListUnsupported
}

package auth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// blacklistKeyPrefix matches the keys the identity service writes on logout.
const blacklistKeyPrefix = "blacklist:"

// RedisBlacklist checks token revocation against the shared redis cache.
type RedisBlacklist struct {
	rdb *redis.Client
}

// NewRedisBlacklist connects to redis using a redis:// URL.
func NewRedisBlacklist(url string) (*RedisBlacklist, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisBlacklist{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies the connection. Called once at startup.
func (b *RedisBlacklist) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token id appears on the blacklist.
func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("checking blacklist for %s: %w", jti, err)
	}
	return n > 0, nil
}

// Close releases the redis connection.
func (b *RedisBlacklist) Close() error {
	return b.rdb.Close()
}

var _ Blacklist = (*RedisBlacklist)(nil)

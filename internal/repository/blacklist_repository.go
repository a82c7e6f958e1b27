package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlacklistRepo records revoked token ids in Redis until their natural
// expiry.  Lookups fail closed: a Redis error is returned to the caller,
// which must treat the token as unusable.
type BlacklistRepo struct {
	rdb    *redis.Client
	prefix string
}

func NewBlacklistRepo(rdb *redis.Client, prefix string) *BlacklistRepo {
	if prefix == "" {
		prefix = "bl"
	}
	return &BlacklistRepo{rdb: rdb, prefix: prefix}
}

func (r *BlacklistRepo) key(jti string) string { return r.prefix + ":" + jti }

// Add blacklists jti until the given instant.  Already-expired tokens are
// not stored.
func (r *BlacklistRepo) Add(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.key(jti), 1, ttl).Err()
}

// Contains reports whether jti is blacklisted.
func (r *BlacklistRepo) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptScript increments the attempt counter and compares it to the limit
// in one round trip.  Returns {found, exceeded, code, attempts, created_at}.
var attemptScript = redis.NewScript(`
	local key = KEYS[1]
	local max = tonumber(ARGV[1])
	if redis.call('EXISTS', key) == 0 then
		return {0, 0, '', 0, 0}
	end
	local attempts = redis.call('HINCRBY', key, 'attempts', 1)
	if attempts > max then
		redis.call('DEL', key)
		return {1, 1, '', attempts, 0}
	end
	local fields = redis.call('HMGET', key, 'code', 'created_at')
	return {1, 0, fields[1], attempts, tonumber(fields[2]) or 0}
`)

// consumeScript deletes the record only if it still holds the given code, so
// a passcode re-issued in between is left alone.
var consumeScript = redis.NewScript(`
	if redis.call('HGET', KEYS[1], 'code') == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisStore keeps passcodes in Redis hashes with a key-level TTL.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore returns a store using keys "<prefix>:<email>".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(email string) string { return s.prefix + ":" + email }

// Save overwrites any existing record and sets its TTL atomically.
func (s *RedisStore) Save(ctx context.Context, email string, rec Record, ttl time.Duration) error {
	key := s.key(email)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"code", rec.Code,
			"created_at", rec.CreatedAt.Unix(),
			"attempts", rec.Attempts,
		)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// Attempt runs attemptScript.
func (s *RedisStore) Attempt(ctx context.Context, email string, max int) (Record, bool, bool, error) {
	vals, err := attemptScript.Run(ctx, s.rdb, []string{s.key(email)}, max).Slice()
	if err != nil {
		return Record{}, false, false, err
	}
	if len(vals) != 5 {
		return Record{}, false, false, fmt.Errorf("otp script: unexpected reply %#v", vals)
	}
	found := asInt64(vals[0]) == 1
	exceeded := asInt64(vals[1]) == 1
	code, _ := vals[2].(string)
	rec := Record{
		Code:      code,
		Attempts:  int(asInt64(vals[3])),
		CreatedAt: time.Unix(asInt64(vals[4]), 0).UTC(),
	}
	return rec, found, exceeded, nil
}

// Consume runs consumeScript.
func (s *RedisStore) Consume(ctx context.Context, email, code string) error {
	return consumeScript.Run(ctx, s.rdb, []string{s.key(email)}, code).Err()
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

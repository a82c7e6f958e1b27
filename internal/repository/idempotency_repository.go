package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/import-brokerage/internal/model"
)

// ErrIdempotencyInFlight means another request holding the same key has not
// finished yet.
var ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")

// ErrIdempotencyKeyReused means the key was first used with a different
// request body.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// ErrIdempotencyNotFound means no record is stored under the key.
var ErrIdempotencyNotFound = errors.New("idempotency record not found")

// IdempotencyRepo keeps request-level replay records in Redis.
type IdempotencyRepo struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotencyRepo(rdb *redis.Client, prefix string, ttl time.Duration) *IdempotencyRepo {
	if prefix == "" {
		prefix = "idem"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyRepo{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *IdempotencyRepo) key(k string) string { return r.prefix + ":" + k }

// Begin claims key for a request with the given body hash.  When the key is
// new it stores an IN_PROGRESS record and returns (nil, nil).  When a
// COMPLETED record with the same hash exists it is returned for replay.
// Otherwise ErrIdempotencyInFlight or ErrIdempotencyKeyReused is returned.
func (r *IdempotencyRepo) Begin(ctx context.Context, key, requestHash string) (*model.IdempotencyRecord, error) {
	rec := model.IdempotencyRecord{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Status:         model.IdempotencyInProgress,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	ok, err := r.rdb.SetNX(ctx, r.key(key), raw, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	existing, err := r.Get(ctx, key)
	if errors.Is(err, ErrIdempotencyNotFound) {
		// expired between the two calls
		return nil, ErrIdempotencyInFlight
	}
	if err != nil {
		return nil, err
	}
	if existing.RequestHash != requestHash {
		return nil, ErrIdempotencyKeyReused
	}
	if existing.Status != model.IdempotencyCompleted {
		return nil, ErrIdempotencyInFlight
	}
	return &existing, nil
}

// Complete stores the response for key so later requests replay it.
func (r *IdempotencyRepo) Complete(ctx context.Context, key, requestHash string, status int, body []byte) error {
	now := time.Now().UTC()
	raw, err := json.Marshal(model.IdempotencyRecord{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		ResponseStatus: status,
		ResponseData:   json.RawMessage(body),
		Status:         model.IdempotencyCompleted,
		CompletedAt:    &now,
	})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(key), raw, r.ttl).Err()
}

// Release drops an IN_PROGRESS claim so the client may retry after a
// failure that produced no durable effect.
func (r *IdempotencyRepo) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

// Get loads the record for key.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	raw, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, ErrIdempotencyNotFound
	}
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(raw, &rec)
	return rec, err
}

// Package store exposes the storage primitives the engine coordinates
// through: hashes, sorted sets, conditional set with expiry and pub/sub.
// All cross-request coordination goes through these calls; nothing relies on
// process memory for correctness.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("store: key not found")
	ErrLockContention = errors.New("store: lock held by another worker")
)

type ZMember struct {
	Member string
	Score  float64
}

type Store interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HUpdateIfExists(ctx context.Context, key, guard string, set map[string]string, clear ...string) (bool, error)

	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZAddNX(ctx context.Context, key, member string, score float64) (bool, error)
	ZIncrBy(ctx context.Context, key, member string, incr float64) (float64, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRank(ctx context.Context, key, member string) (int64, bool, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]ZMember, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)

	Publish(ctx context.Context, channel, message string) error
}

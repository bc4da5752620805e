// Package storetest provides an in-process Redis-backed store for tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	store "github.com/CodeAndHammer/sketchword/internal/store"
)

// New starts a miniredis server that lives for the duration of t.
func New(t testing.TB) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedisStore(rdb), mr
}

// Counting wraps a Store and records how often each key was probed with
// Exists or read with HGetAll.
type Counting struct {
	store.Store

	mu      sync.Mutex
	exists  map[string]int
	hgetall map[string]int
}

func NewCounting(s store.Store) *Counting {
	return &Counting{Store: s, exists: map[string]int{}, hgetall: map[string]int{}}
}

func (c *Counting) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	c.exists[key]++
	c.mu.Unlock()
	return c.Store.Exists(ctx, key)
}

func (c *Counting) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	c.hgetall[key]++
	c.mu.Unlock()
	return c.Store.HGetAll(ctx, key)
}

func (c *Counting) ExistsCalls(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exists[key]
}

func (c *Counting) HGetAllCalls(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hgetall[key]
}

func (c *Counting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exists = map[string]int{}
	c.hgetall = map[string]int{}
}

var ErrInjected = errors.New("storetest: injected failure")

// Faulty wraps a Store and fails chosen writes. A rule names the operation
// (ZAdd, ZAddNX, Set or Del) and a key the call must touch.
type Faulty struct {
	store.Store

	mu    sync.Mutex
	rules map[string]map[string]bool
}

func NewFaulty(s store.Store) *Faulty {
	return &Faulty{Store: s, rules: map[string]map[string]bool{}}
}

func (f *Faulty) Fail(op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rules[op] == nil {
		f.rules[op] = map[string]bool{}
	}
	f.rules[op][key] = true
}

func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = map[string]map[string]bool{}
}

func (f *Faulty) failing(op string, keys ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if f.rules[op][k] {
			return true
		}
	}
	return false
}

func (f *Faulty) ZAdd(ctx context.Context, key string, members ...store.ZMember) error {
	if f.failing("ZAdd", key) {
		return ErrInjected
	}
	return f.Store.ZAdd(ctx, key, members...)
}

func (f *Faulty) ZAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	if f.failing("ZAddNX", key) {
		return false, ErrInjected
	}
	return f.Store.ZAddNX(ctx, key, member, score)
}

func (f *Faulty) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failing("Set", key) {
		return ErrInjected
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *Faulty) Del(ctx context.Context, keys ...string) error {
	if f.failing("Del", keys...) {
		return ErrInjected
	}
	return f.Store.Del(ctx, keys...)
}

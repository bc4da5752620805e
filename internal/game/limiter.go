package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

// Limiter budgets submissions per key. A false result is a throttle, not
// an error.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisWindowLimiter allows limit submissions per fixed window. Counters
// live in Redis so every instance shares the budget.
type RedisWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisWindowLimiter(s store.Store, limit int, window time.Duration) *RedisWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisWindowLimiter{store: s, limit: limit, window: window, now: time.Now}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	bucket := l.now().UnixMilli() / l.window.Milliseconds()
	n, err := l.store.IncrWindow(ctx, keys.RateLimit(key, bucket), l.window)
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit), nil
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. It only
// holds the budget for a single instance.
type LocalLimiter struct {
	mu         sync.RWMutex
	entries    map[string]*limiterEntry
	every      rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewLocalLimiter(every rate.Limit, burst int, ttl time.Duration) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		entries:    make(map[string]*limiterEntry),
		every:      every,
		burst:      burst,
		ttl:        ttl,
		maxEntries: 50000,
		now:        time.Now,
	}
}

// NewWindowLocalLimiter spreads limit submissions evenly over window.
func NewWindowLocalLimiter(limit int, window time.Duration, ttl time.Duration) *LocalLimiter {
	if limit <= 0 {
		return NewLocalLimiter(rate.Inf, 1, ttl)
	}
	return NewLocalLimiter(rate.Every(window/time.Duration(limit)), limit, ttl)
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.get(key).Allow(), nil
}

func (l *LocalLimiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	entry, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		l.mu.Lock()
		if entry, ok = l.entries[key]; ok {
			entry.lastAccess = l.now()
		}
		l.mu.Unlock()
		if ok {
			return entry.limiter
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok = l.entries[key]; ok {
		entry.lastAccess = l.now()
		return entry.limiter
	}

	if key == "" || key == "::1" {
		util.LogWarn("Rate limiter key is empty or loopback: %q", key)
	}
	entry = &limiterEntry{
		limiter:    rate.NewLimiter(l.every, l.burst),
		lastAccess: l.now(),
	}
	l.entries[key] = entry
	return entry.limiter
}

func (l *LocalLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Cleanup drops entries idle for longer than the ttl. When the map is still
// oversized it drops the least recently used half.
func (l *LocalLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for key, entry := range l.entries {
		if entry.lastAccess.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}

	if len(l.entries) > l.maxEntries {
		type idle struct {
			key        string
			lastAccess time.Time
		}
		oldest := make([]idle, 0, len(l.entries))
		for key, entry := range l.entries {
			oldest = append(oldest, idle{key: key, lastAccess: entry.lastAccess})
		}
		sort.Slice(oldest, func(i, j int) bool {
			return oldest[i].lastAccess.Before(oldest[j].lastAccess)
		})
		half := len(oldest) / 2
		for _, e := range oldest[:half] {
			delete(l.entries, e.key)
		}
		removed += half
		util.LogInfo("Rate limiter map too large, removed %d oldest entries", half)
	}

	if removed > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removed)
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *LocalLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

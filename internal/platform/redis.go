package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	store "github.com/CodeAndHammer/sketchword/internal/store"
)

// RedisProgression keeps point totals in a single leaderboard sorted set.
type RedisProgression struct {
	store store.Store
}

func NewRedisProgression(s store.Store) *RedisProgression {
	return &RedisProgression{store: s}
}

func (p *RedisProgression) AwardPoints(ctx context.Context, playerID string, amount int) (int64, error) {
	total, err := p.store.ZIncrBy(ctx, keys.Progression, playerID, float64(amount))
	if err != nil {
		return 0, fmt.Errorf("award points to %s: %w", playerID, err)
	}
	return int64(total), nil
}

// RedisIdentity resolves display names through the users:by-name hash.
type RedisIdentity struct {
	store store.Store
}

func NewRedisIdentity(s store.Store) *RedisIdentity {
	return &RedisIdentity{store: s}
}

func (r *RedisIdentity) ResolveID(ctx context.Context, displayName string) (string, error) {
	id, err := r.store.HGet(ctx, keys.UsersByName, displayName)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id == "") {
		return "", ErrIdentityNotFound
	}
	return id, err
}

func (r *RedisIdentity) Register(ctx context.Context, displayName, id string) error {
	return r.store.HSet(ctx, keys.UsersByName, map[string]string{displayName: id})
}

// RedisBroadcaster publishes JSON messages over Redis pub/sub.
type RedisBroadcaster struct {
	store store.Store
}

func NewRedisBroadcaster(s store.Store) *RedisBroadcaster {
	return &RedisBroadcaster{store: s}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, message any) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, channel, string(raw))
}

// RedisComments stores the summary comment text per comment id.
type RedisComments struct {
	store store.Store
	now   func() time.Time
}

func NewRedisComments(s store.Store) *RedisComments {
	return &RedisComments{store: s, now: time.Now}
}

func (c *RedisComments) CreateComment(ctx context.Context, challengeID, text string) (string, error) {
	id := uuid.NewString()
	err := c.store.HSet(ctx, keys.Comment(id), map[string]string{
		"challengeId": challengeID,
		"text":        text,
		"updatedAt":   strconv.FormatInt(c.now().UnixMilli(), 10),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *RedisComments) EditComment(ctx context.Context, commentID, text string) error {
	exists, err := c.store.Exists(ctx, keys.Comment(commentID))
	if err != nil {
		return err
	}
	if !exists {
		return ErrCommentNotFound
	}
	return c.store.HSet(ctx, keys.Comment(commentID), map[string]string{
		"text":      text,
		"updatedAt": strconv.FormatInt(c.now().UnixMilli(), 10),
	})
}

func (c *RedisComments) Text(ctx context.Context, commentID string) (string, error) {
	return c.store.HGet(ctx, keys.Comment(commentID), "text")
}

// RedisMetadata mirrors post metadata under post-meta:{id}.
type RedisMetadata struct {
	store store.Store
}

func NewRedisMetadata(s store.Store) *RedisMetadata {
	return &RedisMetadata{store: s}
}

func (m *RedisMetadata) ReadMetadata(ctx context.Context, challengeID string) ([]byte, error) {
	raw, err := m.store.Get(ctx, keys.Metadata(challengeID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (m *RedisMetadata) WriteMetadata(ctx context.Context, challengeID string, payload []byte) error {
	return m.store.Set(ctx, keys.Metadata(challengeID), string(payload), 0)
}

// RedisWordVisibility reveals guesses that are in the unlocked-words set.
type RedisWordVisibility struct {
	store store.Store
}

func NewRedisWordVisibility(s store.Store) *RedisWordVisibility {
	return &RedisWordVisibility{store: s}
}

func (v *RedisWordVisibility) ShouldRevealGuess(ctx context.Context, normalizedWord string) (bool, error) {
	return v.store.SIsMember(ctx, keys.UnlockedWords, normalizedWord)
}

func (v *RedisWordVisibility) Unlock(ctx context.Context, normalizedWords ...string) error {
	return v.store.SAdd(ctx, keys.UnlockedWords, normalizedWords...)
}

// RedisModerators checks membership in the moderators set.
type RedisModerators struct {
	store store.Store
}

func NewRedisModerators(s store.Store) *RedisModerators {
	return &RedisModerators{store: s}
}

func (m *RedisModerators) IsModerator(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return m.store.SIsMember(ctx, keys.Moderators, userID)
}

func (m *RedisModerators) Add(ctx context.Context, userIDs ...string) error {
	return m.store.SAdd(ctx, keys.Moderators, userIDs...)
}

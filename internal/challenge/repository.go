// Package challenge persists ChallengeRecords and their derived indices.
package challenge

import (
	"context"
	"errors"
	"fmt"

	cache "github.com/CodeAndHammer/sketchword/internal/cache"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

var ErrNotFound = errors.New("challenge not found")

type Repository struct {
	store   store.Store
	records *cache.Cache[models.ChallengeRecord]
}

// NewRepository caches lookups through records; pass a cache built with a
// zero TTL to disable caching.
func NewRepository(s store.Store, records *cache.Cache[models.ChallengeRecord]) *Repository {
	return &Repository{store: s, records: records}
}

// Get may serve a cached copy. Use Load when the comment-state fields must
// be current.
func (r *Repository) Get(ctx context.Context, id string) (models.ChallengeRecord, error) {
	if rec, ok := r.records.Get(id); ok {
		return rec, nil
	}
	rec, err := r.Load(ctx, id)
	if err != nil {
		return models.ChallengeRecord{}, err
	}
	r.records.Set(id, rec)
	return rec, nil
}

func (r *Repository) Load(ctx context.Context, id string) (models.ChallengeRecord, error) {
	fields, err := r.store.HGetAll(ctx, keys.Challenge(id))
	if err != nil {
		return models.ChallengeRecord{}, fmt.Errorf("load challenge %s: %w", id, err)
	}
	rec, ok := models.ChallengeFromHash(fields)
	if !ok {
		return models.ChallengeRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	return r.store.Exists(ctx, keys.Challenge(id))
}

func (r *Repository) Save(ctx context.Context, rec models.ChallengeRecord) error {
	if err := r.store.HSet(ctx, keys.Challenge(rec.ChallengeID), rec.ToHash()); err != nil {
		return fmt.Errorf("save challenge %s: %w", rec.ChallengeID, err)
	}
	r.records.Delete(rec.ChallengeID)
	return nil
}

// UpdateFields sets the given hash fields and removes the ones in clear. A
// record that is gone (or was rolled back) is left absent and ErrNotFound
// is returned, so a late writer never leaves a partial hash behind.
func (r *Repository) UpdateFields(ctx context.Context, id string, set map[string]string, clear ...string) error {
	defer r.records.Delete(id)
	ok, err := r.store.HUpdateIfExists(ctx, keys.Challenge(id), models.FieldChallengeID, set, clear...)
	if err != nil {
		return fmt.Errorf("update challenge %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete is only used to roll back a partially migrated record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.records.Delete(id)
	return r.store.Del(ctx, keys.Challenge(id))
}

// IndexDerived adds the challenge to the by-author and by-word indices,
// leaving existing entries untouched.
func (r *Repository) IndexDerived(ctx context.Context, rec models.ChallengeRecord) error {
	score := util.UnixMilli(rec.CreatedAt)
	if rec.AuthorID != "" {
		if _, err := r.store.ZAddNX(ctx, keys.AuthorChallenges(rec.AuthorID), rec.ChallengeID, score); err != nil {
			return fmt.Errorf("index author: %w", err)
		}
	}
	if rec.NormalizedWord != "" {
		if _, err := r.store.ZAddNX(ctx, keys.WordChallenges(rec.NormalizedWord), rec.ChallengeID, score); err != nil {
			return fmt.Errorf("index word: %w", err)
		}
	}
	return nil
}

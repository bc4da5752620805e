package challenge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/CodeAndHammer/sketchword/internal/cache"
	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	"github.com/CodeAndHammer/sketchword/internal/store/storetest"
)

func sampleRecord() models.ChallengeRecord {
	return models.ChallengeRecord{
		ChallengeID:    "c1",
		Word:           "Tree",
		NormalizedWord: "tree",
		AuthorID:       "a1",
		AuthorName:     "painter",
		CreatedAt:      time.UnixMilli(1_700_000_000_000),
	}
}

func TestRepository_GetMissing(t *testing.T) {
	s, _ := storetest.New(t)
	repo := challenge.NewRepository(s, cache.New[models.ChallengeRecord](time.Minute))

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestRepository_GetIsCachedLoadIsNot(t *testing.T) {
	s, mr := storetest.New(t)
	ctx := context.Background()
	repo := challenge.NewRepository(s, cache.New[models.ChallengeRecord](time.Minute))
	require.NoError(t, repo.Save(ctx, sampleRecord()))

	_, err := repo.Get(ctx, "c1")
	require.NoError(t, err)

	// Out-of-band write: the cached Get does not see it, Load does.
	mr.HSet(keys.Challenge("c1"), models.FieldPinnedCommentID, "cm1")

	cached, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, cached.PinnedCommentID)

	fresh, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cm1", fresh.PinnedCommentID)
}

func TestRepository_UpdateFieldsInvalidatesCache(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	repo := challenge.NewRepository(s, cache.New[models.ChallengeRecord](time.Minute))
	rec := sampleRecord()
	rec.PendingUpdateJobID = "job1"
	require.NoError(t, repo.Save(ctx, rec))
	_, err := repo.Get(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateFields(ctx, "c1",
		map[string]string{models.FieldPinnedCommentID: "cm1"},
		models.FieldPendingUpdateJobID))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cm1", got.PinnedCommentID)
	assert.Empty(t, got.PendingUpdateJobID)
}

func TestRepository_UpdateFieldsOnMissingRecord(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	repo := challenge.NewRepository(s, cache.New[models.ChallengeRecord](0))

	err := repo.UpdateFields(ctx, "gone",
		map[string]string{models.FieldLastCommentUpdateAt: "1700000000000"},
		models.FieldPendingUpdateJobID)
	assert.ErrorIs(t, err, challenge.ErrNotFound)

	exists, err := repo.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists, "no partial hash may be created")
}

func TestRepository_IndexDerivedKeepsExisting(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	repo := challenge.NewRepository(s, cache.New[models.ChallengeRecord](0))
	rec := sampleRecord()

	require.NoError(t, repo.IndexDerived(ctx, rec))
	later := rec
	later.CreatedAt = rec.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.IndexDerived(ctx, later))

	score, ok, err := s.ZScore(ctx, keys.AuthorChallenges("a1"), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(rec.CreatedAt.UnixMilli()), score)

	_, ok, err = s.ZScore(ctx, keys.WordChallenges("tree"), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

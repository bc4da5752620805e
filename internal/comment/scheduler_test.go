package comment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/CodeAndHammer/sketchword/internal/cache"
	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	comment "github.com/CodeAndHammer/sketchword/internal/comment"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	stats "github.com/CodeAndHammer/sketchword/internal/stats"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	"github.com/CodeAndHammer/sketchword/internal/store/storetest"
)

type fakeStats struct{}

func (fakeStats) ComputeFresh(context.Context, string, int) (models.Stats, error) {
	return models.Stats{PlayerCount: 4, SolvedCount: 1, SolvedPercentage: 25}, nil
}

type fakeComments struct {
	mu       sync.Mutex
	created  []string
	edited   []string
	onCreate func()
}

func (f *fakeComments) CreateComment(_ context.Context, challengeID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, challengeID)
	if f.onCreate != nil {
		f.onCreate()
	}
	return "comment-1", nil
}

func (f *fakeComments) EditComment(_ context.Context, commentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, commentID)
	return nil
}

type scheduledJob struct {
	name    string
	payload platform.Payload
	runAt   time.Time
}

type fakeJobs struct {
	mu        sync.Mutex
	scheduled []scheduledJob
	cancelled []string
	cancelErr error
}

func (f *fakeJobs) Schedule(_ context.Context, name string, payload platform.Payload, runAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledJob{name: name, payload: payload, runAt: runAt})
	return "job-new", nil
}

func (f *fakeJobs) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelErr
}

type fixture struct {
	store     *store.RedisStore
	mr        *miniredis.Miniredis
	repo      *challenge.Repository
	comments  *fakeComments
	jobs      *fakeJobs
	scheduler *comment.Scheduler
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, mr := storetest.New(t)
	f := &fixture{
		store:    s,
		mr:       mr,
		repo:     challenge.NewRepository(s, cache.New[models.ChallengeRecord](0)),
		comments: &fakeComments{},
		jobs:     &fakeJobs{},
		now:      time.UnixMilli(1_700_000_000_000),
	}
	f.scheduler = comment.NewScheduler(s, f.repo, fakeStats{}, f.comments, f.jobs, comment.Config{
		CooldownWindow: 60 * time.Second,
		LockTTL:        30 * time.Second,
		TopGuesses:     3,
	}).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seed(t *testing.T, mutate func(*models.ChallengeRecord)) {
	t.Helper()
	rec := models.ChallengeRecord{
		ChallengeID:    "c1",
		Word:           "tree",
		NormalizedWord: "tree",
		AuthorID:       "a1",
		AuthorName:     "painter",
		CreatedAt:      f.now.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&rec)
	}
	require.NoError(t, f.repo.Save(context.Background(), rec))
}

func (f *fixture) load(t *testing.T) models.ChallengeRecord {
	t.Helper()
	rec, err := f.repo.Load(context.Background(), "c1")
	require.NoError(t, err)
	return rec
}

func TestHandleCooldown_ImmediateAfterWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) { r.LastCommentUpdateAt = f.now.Add(-65 * time.Second) })

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", false))

	assert.Equal(t, []string{"c1"}, f.comments.created)
	assert.Empty(t, f.jobs.scheduled)
	rec := f.load(t)
	assert.Equal(t, "comment-1", rec.PinnedCommentID)
	assert.True(t, rec.LastCommentUpdateAt.Equal(f.now))
	assert.False(t, f.mr.Exists(keys.CommentLock("c1")))
}

func TestHandleCooldown_EditsExistingComment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) {
		r.PinnedCommentID = "pinned"
		r.LastCommentUpdateAt = f.now.Add(-2 * time.Minute)
	})

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", false))

	assert.Empty(t, f.comments.created)
	assert.Equal(t, []string{"pinned"}, f.comments.edited)
	assert.Equal(t, "pinned", f.load(t).PinnedCommentID)
}

func TestHandleCooldown_MissingLastUpdateIsImmediate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", false))
	assert.Len(t, f.comments.created, 1)
}

func TestHandleCooldown_DeferredThenNoop(t *testing.T) {
	f := newFixture(t)
	last := f.now.Add(-5 * time.Second)
	f.seed(t, func(r *models.ChallengeRecord) { r.LastCommentUpdateAt = last })
	ctx := context.Background()

	require.NoError(t, f.scheduler.HandleCooldown(ctx, "c1", false))

	require.Len(t, f.jobs.scheduled, 1)
	job := f.jobs.scheduled[0]
	assert.Equal(t, constants.JobCommentUpdate, job.name)
	assert.Equal(t, "c1", job.payload["challengeId"])
	assert.True(t, job.runAt.Equal(f.now.Add(55*time.Second)))
	assert.Equal(t, "job-new", f.load(t).PendingUpdateJobID)
	assert.Empty(t, f.comments.created)

	f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.scheduler.HandleCooldown(ctx, "c1", false))
	assert.Len(t, f.jobs.scheduled, 1)
	assert.Empty(t, f.comments.created)
	assert.Empty(t, f.comments.edited)
	assert.True(t, f.load(t).LastCommentUpdateAt.Equal(last))
}

func TestHandleCooldown_ImmediateCancelsPendingJob(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) {
		r.LastCommentUpdateAt = f.now.Add(-90 * time.Second)
		r.PendingUpdateJobID = "job-old"
	})
	f.jobs.cancelErr = errors.New("already fired")

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", false))

	assert.Equal(t, []string{"job-old"}, f.jobs.cancelled)
	assert.Len(t, f.comments.created, 1)
	rec := f.load(t)
	assert.Empty(t, rec.PendingUpdateJobID)
	assert.True(t, rec.LastCommentUpdateAt.Equal(f.now))
}

func TestHandleCooldown_ForceIgnoresWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) { r.LastCommentUpdateAt = f.now.Add(-time.Second) })

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", true))
	assert.Len(t, f.comments.created, 1)
	assert.Empty(t, f.jobs.scheduled)
}

func TestHandleCooldown_LockContentionIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	ctx := context.Background()

	held, err := store.AcquireLock(ctx, f.store, keys.CommentLock("c1"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	require.NoError(t, f.scheduler.HandleCooldown(ctx, "c1", false))
	assert.Empty(t, f.comments.created)
	assert.Empty(t, f.jobs.scheduled)
}

func TestHandleCooldown_UnknownChallenge(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "missing", false))
	assert.Empty(t, f.comments.created)
}

func TestRunScheduledUpdate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) {
		r.PinnedCommentID = "pinned"
		r.LastCommentUpdateAt = f.now.Add(-60 * time.Second)
		r.PendingUpdateJobID = "job-1"
	})
	ctx := context.Background()

	require.NoError(t, f.scheduler.RunScheduledUpdate(ctx, "c1", "job-stale"))
	assert.Empty(t, f.comments.edited)

	require.NoError(t, f.scheduler.RunScheduledUpdate(ctx, "c1", "job-1"))
	assert.Equal(t, []string{"pinned"}, f.comments.edited)
	assert.Empty(t, f.jobs.cancelled)
	rec := f.load(t)
	assert.Empty(t, rec.PendingUpdateJobID)
	assert.True(t, rec.LastCommentUpdateAt.Equal(f.now))
}

func TestRunScheduledUpdate_LockBusyAsksForRetry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(r *models.ChallengeRecord) { r.PendingUpdateJobID = "job-1" })
	ctx := context.Background()

	held, err := store.AcquireLock(ctx, f.store, keys.CommentLock("c1"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	err = f.scheduler.RunScheduledUpdate(ctx, "c1", "job-1")
	assert.ErrorIs(t, err, store.ErrLockContention)
	assert.Equal(t, "job-1", f.load(t).PendingUpdateJobID)
}

func TestHandleCooldown_RecordRemovedDuringUpdate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	f.comments.onCreate = func() {
		require.NoError(t, f.repo.Delete(context.Background(), "c1"))
	}

	require.NoError(t, f.scheduler.HandleCooldown(context.Background(), "c1", true))

	assert.False(t, f.mr.Exists(keys.Challenge("c1")))
	exists, err := f.repo.Exists(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleCooldown_SummaryIgnoresCachedCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, nil)

	agg := stats.NewAggregator(f.store, nil, nil, time.Minute)
	comments := platform.NewRedisComments(f.store)
	scheduler := comment.NewScheduler(f.store, f.repo, agg, comments, f.jobs, comment.Config{
		CooldownWindow: 60 * time.Second,
		TopGuesses:     3,
	}).WithClock(func() time.Time { return f.now })

	// A wrong guess warms the broadcast cache with zero solves.
	_, err := f.store.ZAddNX(ctx, keys.Attempts("c1"), "p1", 1)
	require.NoError(t, err)
	warm, err := agg.Compute(ctx, "c1", 3)
	require.NoError(t, err)
	require.Equal(t, int64(0), warm.SolvedCount)

	// The first solve lands inside the cache TTL.
	_, err = f.store.ZAddNX(ctx, keys.Attempts("c1"), "p2", 2)
	require.NoError(t, err)
	_, err = f.store.ZAddNX(ctx, keys.Solved("c1"), "p2", 2)
	require.NoError(t, err)
	require.NoError(t, scheduler.HandleCooldown(ctx, "c1", true))

	text, err := comments.Text(ctx, f.load(t).PinnedCommentID)
	require.NoError(t, err)
	assert.Contains(t, text, "2 players tried this drawing.")
	assert.Contains(t, text, "Solved: 1 (50.0%)")
}

func TestRunWelcome_CreatesComment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	require.NoError(t, f.scheduler.RunWelcome(context.Background(), "c1"))
	assert.Equal(t, "comment-1", f.load(t).PinnedCommentID)
}

func TestRenderSummary(t *testing.T) {
	rec := models.ChallengeRecord{AuthorName: "painter"}

	empty := comment.RenderSummary(rec, models.Stats{})
	assert.Contains(t, empty, "No guesses yet")

	text := comment.RenderSummary(rec, models.Stats{
		PlayerCount:      20,
		SolvedCount:      16,
		SkippedCount:     2,
		SolvedPercentage: 80,
		SkipPercentage:   10,
		TopGuesses:       []models.GuessCount{{Word: "tree", Count: 16}, {Word: "b***", Count: 3, Masked: true}},
	})
	assert.Contains(t, text, "Drawing by painter")
	assert.Contains(t, text, "20 players tried this drawing.")
	assert.Contains(t, text, "Solved: 16 (80.0%)")
	assert.Contains(t, text, "Gave up: 2 (10.0%)")
	assert.Contains(t, text, "1. tree (16)")
	assert.Contains(t, text, "2. b*** (3)")
}

// Package comment keeps one pinned summary comment per challenge in sync
// with its stats, editing it at most once per cooldown window.
//
// A challenge is Idle when it has no pendingUpdateJobId and Scheduled when
// a deferred update job is queued. HandleCooldown either updates now
// (cancelling any pending job), schedules one job for the end of the
// window, or does nothing because a job is already pending.
package comment

import (
	"context"
	"errors"
	"fmt"
	"time"

	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

// StatsComputer must read uncached counts: a stale summary would stay
// pinned for a whole cooldown window or longer.
type StatsComputer interface {
	ComputeFresh(ctx context.Context, challengeID string, topN int) (models.Stats, error)
}

type Config struct {
	CooldownWindow time.Duration
	LockTTL        time.Duration
	TopGuesses     int
}

type Scheduler struct {
	store    store.Store
	repo     *challenge.Repository
	stats    StatsComputer
	comments platform.CommentHost
	jobs     platform.JobScheduler
	cfg      Config
	now      func() time.Time
}

func NewScheduler(s store.Store, repo *challenge.Repository, stats StatsComputer, comments platform.CommentHost, jobs platform.JobScheduler, cfg Config) *Scheduler {
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = constants.DefaultCommentCooldown
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = constants.DefaultLockTTL
	}
	return &Scheduler{
		store:    s,
		repo:     repo,
		stats:    stats,
		comments: comments,
		jobs:     jobs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the scheduler's time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// HandleCooldown decides whether the summary comment is updated now,
// later, or not at all. force treats the last update as infinitely old.
// Losing the lock race is not an error: the holder is making the decision.
func (s *Scheduler) HandleCooldown(ctx context.Context, challengeID string, force bool) error {
	err := s.decide(ctx, challengeID, force)
	if errors.Is(err, store.ErrLockContention) {
		metrics.CommentUpdates.WithLabelValues("contended").Inc()
		return nil
	}
	return vanished(err)
}

// RunWelcome is the job handler that posts the first summary comment.
func (s *Scheduler) RunWelcome(ctx context.Context, challengeID string) error {
	return vanished(s.decide(ctx, challengeID, true))
}

// vanished drops ErrNotFound from a record removed while it was being
// updated, e.g. by a migration rollback.
func vanished(err error) error {
	if errors.Is(err, challenge.ErrNotFound) {
		return nil
	}
	return err
}

// RunScheduledUpdate is the job handler for a deferred update. It does
// nothing when jobID is no longer the pending job, and returns
// store.ErrLockContention so the worker retries when the lock is busy.
func (s *Scheduler) RunScheduledUpdate(ctx context.Context, challengeID, jobID string) (err error) {
	lock, err := store.AcquireLock(ctx, s.store, keys.CommentLock(challengeID), s.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer s.release(ctx, lock)

	rec, err := s.repo.Load(ctx, challengeID)
	if errors.Is(err, challenge.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.PendingUpdateJobID != jobID {
		util.LogInfoCtx(ctx, "Comment job %s for %s superseded by %q", jobID, challengeID, rec.PendingUpdateJobID)
		metrics.CommentUpdates.WithLabelValues("superseded").Inc()
		return nil
	}
	metrics.CommentUpdates.WithLabelValues("scheduled").Inc()
	return vanished(s.updateNow(ctx, rec, false))
}

func (s *Scheduler) decide(ctx context.Context, challengeID string, force bool) error {
	lock, err := store.AcquireLock(ctx, s.store, keys.CommentLock(challengeID), s.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer s.release(ctx, lock)

	rec, err := s.repo.Load(ctx, challengeID)
	if errors.Is(err, challenge.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	if force || rec.LastCommentUpdateAt.IsZero() || now.Sub(rec.LastCommentUpdateAt) >= s.cfg.CooldownWindow {
		metrics.CommentUpdates.WithLabelValues("immediate").Inc()
		return s.updateNow(ctx, rec, true)
	}

	if rec.PendingUpdateJobID != "" {
		metrics.CommentUpdates.WithLabelValues("pending").Inc()
		return nil
	}

	runAt := rec.LastCommentUpdateAt.Add(s.cfg.CooldownWindow)
	jobID, err := s.jobs.Schedule(ctx, constants.JobCommentUpdate, platform.Payload{"challengeId": challengeID}, runAt)
	if err != nil {
		return fmt.Errorf("schedule comment update: %w", err)
	}
	if err := s.repo.UpdateFields(ctx, challengeID, map[string]string{models.FieldPendingUpdateJobID: jobID}); err != nil {
		// Without a recorded id nothing would ever cancel the job.
		if cerr := s.jobs.Cancel(ctx, jobID); cerr != nil {
			util.LogWarnCtx(ctx, "Failed to cancel orphaned comment job %s: %v", jobID, cerr)
		}
		return err
	}
	metrics.CommentUpdates.WithLabelValues("deferred").Inc()
	util.LogInfoCtx(ctx, "Comment update for %s deferred to %s (job %s)", challengeID, runAt.Format(time.RFC3339), jobID)
	return nil
}

// updateNow writes the summary and records the update time. With
// cancelPending it first cancels a queued job; a job running this update
// itself clears the pending id afterwards instead.
func (s *Scheduler) updateNow(ctx context.Context, rec models.ChallengeRecord, cancelPending bool) error {
	if cancelPending && rec.PendingUpdateJobID != "" {
		if err := s.jobs.Cancel(ctx, rec.PendingUpdateJobID); err != nil {
			util.LogWarnCtx(ctx, "Cancel of comment job %s ignored: %v", rec.PendingUpdateJobID, err)
		}
		if err := s.repo.UpdateFields(ctx, rec.ChallengeID, nil, models.FieldPendingUpdateJobID); err != nil {
			return err
		}
	}

	summary, err := s.stats.ComputeFresh(ctx, rec.ChallengeID, s.cfg.TopGuesses)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}
	text := RenderSummary(rec, summary)

	set := map[string]string{}
	if rec.PinnedCommentID == "" {
		commentID, err := s.comments.CreateComment(ctx, rec.ChallengeID, text)
		if err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		set[models.FieldPinnedCommentID] = commentID
	} else if err := s.comments.EditComment(ctx, rec.PinnedCommentID, text); err != nil {
		return fmt.Errorf("edit comment %s: %w", rec.PinnedCommentID, err)
	}

	set[models.FieldLastCommentUpdateAt] = models.FormatMillis(s.now())
	var clear []string
	if !cancelPending {
		clear = append(clear, models.FieldPendingUpdateJobID)
	}
	return s.repo.UpdateFields(ctx, rec.ChallengeID, set, clear...)
}

func (s *Scheduler) release(ctx context.Context, lock *store.Lock) {
	if err := lock.Release(ctx); err != nil {
		util.LogWarnCtx(ctx, "Failed to release %s: %v", lock.Key(), err)
	}
}

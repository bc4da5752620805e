// Package game resolves guesses and skips against a challenge. Scoring is
// exactly-once per player: a player who already solved or skipped is inert,
// and the solved index is only written with NX semantics.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	effects "github.com/CodeAndHammer/sketchword/internal/effects"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	normalization "github.com/CodeAndHammer/sketchword/internal/normalization"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

var ErrInvalidChallenge = errors.New("invalid challenge")

type Migrator interface {
	Migrate(ctx context.Context, challengeID string) bool
}

type CooldownHandler interface {
	HandleCooldown(ctx context.Context, challengeID string, force bool) error
}

type StatsComputer interface {
	Compute(ctx context.Context, challengeID string, topN int) (models.Stats, error)
	Invalidate(challengeID string)
}

type Config struct {
	GuesserReward int
	AuthorReward  int
	TopGuesses    int
}

type Deps struct {
	Store       store.Store
	Records     *challenge.Repository
	Migrator    Migrator
	Stats       StatsComputer
	Cooldown    CooldownHandler
	Progression platform.Progression
	Broadcaster platform.Broadcaster
	Jobs        platform.JobScheduler
	Limiter     Limiter
	Effects     *effects.Runner
}

type Processor struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewProcessor(deps Deps, cfg Config) *Processor {
	if cfg.TopGuesses <= 0 {
		cfg.TopGuesses = constants.DefaultTopGuesses
	}
	if deps.Effects == nil {
		deps.Effects = effects.NewRunner(constants.DefaultEffectTimeout)
	}
	return &Processor{Deps: deps, cfg: cfg, now: time.Now}
}

func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Normalize is the comparison form shared by guesses and secret words.
func Normalize(s string) string {
	return normalization.Word(s)
}

// SubmitGuess records one guess. Rate-limited, unknown-challenge, author
// and already-resolved submissions return the zero outcome without error.
// Only failures to record the core counters or to pay the guesser are
// returned.
func (p *Processor) SubmitGuess(ctx context.Context, challengeID, playerID, rawGuess string) (models.GuessOutcome, error) {
	var inert models.GuessOutcome
	if challengeID == "" || playerID == "" {
		return inert, nil
	}
	if !p.allow(ctx, playerID) {
		metrics.Guesses.WithLabelValues("rate_limited").Inc()
		return inert, nil
	}

	rec, found, err := p.loadRecord(ctx, challengeID)
	if err != nil {
		return inert, err
	}
	if !found {
		metrics.Guesses.WithLabelValues("not_found").Inc()
		return inert, nil
	}
	if playerID == rec.AuthorID {
		metrics.Guesses.WithLabelValues("author").Inc()
		return inert, nil
	}

	status, err := p.PlayerStatus(ctx, challengeID, playerID)
	if err != nil {
		return inert, err
	}
	if status != models.PlayerUnresolved {
		metrics.Guesses.WithLabelValues("resolved").Inc()
		return inert, nil
	}

	guess := Normalize(rawGuess)
	if guess == "" {
		metrics.Guesses.WithLabelValues("empty").Inc()
		return inert, nil
	}
	secret := rec.NormalizedWord
	if secret == "" {
		secret = Normalize(rec.Word)
	}
	correct := guess == secret
	now := p.now()

	err = p.recordAttempt(ctx, challengeID, playerID, guess, secret, now)
	p.invalidateStats(challengeID)
	if err != nil {
		return inert, err
	}

	outcome := models.GuessOutcome{Correct: correct}
	firstSolve := false
	if correct {
		added, err := p.Store.ZAddNX(ctx, keys.Solved(challengeID), playerID, util.UnixMilli(now))
		p.invalidateStats(challengeID)
		if err != nil {
			return inert, fmt.Errorf("record solve: %w", err)
		}
		if !added {
			// A concurrent submission by the same player solved first.
			metrics.Guesses.WithLabelValues("resolved").Inc()
			return inert, nil
		}
		// Ranked by solve time, so simultaneous solvers cannot both miss it.
		if rank, ok, err := p.Store.ZRank(ctx, keys.Solved(challengeID), playerID); err == nil {
			firstSolve = ok && rank == 0
		}

		if _, err := p.Progression.AwardPoints(ctx, playerID, p.cfg.GuesserReward); err != nil {
			return inert, fmt.Errorf("award guesser: %w", err)
		}
		outcome.PointsAwarded = p.cfg.GuesserReward
		if rec.AuthorID != "" {
			p.Effects.BestEffort(ctx, "author_award", func(ctx context.Context) error {
				_, err := p.Progression.AwardPoints(ctx, rec.AuthorID, p.cfg.AuthorReward)
				return err
			})
		}
		metrics.Guesses.WithLabelValues("correct").Inc()
		util.LogInfoCtx(ctx, "Player %s solved %s", playerID, challengeID)
	} else {
		metrics.Guesses.WithLabelValues("incorrect").Inc()
	}

	p.afterSubmission(ctx, challengeID, constants.EventGuessSubmitted, correct, firstSolve)
	return outcome, nil
}

// recordAttempt updates the counters every submission touches. They have no
// ordering between them, so they run concurrently.
func (p *Processor) recordAttempt(ctx context.Context, challengeID, playerID, guess, secret string, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.Store.ZAddNX(gctx, keys.Attempts(challengeID), playerID, util.UnixMilli(now))
		return err
	})
	g.Go(func() error {
		_, err := p.Store.ZIncrBy(gctx, keys.GuessCounts(challengeID), playerID, 1)
		return err
	})
	g.Go(func() error {
		_, err := p.Store.ZIncrBy(gctx, keys.WordGuessCount, secret, 1)
		return err
	})
	g.Go(func() error {
		_, err := p.Store.ZIncrBy(gctx, keys.Guesses(challengeID), guess, 1)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("record guess on %s: %w", challengeID, err)
	}
	return nil
}

// Skip gives up on a challenge. It reports whether the skip was recorded.
func (p *Processor) Skip(ctx context.Context, challengeID, playerID string) (bool, error) {
	if challengeID == "" || playerID == "" {
		return false, nil
	}
	rec, found, err := p.loadRecord(ctx, challengeID)
	if err != nil || !found {
		return false, err
	}
	if playerID == rec.AuthorID {
		return false, nil
	}
	status, err := p.PlayerStatus(ctx, challengeID, playerID)
	if err != nil {
		return false, err
	}
	if status != models.PlayerUnresolved {
		return false, nil
	}

	at := util.UnixMilli(p.now())
	if _, err := p.Store.ZAddNX(ctx, keys.Attempts(challengeID), playerID, at); err != nil {
		return false, fmt.Errorf("record attempt: %w", err)
	}
	added, err := p.Store.ZAddNX(ctx, keys.Skipped(challengeID), playerID, at)
	p.invalidateStats(challengeID)
	if err != nil {
		return false, fmt.Errorf("record skip: %w", err)
	}
	if !added {
		return false, nil
	}
	util.LogInfoCtx(ctx, "Player %s skipped %s", playerID, challengeID)
	p.afterSubmission(ctx, challengeID, constants.EventChallengeSkipped, false, false)
	return true, nil
}

// PlayerStatus reads the solved and skipped indices. A player found in both
// is solved, and the stray skip entry is removed.
func (p *Processor) PlayerStatus(ctx context.Context, challengeID, playerID string) (models.PlayerStatus, error) {
	var solved, skipped bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		_, solved, err = p.Store.ZScore(gctx, keys.Solved(challengeID), playerID)
		return err
	})
	g.Go(func() error {
		var err error
		_, skipped, err = p.Store.ZScore(gctx, keys.Skipped(challengeID), playerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("player status: %w", err)
	}

	switch {
	case solved && skipped:
		if _, err := p.Store.ZRem(ctx, keys.Skipped(challengeID), playerID); err != nil {
			util.LogWarnCtx(ctx, "Failed to drop contradictory skip of %s on %s: %v", playerID, challengeID, err)
		} else {
			util.LogInfoCtx(ctx, "Dropped contradictory skip of %s on %s", playerID, challengeID)
		}
		return models.PlayerSolved, nil
	case solved:
		return models.PlayerSolved, nil
	case skipped:
		return models.PlayerSkipped, nil
	default:
		return models.PlayerUnresolved, nil
	}
}

// CreateChallenge stores a new challenge and queues its welcome comment.
func (p *Processor) CreateChallenge(ctx context.Context, in models.NewChallenge) (*models.ChallengeRecord, error) {
	normalized := Normalize(in.Word)
	if normalized == "" {
		return nil, fmt.Errorf("%w: word has no letters", ErrInvalidChallenge)
	}
	if in.AuthorID == "" {
		return nil, fmt.Errorf("%w: missing author", ErrInvalidChallenge)
	}
	drawing, err := validDrawing(in.Drawing)
	if err != nil {
		return nil, err
	}

	rec := models.ChallengeRecord{
		ChallengeID:    uuid.NewString(),
		Word:           in.Word,
		NormalizedWord: normalized,
		WordListID:     in.WordListID,
		AuthorID:       in.AuthorID,
		AuthorName:     in.AuthorName,
		CreatedAt:      time.UnixMilli(p.now().UnixMilli()),
		Drawing:        drawing,
	}
	if err := p.Records.Save(ctx, rec); err != nil {
		return nil, err
	}
	if err := p.Records.IndexDerived(ctx, rec); err != nil {
		return nil, err
	}
	p.Effects.BestEffort(ctx, "welcome_job", func(ctx context.Context) error {
		_, err := p.Jobs.Schedule(ctx, constants.JobWelcome, platform.Payload{"challengeId": rec.ChallengeID}, rec.CreatedAt)
		return err
	})
	util.LogInfoCtx(ctx, "Created challenge %s by %s", rec.ChallengeID, rec.AuthorID)
	return &rec, nil
}

func validDrawing(d models.Drawing) (models.Drawing, error) {
	if d.Size == 0 {
		d.Size = models.DrawingSize
	}
	if len(d.Palette) == 0 {
		d.Palette = append([]string(nil), models.DefaultPalette...)
	}
	if len(d.Pixels) != d.Size*d.Size {
		return d, fmt.Errorf("%w: expected %d pixels, got %d", ErrInvalidChallenge, d.Size*d.Size, len(d.Pixels))
	}
	if _, bad := lo.Find(d.Pixels, func(px int) bool {
		return px < models.BackgroundPixel || px >= len(d.Palette)
	}); bad {
		return d, fmt.Errorf("%w: pixel outside palette", ErrInvalidChallenge)
	}
	return d, nil
}

// Lookup returns the challenge, migrating it from legacy storage first when
// only the legacy shape exists.
func (p *Processor) Lookup(ctx context.Context, challengeID string) (models.ChallengeRecord, bool, error) {
	return p.loadRecord(ctx, challengeID)
}

// loadRecord falls back to migration when the current record is missing,
// then reads once more since a concurrent caller may have migrated it.
func (p *Processor) loadRecord(ctx context.Context, challengeID string) (models.ChallengeRecord, bool, error) {
	rec, err := p.Records.Get(ctx, challengeID)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, challenge.ErrNotFound) {
		return models.ChallengeRecord{}, false, err
	}
	if p.Migrator == nil {
		return models.ChallengeRecord{}, false, nil
	}
	p.Migrator.Migrate(ctx, challengeID)

	rec, err = p.Records.Get(ctx, challengeID)
	if errors.Is(err, challenge.ErrNotFound) {
		return models.ChallengeRecord{}, false, nil
	}
	if err != nil {
		return models.ChallengeRecord{}, false, err
	}
	return rec, true, nil
}

// allow fails open: a broken limiter backend must not block play.
func (p *Processor) allow(ctx context.Context, playerID string) bool {
	if p.Limiter == nil {
		return true
	}
	ok, err := p.Limiter.Allow(ctx, playerID)
	if err != nil {
		util.LogWarnCtx(ctx, "Rate limiter unavailable for %s: %v", playerID, err)
		return true
	}
	return ok
}

func (p *Processor) invalidateStats(challengeID string) {
	if p.Stats != nil {
		p.Stats.Invalidate(challengeID)
	}
}

// afterSubmission triggers the cooldown handler and the stats broadcast as
// detached tasks. Neither can fail or delay the caller.
func (p *Processor) afterSubmission(ctx context.Context, challengeID, event string, correct, forceComment bool) {
	if p.Cooldown != nil {
		p.Effects.Detach(ctx, "comment_cooldown", func(ctx context.Context) error {
			return p.Cooldown.HandleCooldown(ctx, challengeID, forceComment)
		})
	}
	if p.Broadcaster != nil && p.Stats != nil {
		at := p.now()
		p.Effects.Detach(ctx, "broadcast", func(ctx context.Context) error {
			stats, err := p.Stats.Compute(ctx, challengeID, p.cfg.TopGuesses)
			if err != nil {
				return err
			}
			return p.Broadcaster.Publish(ctx, keys.Channel(challengeID), models.NewBroadcast(event, challengeID, correct, at, stats))
		})
	}
}

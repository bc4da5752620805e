// Package app wires the engine's components into one value the HTTP
// handlers and the job worker share.
package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	cache "github.com/CodeAndHammer/sketchword/internal/cache"
	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	comment "github.com/CodeAndHammer/sketchword/internal/comment"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	effects "github.com/CodeAndHammer/sketchword/internal/effects"
	game "github.com/CodeAndHammer/sketchword/internal/game"
	migration "github.com/CodeAndHammer/sketchword/internal/migration"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	session "github.com/CodeAndHammer/sketchword/internal/session"
	stats "github.com/CodeAndHammer/sketchword/internal/stats"
	store "github.com/CodeAndHammer/sketchword/internal/store"
)

type App struct {
	Config     Config
	Store      store.Store
	Records    *cache.Cache[models.ChallengeRecord]
	Processor  *game.Processor
	Stats      *stats.Aggregator
	Comments   *comment.Scheduler
	Migrations *migration.Engine
	Moderators platform.Moderators
	Tokens     *session.Tokens
	Worker     *platform.Worker
	Effects    *effects.Runner
	// IPLimiter throttles HTTP requests per client address.
	IPLimiter *game.LocalLimiter
	// GuessLimiter is set when guesses are budgeted in process memory.
	GuessLimiter *game.LocalLimiter
	StartTime    time.Time
}

// New builds every component on top of s using the Redis-backed platform
// adapters.
func New(cfg Config, s store.Store) *App {
	runner := effects.NewRunner(cfg.EffectTimeout)
	records := cache.New[models.ChallengeRecord](cfg.RecordCacheTTL)
	repo := challenge.NewRepository(s, records)
	moderators := platform.NewRedisModerators(s)
	jobs := platform.NewRedisJobs(s)

	aggregator := stats.NewAggregator(s, platform.NewRedisWordVisibility(s), moderators, cfg.StatsCacheTTL)
	scheduler := comment.NewScheduler(s, repo, aggregator, platform.NewRedisComments(s), jobs, comment.Config{
		CooldownWindow: cfg.CommentCooldown,
		LockTTL:        cfg.LockTTL,
		TopGuesses:     cfg.TopGuesses,
	})
	engine := migration.NewEngine(s, repo, platform.NewRedisIdentity(s), platform.NewRedisMetadata(s), jobs, runner, migration.Config{
		LockTTL:          cfg.LockTTL,
		NegativeCacheTTL: cfg.NegativeCacheTTL,
	})

	a := &App{
		Config:     cfg,
		Store:      s,
		Records:    records,
		Stats:      aggregator,
		Comments:   scheduler,
		Migrations: engine,
		Moderators: moderators,
		Tokens:     session.NewTokens(cfg.SessionSecret, cfg.CookieMaxAge),
		Effects:    runner,
		IPLimiter:  game.NewLocalLimiter(rate.Limit(max(cfg.RateLimitRPS, 1)), cfg.RateLimitBurst, cfg.RateLimiterTTL),
		StartTime:  time.Now(),
	}

	var limiter game.Limiter
	if cfg.RateLimitMode == RateLimitLocal {
		a.GuessLimiter = game.NewWindowLocalLimiter(cfg.GuessRateLimit, cfg.GuessRateWindow, cfg.RateLimiterTTL)
		limiter = a.GuessLimiter
	} else {
		limiter = game.NewRedisWindowLimiter(s, cfg.GuessRateLimit, cfg.GuessRateWindow)
	}

	a.Processor = game.NewProcessor(game.Deps{
		Store:       s,
		Records:     repo,
		Migrator:    engine,
		Stats:       aggregator,
		Cooldown:    scheduler,
		Progression: platform.NewRedisProgression(s),
		Broadcaster: platform.NewRedisBroadcaster(s),
		Jobs:        jobs,
		Limiter:     limiter,
		Effects:     runner,
	}, game.Config{
		GuesserReward: cfg.GuesserReward,
		AuthorReward:  cfg.AuthorReward,
		TopGuesses:    cfg.TopGuesses,
	})

	a.Worker = platform.NewWorker(s, cfg.JobPollInterval)
	a.Worker.Handle(constants.JobCommentUpdate, func(ctx context.Context, job platform.Job) error {
		return scheduler.RunScheduledUpdate(ctx, job.Payload["challengeId"], job.ID)
	})
	a.Worker.Handle(constants.JobWelcome, func(ctx context.Context, job platform.Job) error {
		return scheduler.RunWelcome(ctx, job.Payload["challengeId"])
	})
	return a
}

// Start runs the background loops until ctx is done: the job worker, cache
// expiry and rate limiter cleanup.
func (a *App) Start(ctx context.Context) {
	go a.Worker.Run(ctx)
	a.Records.Start()
	go func() {
		<-ctx.Done()
		a.Records.Stop()
	}()
	a.IPLimiter.StartCleanup(ctx, 30*time.Minute)
	if a.GuessLimiter != nil {
		a.GuessLimiter.StartCleanup(ctx, 30*time.Minute)
	}
}

// Shutdown waits for detached effects, bounded by timeout.
func (a *App) Shutdown(timeout time.Duration) error {
	return a.Effects.WaitTimeout(timeout)
}

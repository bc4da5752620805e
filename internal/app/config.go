package app

import (
	"strings"
	"time"

	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

const (
	RateLimitRedis = "redis"
	RateLimitLocal = "local"
)

type Config struct {
	Port          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GuesserReward   int
	AuthorReward    int
	GuessRateLimit  int
	GuessRateWindow time.Duration
	RateLimitMode   string
	TopGuesses      int

	CommentCooldown  time.Duration
	LockTTL          time.Duration
	NegativeCacheTTL time.Duration
	RecordCacheTTL   time.Duration
	StatsCacheTTL    time.Duration
	JobPollInterval  time.Duration
	EffectTimeout    time.Duration

	RateLimitRPS   int
	RateLimitBurst int
	RateLimiterTTL time.Duration
	CookieMaxAge   time.Duration
	SessionSecret  string

	LogLevel     string
	LogFile      string
	IsProduction bool
}

// LoadConfig reads the environment; call util.LoadEnv first to pick up a
// .env file.
func LoadConfig() Config {
	cfg := Config{
		Port:          util.GetEnvString("PORT", "8080"),
		RedisAddr:     util.GetEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: util.GetEnvString("REDIS_PASSWORD", ""),
		RedisDB:       util.GetEnvInt("REDIS_DB", 0),

		GuesserReward:   util.GetEnvInt("GUESSER_REWARD", constants.DefaultGuesserReward),
		AuthorReward:    util.GetEnvInt("AUTHOR_REWARD", constants.DefaultAuthorReward),
		GuessRateLimit:  util.GetEnvInt("GUESS_RATE_LIMIT", constants.DefaultGuessRateLimit),
		GuessRateWindow: util.GetEnvDuration("GUESS_RATE_WINDOW", constants.DefaultGuessRateWindow),
		RateLimitMode:   strings.ToLower(util.GetEnvString("RATE_LIMIT_MODE", RateLimitRedis)),
		TopGuesses:      util.GetEnvInt("TOP_GUESSES", constants.DefaultTopGuesses),

		CommentCooldown:  util.GetEnvDuration("COMMENT_COOLDOWN", constants.DefaultCommentCooldown),
		LockTTL:          util.GetEnvDuration("LOCK_TTL", constants.DefaultLockTTL),
		NegativeCacheTTL: util.GetEnvDuration("NEGATIVE_CACHE_TTL", constants.DefaultNegativeCacheTTL),
		RecordCacheTTL:   util.GetEnvDuration("RECORD_CACHE_TTL", constants.DefaultRecordCacheTTL),
		StatsCacheTTL:    util.GetEnvDuration("STATS_CACHE_TTL", constants.DefaultStatsCacheTTL),
		JobPollInterval:  util.GetEnvDuration("JOB_POLL_INTERVAL", constants.DefaultJobPollInterval),
		EffectTimeout:    util.GetEnvDuration("EFFECT_TIMEOUT", constants.DefaultEffectTimeout),

		RateLimitRPS:   util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst: util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL: util.GetEnvDuration("RATE_LIMITER_TTL", time.Hour),
		CookieMaxAge:   util.GetEnvDuration("COOKIE_MAX_AGE", 30*24*time.Hour),
		SessionSecret:  util.GetEnvString("SESSION_SECRET", ""),

		LogLevel:     util.GetEnvString("LOG_LEVEL", "info"),
		LogFile:      util.GetEnvString("LOG_FILE", ""),
		IsProduction: util.IsProduction(),
	}
	if cfg.RateLimitMode != RateLimitRedis && cfg.RateLimitMode != RateLimitLocal {
		util.LogWarn("Unknown RATE_LIMIT_MODE %q, using %s", cfg.RateLimitMode, RateLimitRedis)
		cfg.RateLimitMode = RateLimitRedis
	}
	if cfg.SessionSecret == "" {
		if cfg.IsProduction {
			util.LogFatal("SESSION_SECRET must be set in production")
		}
		util.LogWarn("SESSION_SECRET not set, sessions will not survive a restart")
	}
	return cfg
}

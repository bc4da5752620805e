package constants

import "time"

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	SessionCookieName   = "player_session"
)

const (
	RouteSession        = "/session"
	RouteChallenges     = "/challenges"
	RouteGuess          = "/challenges/:id/guess"
	RouteSkip           = "/challenges/:id/skip"
	RouteStats          = "/challenges/:id/stats"
	RouteReveal         = "/challenges/:id/reveal"
	RouteAdminMigrate   = "/admin/challenges/:id/migrate"
	RouteHealthz        = "/healthz"
	RouteMetrics        = "/metrics"
	RealtimeChannelBase = "challenge:"
)

const (
	JobCommentUpdate = "challenge_comment_update"
	JobWelcome       = "challenge_welcome"
)

const (
	EventGuessSubmitted   = "guess_submitted"
	EventChallengeSkipped = "challenge_skipped"
)

const (
	DefaultCommentCooldown  = 60 * time.Second
	DefaultLockTTL          = 30 * time.Second
	DefaultNegativeCacheTTL = 7 * 24 * time.Hour
	DefaultRecordCacheTTL   = 5 * time.Minute
	DefaultStatsCacheTTL    = 3 * time.Second
	DefaultTopGuesses       = 5
	DefaultGuesserReward    = 1
	DefaultAuthorReward     = 1
	DefaultGuessRateLimit   = 30
	DefaultGuessRateWindow  = time.Minute
	DefaultJobPollInterval  = time.Second
	DefaultEffectTimeout    = 15 * time.Second
)

const (
	MarkerNone     = "none"
	MarkerMigrated = "migrated"
)

const (
	ErrorCodeInvalidInput = "invalid_input"
	ErrorCodeNotFound     = "not_found"
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeForbidden    = "forbidden"
	ErrorCodeInternal     = "internal_error"
)

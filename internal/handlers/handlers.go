package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/CodeAndHammer/sketchword/internal/app"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	game "github.com/CodeAndHammer/sketchword/internal/game"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	session "github.com/CodeAndHammer/sketchword/internal/session"
	stats "github.com/CodeAndHammer/sketchword/internal/stats"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

type guessRequest struct {
	Guess string `json:"guess" binding:"required"`
}

type revealRequest struct {
	Masked string `json:"masked" binding:"required"`
}

// Register mounts the API routes. Throttled routes go through limit.
func Register(r gin.IRouter, a *app.App, limit gin.HandlerFunc) {
	with := func(h func(*app.App, *gin.Context)) gin.HandlerFunc {
		return func(c *gin.Context) { h(a, c) }
	}
	r.POST(constants.RouteSession, limit, with(SessionHandler))
	r.POST(constants.RouteChallenges, limit, with(CreateChallengeHandler))
	r.POST(constants.RouteGuess, limit, with(GuessHandler))
	r.POST(constants.RouteSkip, limit, with(SkipHandler))
	r.GET(constants.RouteStats, with(StatsHandler))
	r.POST(constants.RouteReveal, limit, with(RevealHandler))
	r.POST(constants.RouteAdminMigrate, with(MigrateHandler))
	r.GET(constants.RouteHealthz, with(HealthzHandler))
}

// SessionHandler returns the caller's player id with a bearer token for
// clients that cannot keep the session cookie.
func SessionHandler(a *app.App, c *gin.Context) {
	playerID, ok := player(a, c)
	if !ok {
		return
	}
	token, err := a.Tokens.Generate(playerID, time.Now())
	if err != nil {
		internalError(c.Request.Context(), c, "issue token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playerId": playerID, "token": token})
}

func CreateChallengeHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	playerID, ok := player(a, c)
	if !ok {
		return
	}

	var in models.NewChallenge
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, err.Error())
		return
	}
	in.AuthorID = playerID

	rec, err := a.Processor.CreateChallenge(ctx, in)
	if errors.Is(err, game.ErrInvalidChallenge) {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, err.Error())
		return
	}
	if err != nil {
		internalError(ctx, c, "create challenge", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func GuessHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	playerID, ok := player(a, c)
	if !ok {
		return
	}

	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, err.Error())
		return
	}

	outcome, err := a.Processor.SubmitGuess(ctx, c.Param("id"), playerID, req.Guess)
	if err != nil {
		internalError(ctx, c, "submit guess", err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func SkipHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	playerID, ok := player(a, c)
	if !ok {
		return
	}

	skipped, err := a.Processor.Skip(ctx, c.Param("id"), playerID)
	if err != nil {
		internalError(ctx, c, "skip", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skipped": skipped})
}

func StatsHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	_, found, err := a.Processor.Lookup(ctx, id)
	if err != nil {
		internalError(ctx, c, "load challenge", err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, constants.ErrorCodeNotFound, "challenge not found")
		return
	}

	summary, err := a.Stats.Compute(ctx, id, a.Config.TopGuesses)
	if err != nil {
		internalError(ctx, c, "compute stats", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func RevealHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	requesterID, ok := authenticated(a, c)
	if !ok {
		return
	}
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, err.Error())
		return
	}

	word, err := a.Stats.Reveal(ctx, c.Param("id"), requesterID, req.Masked)
	switch {
	case errors.Is(err, stats.ErrForbidden):
		respondError(c, http.StatusForbidden, constants.ErrorCodeForbidden, err.Error())
	case errors.Is(err, stats.ErrNotFound):
		respondError(c, http.StatusNotFound, constants.ErrorCodeNotFound, err.Error())
	case err != nil:
		internalError(ctx, c, "reveal guess", err)
	default:
		c.JSON(http.StatusOK, gin.H{"word": word})
	}
}

// MigrateHandler lets a moderator force a migration past the negative
// marker.
func MigrateHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()
	requesterID, ok := authenticated(a, c)
	if !ok {
		return
	}
	ok, err := a.Moderators.IsModerator(ctx, requesterID)
	if err != nil {
		internalError(ctx, c, "check moderator", err)
		return
	}
	if !ok {
		respondError(c, http.StatusForbidden, constants.ErrorCodeForbidden, "moderators only")
		return
	}

	id := c.Param("id")
	migrated := a.Migrations.MigrateForce(ctx, id)
	util.LogInfoCtx(ctx, "Forced migration of %s: migrated=%v", id, migrated)
	c.JSON(http.StatusOK, gin.H{"migrated": migrated})
}

func HealthzHandler(a *app.App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status, code := "ok", http.StatusOK
	redisStatus := "ok"
	pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.Store.Ping(pingCtx); err != nil {
		util.LogWarnCtx(c.Request.Context(), "Health check: redis ping failed: %v", err)
		status, code, redisStatus = "degraded", http.StatusServiceUnavailable, err.Error()
	}

	c.JSON(code, gin.H{
		"status":          status,
		"env":             map[bool]string{true: "production", false: "development"}[a.Config.IsProduction],
		"redis":           redisStatus,
		"cached_records":  a.Records.Len(),
		"active_limiters": a.IPLimiter.Len(),
		"memory_alloc_mb": m.Alloc / 1024 / 1024,
		"memory_sys_mb":   m.Sys / 1024 / 1024,
		"memory_gc_count": m.NumGC,
		"uptime":          util.FormatUptime(time.Since(a.StartTime)),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// player resolves or creates the caller's session.
func player(a *app.App, c *gin.Context) (string, bool) {
	id, err := session.GetOrCreatePlayerID(c, a.Tokens, a.Config.IsProduction, a.Config.CookieMaxAge)
	if err != nil {
		internalError(c.Request.Context(), c, "create session", err)
		return "", false
	}
	return id, true
}

// authenticated requires an existing signed identity; privileged routes
// never mint one.
func authenticated(a *app.App, c *gin.Context) (string, bool) {
	id := session.PlayerID(c, a.Tokens)
	if id == "" {
		respondError(c, http.StatusUnauthorized, constants.ErrorCodeUnauthorized, "valid session required")
		return "", false
	}
	return id, true
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}

func internalError(ctx context.Context, c *gin.Context, action string, err error) {
	util.LogErrorCtx(ctx, "Failed to %s: %v", action, err)
	respondError(c, http.StatusInternalServerError, constants.ErrorCodeInternal, "internal error")
}

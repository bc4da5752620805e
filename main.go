package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"

	app "github.com/CodeAndHammer/sketchword/internal/app"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	handlers "github.com/CodeAndHammer/sketchword/internal/handlers"
	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

func main() {
	util.LoadEnv()
	cfg := app.LoadConfig()
	if err := util.InitLogger(cfg.LogLevel, cfg.LogFile, cfg.IsProduction); err != nil {
		util.LogFatal("Failed to initialise logger: %v", err)
	}
	defer util.SyncLogger()

	util.LogInfo("Starting Sketchword in %s mode", map[bool]string{true: "production", false: "development"}[cfg.IsProduction])
	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	s, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		util.LogFatal("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			util.LogWarn("Redis close: %v", err)
		}
	}()
	util.LogInfo("Connected to Redis at %s (db %d)", cfg.RedisAddr, cfg.RedisDB)

	a := app.New(cfg, s)
	a.Start(ctx)
	util.LogInfo("Guess rate limit: %d per %v (%s)", cfg.GuessRateLimit, cfg.GuessRateWindow, cfg.RateLimitMode)

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(requestIDMiddleware())
	router.Use(securityHeadersMiddleware())
	router.Use(metrics.MetricsMiddleware())
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression))
	router.Use(cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	}))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.GET(constants.RouteMetrics, metrics.PrometheusHandler())
	handlers.Register(router, a, rateLimitMiddleware(a.IPLimiter))

	startServer(router, cfg.Port, func() {
		stop()
		if err := a.Shutdown(10 * time.Second); err != nil {
			util.LogWarn("Shutdown: %v", err)
		}
	})
}

// startServer blocks until the server stops. onShutdown runs after the
// HTTP server drained, before startServer returns.
func startServer(router *gin.Engine, port string, onShutdown func()) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	onShutdown()
	util.LogInfo("Server shutdown complete")
}

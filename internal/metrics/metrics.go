package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	Guesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchword_guesses_total",
			Help: "Guess submissions by outcome",
		},
		[]string{"outcome"},
	)

	CommentUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchword_comment_updates_total",
			Help: "Cooldown decisions by branch",
		},
		[]string{"branch"},
	)

	Migrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchword_migrations_total",
			Help: "Migration attempts by outcome",
		},
		[]string{"outcome"},
	)

	EffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchword_effect_failures_total",
			Help: "Best-effort side effects that failed",
		},
		[]string{"effect"},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sketchword_jobs_processed_total",
			Help: "Scheduled jobs handled by the worker",
		},
		[]string{"job", "result"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			Guesses,
			CommentUpdates,
			Migrations,
			EffectFailures,
			JobsProcessed,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/CodeAndHammer/sketchword/internal/app"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	handlers "github.com/CodeAndHammer/sketchword/internal/handlers"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	session "github.com/CodeAndHammer/sketchword/internal/session"
	"github.com/CodeAndHammer/sketchword/internal/store/storetest"
)

type server struct {
	app    *app.App
	router *gin.Engine
	mr     *miniredis.Miniredis
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, mr := storetest.New(t)
	a := app.New(app.Config{
		GuesserReward:    1,
		AuthorReward:     1,
		GuessRateLimit:   100,
		GuessRateWindow:  time.Minute,
		RateLimitMode:    app.RateLimitRedis,
		TopGuesses:       5,
		CommentCooldown:  time.Minute,
		LockTTL:          30 * time.Second,
		NegativeCacheTTL: time.Hour,
		JobPollInterval:  time.Second,
		EffectTimeout:    5 * time.Second,
		RateLimitRPS:     100,
		RateLimitBurst:   100,
		RateLimiterTTL:   time.Hour,
		CookieMaxAge:     time.Hour,
		SessionSecret:    "test-secret",
	}, s)
	t.Cleanup(a.Effects.Wait)

	r := gin.New()
	handlers.Register(r, a, func(c *gin.Context) { c.Next() })
	return &server{app: a, router: r, mr: mr}
}

func (s *server) do(t *testing.T, method, path, player string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		token, err := s.app.Tokens.Generate(player, time.Now())
		require.NoError(t, err)
		req.Header.Set(constants.AuthorizationHeader, constants.BearerPrefix+token)
	}
	return s.serve(req)
}

func (s *server) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) createChallenge(t *testing.T, word string) string {
	t.Helper()
	pixels := make([]int, models.DrawingSize*models.DrawingSize)
	for i := range pixels {
		pixels[i] = models.BackgroundPixel
	}
	w := s.do(t, http.MethodPost, "/challenges", "author", map[string]any{
		"word":       word,
		"authorName": "painter",
		"drawing":    map[string]any{"pixels": pixels},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.ChallengeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "author", rec.AuthorID)
	return rec.ChallengeID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGuessFlow(t *testing.T) {
	s := newServer(t)
	id := s.createChallenge(t, "Tree")

	w := s.do(t, http.MethodPost, "/challenges/"+id+"/guess", "p1", map[string]string{"guess": "bush"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.GuessOutcome{}, decode[models.GuessOutcome](t, w))

	w = s.do(t, http.MethodPost, "/challenges/"+id+"/guess", "p1", map[string]string{"guess": " TREE "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.GuessOutcome{Correct: true, PointsAwarded: 1}, decode[models.GuessOutcome](t, w))

	w = s.do(t, http.MethodPost, "/challenges/"+id+"/skip", "p2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"skipped": true}, decode[map[string]bool](t, w))

	w = s.do(t, http.MethodGet, "/challenges/"+id+"/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[models.Stats](t, w)
	assert.Equal(t, int64(2), summary.PlayerCount)
	assert.Equal(t, 50.0, summary.SolvedPercentage)
	assert.Equal(t, 50.0, summary.SkipPercentage)
	require.Len(t, summary.TopGuesses, 2)
	assert.Equal(t, "t***", summary.TopGuesses[0].Word)
}

func TestGuess_Validation(t *testing.T) {
	s := newServer(t)
	id := s.createChallenge(t, "Tree")

	w := s.do(t, http.MethodPost, "/challenges/"+id+"/guess", "p1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/challenges", "author", map[string]any{"word": "!!", "authorName": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuess_UnknownChallengeIsInert(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/challenges/nope/guess", "p1", map[string]string{"guess": "tree"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.GuessOutcome{}, decode[models.GuessOutcome](t, w))

	w = s.do(t, http.MethodGet, "/challenges/nope/stats", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReveal(t *testing.T) {
	s := newServer(t)
	id := s.createChallenge(t, "Tree")
	s.do(t, http.MethodPost, "/challenges/"+id+"/guess", "p1", map[string]string{"guess": "bush"})

	w := s.do(t, http.MethodPost, "/challenges/"+id+"/reveal", "p1", map[string]string{"masked": "b***"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, platform.NewRedisModerators(s.app.Store).Add(t.Context(), "mod"))
	w = s.do(t, http.MethodPost, "/challenges/"+id+"/reveal", "mod", map[string]string{"masked": "b***"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"word": "bush"}, decode[map[string]string](t, w))

	w = s.do(t, http.MethodPost, "/challenges/"+id+"/reveal", "mod", map[string]string{"masked": "z****"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminMigrate(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/admin/challenges/c1/migrate", "p1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, platform.NewRedisModerators(s.app.Store).Add(t.Context(), "mod"))
	w = s.do(t, http.MethodPost, "/admin/challenges/c1/migrate", "mod", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"migrated": false}, decode[map[string]bool](t, w))
}

func TestPrivilegedRoutes_RejectUnverifiedIdentity(t *testing.T) {
	s := newServer(t)
	id := s.createChallenge(t, "Tree")
	s.do(t, http.MethodPost, "/challenges/"+id+"/guess", "p1", map[string]string{"guess": "bush"})
	require.NoError(t, platform.NewRedisModerators(s.app.Store).Add(t.Context(), "mod"))

	forged, err := session.NewTokens("attacker-secret", time.Hour).Generate("mod", time.Now())
	require.NoError(t, err)

	for name, setup := range map[string]func(*http.Request){
		"asserted header": func(r *http.Request) { r.Header.Set("X-Player-ID", "mod") },
		"plain cookie": func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: "mod"})
		},
		"forged token": func(r *http.Request) {
			r.Header.Set(constants.AuthorizationHeader, constants.BearerPrefix+forged)
		},
	} {
		t.Run(name, func(t *testing.T) {
			for _, path := range []string{"/challenges/" + id + "/reveal", "/admin/challenges/" + id + "/migrate"} {
				req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"masked":"b***"}`))
				req.Header.Set("Content-Type", "application/json")
				setup(req)
				w := s.serve(req)
				assert.Equal(t, http.StatusUnauthorized, w.Code, path)
				assert.NotContains(t, w.Body.String(), "bush")
			}
		})
	}
}

func TestSession_IssuesUsableToken(t *testing.T) {
	s := newServer(t)

	w := s.serve(httptest.NewRequest(http.MethodPost, "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	require.NotEmpty(t, body["playerId"])
	require.NotEmpty(t, body["token"])

	id, err := s.app.Tokens.Verify(body["token"])
	require.NoError(t, err)
	assert.Equal(t, body["playerId"], id)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.AddCookie(cookies[0])
	again := decode[map[string]string](t, s.serve(req))
	assert.Equal(t, body["playerId"], again["playerId"])
}

func TestHealthz(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["redis"])

	s.mr.Close()
	w = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// Package session identifies the player behind a request.
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

const maxPlayerIDLength = 128

// PlayerID returns the id from a verified bearer token, or from the signed
// session cookie when no bearer token is sent. It returns "" when neither
// verifies.
func PlayerID(c *gin.Context, tokens *Tokens) string {
	if auth := c.GetHeader(constants.AuthorizationHeader); strings.HasPrefix(auth, constants.BearerPrefix) {
		id, err := tokens.Verify(strings.TrimSpace(strings.TrimPrefix(auth, constants.BearerPrefix)))
		if err != nil {
			util.LogWarnCtx(c.Request.Context(), "Rejected bearer token: %v", err)
			return ""
		}
		return id
	}
	if raw, err := c.Cookie(constants.SessionCookieName); err == nil && raw != "" {
		id, err := tokens.Verify(raw)
		if err != nil {
			util.LogInfoCtx(c.Request.Context(), "Ignoring session cookie: %v", err)
			return ""
		}
		return id
	}
	return ""
}

// GetOrCreatePlayerID is PlayerID, issuing a fresh signed session cookie
// for anonymous players. The token is returned alongside the id.
func GetOrCreatePlayerID(c *gin.Context, tokens *Tokens, secure bool, maxAge time.Duration) (string, error) {
	if id := PlayerID(c, tokens); id != "" {
		return id, nil
	}
	id := uuid.NewString()
	token, err := tokens.Generate(id, time.Now())
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(constants.SessionCookieName, token, int(maxAge.Seconds()), "/", "", secure, true)
	util.LogInfoCtx(c.Request.Context(), "Created new player session: %s", id)
	return id, nil
}

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrExpiredToken = errors.New("session: token expired")
)

// Tokens signs and verifies player identities. A player id is only ever
// taken from a token this server signed.
type Tokens struct {
	secret []byte
	maxAge time.Duration
}

// NewTokens signs with secret; an empty secret gets a random one, so
// issued tokens do not survive a restart.
func NewTokens(secret string, maxAge time.Duration) *Tokens {
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
	}
	return &Tokens{secret: []byte(secret), maxAge: maxAge}
}

func (t *Tokens) Generate(playerID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  playerID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if t.maxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.maxAge))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify returns the player id carried by a token.
func (t *Tokens) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || len(claims.Subject) > maxPlayerIDLength {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token codec failure modes. Both are expected client conditions; callers
// translate them into a 401, never a 500.
var (
	// ErrTokenInvalid is returned for malformed tokens, bad signatures,
	// and tokens signed with a different key or algorithm.
	ErrTokenInvalid = errors.New("session token invalid")

	// ErrTokenExpired is returned when the token's exp claim has passed.
	ErrTokenExpired = errors.New("session token expired")
)

// sessionClaims is the payload carried inside a signed session token.
// The token is deliberately thin: it holds only the opaque session id and
// the standard time claims. Identity and roles are re-fetched from the
// store on every request so a revoked role or deleted session takes
// effect immediately instead of at next login.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenCodec signs and verifies session tokens. It is a pure, stateless
// transform: no I/O, safe for concurrent use.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenCodec creates a codec signing with the given secret. Tokens carry
// an expiry matching ttl, which should equal the session store's TTL so the
// claim and the record expire together.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl}
}

// Sign produces a compact signed token pointing at the given session id,
// with iat/exp claims derived from the configured lifetime.
func (tc *TokenCodec) Sign(sessionID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.ttl)),
		},
		SessionID: sessionID,
	})

	signed, err := token.SignedString(tc.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return signed, nil
}

// Verify checks the token's signature and time claims and returns the
// embedded session id. Signature verification happens before any claim is
// trusted; a token signed with a different key never yields a payload.
func (tc *TokenCodec) Verify(tokenString string) (string, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return tc.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}

	if !token.Valid || claims.SessionID == "" {
		return "", ErrTokenInvalid
	}

	return claims.SessionID, nil
}

// Package identity resolves the current actor from a backend session token.
// Session tokens are HS256 JWTs minted by the Seedling API; the engine only
// needs the actor id and display name out of them, plus a hard expiry check.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Actor is the authenticated user performing interactions. A zero Actor
// (empty ID) means "not signed in" and fails every mutating operation.
type Actor struct {
	ID          string
	DisplayName string
}

// IsAnonymous reports whether no authenticated identity is present.
func (a Actor) IsAnonymous() bool { return a.ID == "" }

// SessionClaims are the JWT claims carried by a Seedling session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"display_name,omitempty"`
}

// ErrNoSubject is returned for structurally valid tokens with an empty sub.
var ErrNoSubject = errors.New("session token has no subject")

// ParseSessionToken validates a session token against the shared secret and
// returns the actor it identifies. Expired or tampered tokens fail.
func ParseSessionToken(tokenString string, secret []byte) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Actor{}, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return Actor{}, jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject == "" {
		return Actor{}, ErrNoSubject
	}
	return Actor{ID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// MintSessionToken signs a session token for an actor. Used by the CLI in
// local development and by tests; production tokens come from the API.
func MintSessionToken(actor Actor, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "seedling.social/session",
		},
		DisplayName: actor.DisplayName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/folium-app/folium-server/internal/config"
)

var (
	// ErrTokenInvalid reports a token that failed signature or claim
	// validation.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired reports a token past its expiry (and, for refresh,
	// past the grace window).
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenRevoked reports a token on the server-side revocation list.
	ErrTokenRevoked = errors.New("token is revoked")
)

// Claims are the JWT claims minted for a signed-in user.
type Claims struct {
	Username  string `json:"username"`
	UserID    uint64 `json:"userId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Manager mints and validates access tokens. Tokens are HS256-signed and
// stateless unless a revocation list is attached.
type Manager struct {
	secret  []byte
	ttl     time.Duration
	grace   time.Duration
	revoker Revoker
}

// NewManager creates a token manager from the security configuration.
func NewManager(cfg *config.SecurityConfig, revoker Revoker) *Manager {
	if revoker == nil {
		revoker = NopRevoker{}
	}
	return &Manager{
		secret:  []byte(cfg.JWTSecret),
		ttl:     cfg.TokenTTL,
		grace:   cfg.RefreshGrace,
		revoker: revoker,
	}
}

// Generate mints a token for the user. The embedded session id doubles as
// the revocation key.
func (m *Manager) Generate(username string, userID uint64) (token, sessionID string, err error) {
	sessionID = uuid.NewString()
	now := time.Now()

	claims := &Claims{
		Username:  username,
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, sessionID, nil
}

// Validate parses and verifies a token, returning its claims.
func (m *Manager) Validate(token string) (*Claims, error) {
	claims, err := m.parse(token, true)
	if err != nil {
		return nil, err
	}
	if m.revoker.IsRevoked(claims.SessionID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Refresh mints a fresh token for the subject of the given one. The old
// token may already be expired, up to the configured grace window.
func (m *Manager) Refresh(token string) (string, error) {
	claims, err := m.parse(token, false)
	if err != nil {
		return "", err
	}
	if claims.ExpiresAt != nil && time.Since(claims.ExpiresAt.Time) > m.grace {
		return "", ErrTokenExpired
	}
	if m.revoker.IsRevoked(claims.SessionID) {
		return "", ErrTokenRevoked
	}

	fresh, _, err := m.Generate(claims.Username, claims.UserID)
	return fresh, err
}

// Revoke records the token's session id on the revocation list until the
// token would have expired anyway.
func (m *Manager) Revoke(token string) error {
	claims, err := m.parse(token, false)
	if err != nil {
		return err
	}

	ttl := m.ttl + m.grace
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time) + m.grace; remaining > 0 {
			ttl = remaining
		}
	}
	return m.revoker.Revoke(claims.SessionID, ttl)
}

// parse verifies signature and shape. When checkExpiry is false an expired
// token still parses; the caller applies its own expiry policy.
func (m *Manager) parse(token string, checkExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/folium-app/folium-server/internal/config"
)

func testSecurityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		JWTSecret:    "0123456789abcdef0123456789abcdef",
		TokenTTL:     time.Hour,
		RefreshGrace: time.Hour,
		BcryptCost:   bcrypt.MinCost,
	}
}

func TestPassword_HashAndVerify(t *testing.T) {
	hash, err := HashPassword("secret123", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "secret123" {
		t.Fatal("password stored in the clear")
	}

	if err := VerifyPassword(hash, "secret123"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password accepted: %v", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	if err := ValidateCredentials("alice", "secret123"); err != nil {
		t.Errorf("valid credentials rejected: %v", err)
	}
	if err := ValidateCredentials("ab", "secret123"); !errors.Is(err, ErrUsernameTooShort) {
		t.Errorf("short username accepted: %v", err)
	}
	if err := ValidateCredentials("alice", "pw"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("short password accepted: %v", err)
	}
}

func TestJWT_GenerateAndValidate(t *testing.T) {
	m := NewManager(testSecurityConfig(), nil)

	token, sessionID, err := m.Generate("alice", 1)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if token == "" || sessionID == "" {
		t.Fatal("empty token or session id")
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Username != "alice" || claims.UserID != 1 || claims.SessionID != sessionID {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestJWT_RejectsGarbageAndWrongKey(t *testing.T) {
	m := NewManager(testSecurityConfig(), nil)

	if _, err := m.Validate("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("garbage token: got %v", err)
	}

	otherCfg := testSecurityConfig()
	otherCfg.JWTSecret = "ffffffffffffffffffffffffffffffff"
	other := NewManager(otherCfg, nil)
	token, _, err := other.Generate("alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("foreign-key token: got %v", err)
	}
}

func TestJWT_ExpiryAndRefreshGrace(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.TokenTTL = -time.Minute // already expired at mint time
	cfg.RefreshGrace = time.Hour
	m := NewManager(cfg, nil)

	token, _, err := m.Generate("alice", 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token validated: %v", err)
	}

	// Within the grace window refresh still works.
	fresh, err := m.Refresh(token)
	if err != nil {
		t.Fatalf("Refresh within grace failed: %v", err)
	}
	if fresh == token {
		t.Error("refresh returned the same token")
	}

	// Past the grace window refresh fails.
	cfg.RefreshGrace = time.Second
	strict := NewManager(cfg, nil)
	if _, err := strict.Refresh(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("refresh past grace succeeded: %v", err)
	}
}

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRevocation_BadgerBacked(t *testing.T) {
	db := openTestBadger(t)
	m := NewManager(testSecurityConfig(), NewBadgerRevoker(db))

	token, _, err := m.Generate("alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Validate(token); err != nil {
		t.Fatalf("fresh token invalid: %v", err)
	}

	if err := m.Revoke(token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("revoked token validated: %v", err)
	}
	if _, err := m.Refresh(token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("revoked token refreshed: %v", err)
	}
}

func TestRevocation_NopAllowsEverything(t *testing.T) {
	m := NewManager(testSecurityConfig(), NopRevoker{})

	token, _, err := m.Generate("alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Revoke(token); err != nil {
		t.Fatalf("nop revoke errored: %v", err)
	}
	if _, err := m.Validate(token); err != nil {
		t.Errorf("nop revoker rejected token: %v", err)
	}
}

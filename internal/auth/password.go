// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package auth provides password hashing and JWT token handling for the
// Core's authentication handlers.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credential minimums, enforced on registration and password change.
const (
	MinUsernameLength = 3
	MinPasswordLength = 5
)

var (
	// ErrUsernameTooShort reports a username below MinUsernameLength.
	ErrUsernameTooShort = fmt.Errorf("username must be at least %d characters", MinUsernameLength)

	// ErrPasswordTooShort reports a password below MinPasswordLength.
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

	// ErrInvalidCredentials reports a failed username/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidateCredentials checks the length minimums for a new credential pair.
func ValidateCredentials(username, password string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword hashes a plain-text password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plain-text password against a bcrypt hash.
// It returns ErrInvalidCredentials on mismatch.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

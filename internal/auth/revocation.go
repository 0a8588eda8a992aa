// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package auth

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/folium-app/folium-server/internal/logging"
)

// Revoker records revoked session ids. Whether LOG_OUT feeds it is a
// configuration decision; with the feature off the NopRevoker is used and
// logout stays a client-side affair.
type Revoker interface {
	// Revoke marks a session id revoked for at least ttl.
	Revoke(sessionID string, ttl time.Duration) error

	// IsRevoked reports whether a session id has been revoked.
	IsRevoked(sessionID string) bool
}

// NopRevoker never revokes anything.
type NopRevoker struct{}

func (NopRevoker) Revoke(string, time.Duration) error { return nil }
func (NopRevoker) IsRevoked(string) bool              { return false }

const revokedKeyPrefix = "revoked:"

// BadgerRevoker stores revoked session ids in badger with a TTL matching
// the token's remaining lifetime, so the list cannot grow unboundedly.
type BadgerRevoker struct {
	db *badger.DB
}

// NewBadgerRevoker creates a badger-backed revocation list.
func NewBadgerRevoker(db *badger.DB) *BadgerRevoker {
	return &BadgerRevoker{db: db}
}

// Revoke marks the session id revoked until ttl elapses.
func (r *BadgerRevoker) Revoke(sessionID string, ttl time.Duration) error {
	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(revokedKeyPrefix+sessionID), nil).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// IsRevoked reports whether the session id is on the list. Store errors
// fail closed: an unreadable list treats the token as revoked.
func (r *BadgerRevoker) IsRevoked(sessionID string) bool {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(revokedKeyPrefix + sessionID))
		return err
	})
	if err == nil {
		return true
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		logging.Error().Err(err).Msg("revocation list read failed, failing closed")
		return true
	}
	return false
}

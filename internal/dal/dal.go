// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package dal is the Data Access Port the Core's handlers call to resolve
// business semantics. Users, classes, and note history live in badger; the
// big-note documents themselves are JSON files on disk, serialized per class
// by a keyed mutex so concurrent editors never interleave partial writes.
package dal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserExists reports a registration for a taken username.
	ErrUserExists = errors.New("dal: user already exists")

	// ErrUserNotFound reports a lookup for an unknown username.
	ErrUserNotFound = errors.New("dal: user not found")

	// ErrClassNotFound reports a lookup for an unknown class id.
	ErrClassNotFound = errors.New("dal: class not found")

	// ErrClassExists reports a create for a taken class id.
	ErrClassExists = errors.New("dal: class already exists")

	// ErrNoteNotFound reports that a class has no big note yet.
	ErrNoteNotFound = errors.New("dal: big note not found")
)

// User is a registered account.
type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Class is a collaborative class with one big note.
type Class struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	OwnerID     uint64    `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     []uint64  `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasMember reports whether the user belongs to the class.
func (c *Class) HasMember(userID uint64) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// ClassUpdate carries the optional fields of a class update; nil means
// leave unchanged.
type ClassUpdate struct {
	Name        *string
	Description *string
}

// NoteUnit is one unit of a class's big note.
type NoteUnit struct {
	UnitID  string `json:"unitId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Note is the aggregated big-note document for a class.
type Note struct {
	Title       string     `json:"title"`
	Units       []NoteUnit `json:"units"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// HistoryEntry records one big-note mutation.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	User   string    `json:"user"`
	Action string    `json:"action"`
	Title  string    `json:"title"`
}

// Port is the capability set exposed to the Core's handlers. Every call
// either succeeds or fails with one of the sentinel errors above (or a
// wrapped storage error); partial writes are never observable.
type Port interface {
	// User ops, idempotent by username.
	GetUserByName(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error

	// Class ops.
	ListClasses(ctx context.Context) ([]Class, error)
	ListClassesFor(ctx context.Context, userID uint64) ([]Class, error)
	GetClass(ctx context.Context, id string) (*Class, error)
	CreateClass(ctx context.Context, class *Class) error
	PutClass(ctx context.Context, id string, update ClassUpdate) (*Class, error)
	DeleteClass(ctx context.Context, id string) error

	// Note ops.
	GetBigNote(ctx context.Context, classID string) (*Note, error)
	UpsertBigNote(ctx context.Context, classID, content, title string) (*Note, error)
	AppendUnit(ctx context.Context, classID string, unit NoteUnit) (*Note, error)
	ReadHistory(ctx context.Context, classID string) ([]HistoryEntry, error)
	AppendHistory(ctx context.Context, classID string, entry HistoryEntry) error

	Close() error
}

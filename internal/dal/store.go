// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package dal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/folium-app/folium-server/internal/config"
)

// Badger key prefixes.
const (
	userKeyPrefix    = "user:"
	classKeyPrefix   = "class:"
	historyKeyPrefix = "history:"
)

// userSeqKey names the badger sequence backing user id allocation.
var userSeqKey = []byte("seq:users")

// Store implements Port with badger for structured records and per-class
// JSON files for the big-note documents.
type Store struct {
	db       *badger.DB
	ownsDB   bool
	notesDir string
	locks    *keyLock
	userSeq  *badger.Sequence
}

// Open opens the store at the configured locations.
func Open(cfg *config.StorageConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.DataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dal: open badger at %s: %w", cfg.DataDir, err)
	}

	s, err := NewWithDB(db, cfg.NotesDir)
	if err != nil {
		db.Close() //nolint:errcheck // open failed, db is going away
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewWithDB builds a store on an already open badger handle. The handle is
// shared (for example with the token revocation list) and not closed by
// Close.
func NewWithDB(db *badger.DB, notesDir string) (*Store, error) {
	if err := os.MkdirAll(notesDir, 0o755); err != nil {
		return nil, fmt.Errorf("dal: create notes dir: %w", err)
	}
	seq, err := db.GetSequence(userSeqKey, 64)
	if err != nil {
		return nil, fmt.Errorf("dal: user id sequence: %w", err)
	}
	return &Store{
		db:       db,
		notesDir: notesDir,
		locks:    newKeyLock(),
		userSeq:  seq,
	}, nil
}

// Close releases the id sequence and, when owned, the badger handle.
func (s *Store) Close() error {
	if err := s.userSeq.Release(); err != nil {
		return fmt.Errorf("dal: release sequence: %w", err)
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying badger handle so sibling components (the token
// revocation list) can share it.
func (s *Store) DB() *badger.DB {
	return s.db
}

// ---- user ops ----

// GetUserByName returns the user with the given username.
func (s *Store) GetUserByName(_ context.Context, username string) (*User, error) {
	var stored storedUser
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKeyPrefix+username, &stored)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("dal: get user: %w", err)
	}
	user := stored.User
	user.PasswordHash = stored.PasswordHash
	return &user, nil
}

// CreateUser registers a new user with an allocated id.
func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (*User, error) {
	next, err := s.userSeq.Next()
	if err != nil {
		return nil, fmt.Errorf("dal: next user id: %w", err)
	}

	user := &User{
		ID:           next + 1, // ids start at 1
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + username)
		if _, err := txn.Get(key); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, storedUser{User: *user, PasswordHash: passwordHash})
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("dal: create user: %w", err)
	}
	return user, nil
}

// UpdatePassword replaces the stored hash for the user.
func (s *Store) UpdatePassword(_ context.Context, username, passwordHash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + username)
		var stored storedUser
		if err := getJSON(txn, string(key), &stored); err != nil {
			return err
		}
		stored.PasswordHash = passwordHash
		return setJSON(txn, key, stored)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("dal: update password: %w", err)
	}
	return nil
}

// storedUser is the on-disk user record; the hash is excluded from User's
// JSON so it can never leak into an HTTP payload.
type storedUser struct {
	User
	PasswordHash string `json:"passwordHash"`
}

// ---- class ops ----

// ListClasses returns every class.
func (s *Store) ListClasses(_ context.Context) ([]Class, error) {
	return s.scanClasses(func(*Class) bool { return true })
}

// ListClassesFor returns the classes the user belongs to.
func (s *Store) ListClassesFor(_ context.Context, userID uint64) ([]Class, error) {
	return s.scanClasses(func(c *Class) bool { return c.HasMember(userID) })
}

func (s *Store) scanClasses(keep func(*Class) bool) ([]Class, error) {
	classes := []Class{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(classKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var c storedClass
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			class := c.toClass()
			if keep(&class) {
				classes = append(classes, class)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dal: scan classes: %w", err)
	}
	return classes, nil
}

// GetClass returns the class with the given id.
func (s *Store) GetClass(_ context.Context, id string) (*Class, error) {
	var stored storedClass
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, classKeyPrefix+id, &stored)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("dal: get class: %w", err)
	}
	class := stored.toClass()
	return &class, nil
}

// CreateClass stores a new class. The owner is always a member.
func (s *Store) CreateClass(_ context.Context, class *Class) error {
	if !class.HasMember(class.OwnerID) {
		class.Members = append(class.Members, class.OwnerID)
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = time.Now().UTC()
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(classKeyPrefix + class.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrClassExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, fromClass(class))
	})
	if errors.Is(err, ErrClassExists) {
		return ErrClassExists
	}
	if err != nil {
		return fmt.Errorf("dal: create class: %w", err)
	}
	return nil
}

// PutClass applies the non-nil fields of update and returns the result.
func (s *Store) PutClass(_ context.Context, id string, update ClassUpdate) (*Class, error) {
	var result Class
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(classKeyPrefix + id)
		var stored storedClass
		if err := getJSON(txn, string(key), &stored); err != nil {
			return err
		}
		if update.Name != nil {
			stored.Name = *update.Name
		}
		if update.Description != nil {
			stored.Description = *update.Description
		}
		result = stored.toClass()
		return setJSON(txn, key, stored)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dal: put class: %w", err)
	}
	return &result, nil
}

// DeleteClass removes the class, its history, and its big-note file.
func (s *Store) DeleteClass(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(classKeyPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		err := txn.Delete([]byte(historyKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrClassNotFound
	}
	if err != nil {
		return fmt.Errorf("dal: delete class: %w", err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	_ = os.Remove(s.notePath(id)) // note file removal is best-effort
	return nil
}

// storedClass is the on-disk class record including membership, which is
// excluded from Class's JSON form.
type storedClass struct {
	Class
	OwnerID uint64   `json:"ownerId"`
	Members []uint64 `json:"members"`
}

func fromClass(c *Class) storedClass {
	return storedClass{Class: *c, OwnerID: c.OwnerID, Members: c.Members}
}

func (sc *storedClass) toClass() Class {
	c := sc.Class
	c.OwnerID = sc.OwnerID
	c.Members = sc.Members
	return c
}

// ---- note ops ----

// GetBigNote reads the class's big-note document. Re-reading an unchanged
// note yields the same bytes.
func (s *Store) GetBigNote(_ context.Context, classID string) (*Note, error) {
	unlock := s.locks.Lock(classID)
	defer unlock()
	return s.readNote(classID)
}

// UpsertBigNote replaces or extends the class's big note.
//
// When content itself parses as a note document it becomes the new document
// wholesale. Otherwise the raw text is appended as an "edited" unit of the
// existing document, or becomes the first unit of a fresh one.
func (s *Store) UpsertBigNote(_ context.Context, classID, content, title string) (*Note, error) {
	unlock := s.locks.Lock(classID)
	defer unlock()

	now := time.Now().UTC()

	if doc, ok := parseNoteDocument(content); ok {
		if title != "" {
			doc.Title = title
		}
		doc.LastUpdated = now
		if err := s.writeNote(classID, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	note, err := s.readNote(classID)
	switch {
	case err == nil:
		if title != "" {
			note.Title = title
		}
		note.Units = append(note.Units, NoteUnit{
			UnitID:  fmt.Sprintf("unit_edited_%d", now.Unix()),
			Title:   orDefault(title, "Edited Note"),
			Content: content,
		})
	case errors.Is(err, ErrNoteNotFound):
		note = &Note{
			Title: orDefault(title, "Edited Note"),
			Units: []NoteUnit{{
				UnitID:  "unit_1",
				Title:   orDefault(title, "Edited Note"),
				Content: content,
			}},
		}
	default:
		return nil, err
	}

	note.LastUpdated = now
	if err := s.writeNote(classID, note); err != nil {
		return nil, err
	}
	return note, nil
}

// AppendUnit integrates one uploaded unit into the class's big note,
// creating the document if the class has none yet.
func (s *Store) AppendUnit(_ context.Context, classID string, unit NoteUnit) (*Note, error) {
	unlock := s.locks.Lock(classID)
	defer unlock()

	note, err := s.readNote(classID)
	if errors.Is(err, ErrNoteNotFound) {
		note = &Note{Title: orDefault(unit.Title, "Note Collection")}
	} else if err != nil {
		return nil, err
	}

	if unit.UnitID == "" {
		unit.UnitID = fmt.Sprintf("unit_%d", len(note.Units)+1)
	}
	note.Units = append(note.Units, unit)
	note.LastUpdated = time.Now().UTC()

	if err := s.writeNote(classID, note); err != nil {
		return nil, err
	}
	return note, nil
}

// ReadHistory returns the class's mutation log, oldest first.
func (s *Store) ReadHistory(_ context.Context, classID string) ([]HistoryEntry, error) {
	history := []HistoryEntry{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, historyKeyPrefix+classID, &history)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("dal: read history: %w", err)
	}
	return history, nil
}

// historyTxnRetries bounds read-modify-write retries on a contended log.
const historyTxnRetries = 10

// AppendHistory appends one entry to the class's mutation log. Concurrent
// workers appending to the same class conflict at the transaction level; the
// losing append is retried rather than dropped.
func (s *Store) AppendHistory(_ context.Context, classID string, entry HistoryEntry) error {
	var err error
	for attempt := 0; attempt < historyTxnRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			key := []byte(historyKeyPrefix + classID)
			history := []HistoryEntry{}
			if err := getJSON(txn, string(key), &history); err != nil &&
				!errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			history = append(history, entry)
			return setJSON(txn, key, history)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dal: append history: %w", err)
	}
	return nil
}

// ---- note file plumbing ----

func (s *Store) notePath(classID string) string {
	// Class ids appear in payloads; never let them traverse paths.
	safe := strings.ReplaceAll(classID, string(os.PathSeparator), "_")
	return filepath.Join(s.notesDir, "class_"+safe+"_note.json")
}

func (s *Store) readNote(classID string) (*Note, error) {
	data, err := os.ReadFile(s.notePath(classID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("dal: read note: %w", err)
	}

	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("dal: parse note file: %w", err)
	}
	return &note, nil
}

// writeNote writes the document through a temp file and rename so readers
// never observe a partial write.
func (s *Store) writeNote(classID string, note *Note) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("dal: encode note: %w", err)
	}

	path := s.notePath(classID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("dal: write note: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dal: commit note: %w", err)
	}
	return nil
}

// parseNoteDocument reports whether content is itself a whole note document.
func parseNoteDocument(content string) (*Note, bool) {
	var doc Note
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, false
	}
	if len(doc.Units) == 0 && doc.Title == "" {
		return nil, false
	}
	return &doc, true
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ---- badger helpers ----

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

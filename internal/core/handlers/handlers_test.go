// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/folium-app/folium-server/internal/auth"
	"github.com/folium-app/folium-server/internal/config"
	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/task"
)

type fixture struct {
	h   *Handlers
	reg map[task.Kind]Func
	dal dal.Port
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := dal.NewWithDB(db, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sec := &config.SecurityConfig{
		JWTSecret:    "0123456789abcdef0123456789abcdef",
		TokenTTL:     time.Hour,
		RefreshGrace: time.Hour,
		BcryptCost:   bcrypt.MinCost,
	}
	h := New(store, auth.NewManager(sec, nil), sec)
	return &fixture{h: h, reg: h.Registry(), dal: store}
}

// call runs the handler for kind with the given payload and decodes the
// reply payload into out (when out is non-nil). It returns the reply task.
func (f *fixture) call(t *testing.T, kind task.Kind, payload, out any) *task.Task {
	t.Helper()
	fn, ok := f.reg[kind]
	require.True(t, ok, "no handler registered for %s", kind)

	req := task.WithPayload(kind, payload)
	req.CorrelationID = 42
	reply := fn(context.Background(), req)
	require.NotNil(t, reply)
	require.Equal(t, uint64(42), reply.CorrelationID, "reply must echo the correlation id")

	if out != nil && reply.Kind != task.KindError {
		require.NoError(t, json.Unmarshal(reply.Payload, out))
	}
	return reply
}

// wantError asserts the reply is an ERROR with the given status code.
func wantError(t *testing.T, reply *task.Task, status int) {
	t.Helper()
	require.Equal(t, task.KindError, reply.Kind)
	var ep task.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &ep))
	require.Equal(t, status, ep.StatusCode)
}

// registerAndLogin creates a user and returns a valid bearer token.
func (f *fixture) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret123"}

	reply := f.call(t, task.KindRegister, creds, nil)
	require.NotEqual(t, task.KindError, reply.Kind)

	var login struct {
		Token string `json:"token"`
	}
	reply = f.call(t, task.KindSignIn, creds, &login)
	require.NotEqual(t, task.KindError, reply.Kind)
	require.NotEmpty(t, login.Token)
	return login.Token
}

func TestPing(t *testing.T) {
	f := newFixture(t)

	var out struct {
		Message string `json:"message"`
	}
	reply := f.reg[task.KindPing](context.Background(), task.New(task.KindPing))
	require.Equal(t, task.KindPing, reply.Kind)
	require.NoError(t, json.Unmarshal(reply.Payload, &out))
	require.Equal(t, "pong!", out.Message)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	creds := map[string]string{"username": "alice", "password": "secret123"}

	var out struct {
		UserID uint64 `json:"userId"`
	}
	reply := f.call(t, task.KindRegister, creds, &out)
	require.Equal(t, task.KindRegister, reply.Kind)
	require.GreaterOrEqual(t, out.UserID, uint64(1))

	// Duplicate username.
	wantError(t, f.call(t, task.KindRegister, creds, nil), http.StatusConflict)

	// Credential minimums.
	wantError(t, f.call(t, task.KindRegister,
		map[string]string{"username": "ab", "password": "secret123"}, nil), http.StatusBadRequest)
	wantError(t, f.call(t, task.KindRegister,
		map[string]string{"username": "carol", "password": "pw"}, nil), http.StatusBadRequest)
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	f.registerAndLogin(t, "alice")

	wantError(t, f.call(t, task.KindSignIn,
		map[string]string{"username": "alice", "password": "wrong"}, nil), http.StatusUnauthorized)

	// Unknown user gets the same answer as a wrong password.
	wantError(t, f.call(t, task.KindSignIn,
		map[string]string{"username": "nobody", "password": "secret123"}, nil), http.StatusUnauthorized)
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	token := f.registerAndLogin(t, "alice")

	var out struct {
		Token string `json:"token"`
	}
	reply := f.call(t, task.KindAuthRefresh, map[string]string{"refreshToken": token}, &out)
	require.Equal(t, task.KindAuthRefresh, reply.Kind)
	require.NotEmpty(t, out.Token)

	wantError(t, f.call(t, task.KindAuthRefresh,
		map[string]string{"refreshToken": "garbage"}, nil), http.StatusUnauthorized)

	reply = f.call(t, task.KindLogOut, map[string]string{"token": token}, nil)
	require.Equal(t, task.KindLogOut, reply.Kind)

	// Revocation is off by default, so the token still validates.
	reply = f.call(t, task.KindGetMeClasses, map[string]string{"token": token}, nil)
	require.Equal(t, task.KindGetMeClasses, reply.Kind)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.registerAndLogin(t, "alice")

	wantError(t, f.call(t, task.KindAuthChangePassword, map[string]string{
		"username": "alice", "currentPassword": "wrong", "newPassword": "newsecret",
	}, nil), http.StatusUnauthorized)

	reply := f.call(t, task.KindAuthChangePassword, map[string]string{
		"username": "alice", "currentPassword": "secret123", "newPassword": "newsecret",
	}, nil)
	require.Equal(t, task.KindAuthChangePassword, reply.Kind)

	// Old password no longer works, new one does.
	wantError(t, f.call(t, task.KindSignIn,
		map[string]string{"username": "alice", "password": "secret123"}, nil), http.StatusUnauthorized)
	reply = f.call(t, task.KindSignIn,
		map[string]string{"username": "alice", "password": "newsecret"}, nil)
	require.Equal(t, task.KindSignIn, reply.Kind)
}

func TestClassLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := f.registerAndLogin(t, "alice")
	other := f.registerAndLogin(t, "bob")

	var created struct {
		ClassID string `json:"classId"`
	}
	reply := f.call(t, task.KindPostMeClasses, map[string]string{
		"token": owner, "name": "Math 101", "classId": "math-101",
	}, &created)
	require.Equal(t, task.KindPostMeClasses, reply.Kind)
	require.Equal(t, "math-101", created.ClassID)

	// Omitted class id gets generated.
	reply = f.call(t, task.KindPostMeClasses, map[string]string{
		"token": owner, "name": "CS 201",
	}, &created)
	require.Equal(t, task.KindPostMeClasses, reply.Kind)
	require.NotEmpty(t, created.ClassID)

	var listed struct {
		Classes []dal.Class `json:"classes"`
	}
	f.call(t, task.KindGetMeClasses, map[string]string{"token": owner}, &listed)
	require.Len(t, listed.Classes, 2)

	f.call(t, task.KindGetMeClasses, map[string]string{"token": other}, &listed)
	require.Empty(t, listed.Classes)

	// Public listing needs no token.
	f.call(t, task.KindGetClasses, map[string]string{}, &listed)
	require.Len(t, listed.Classes, 2)

	// Non-member reads are forbidden.
	wantError(t, f.call(t, task.KindGetClassDetails, map[string]string{
		"token": other, "classId": "math-101",
	}, nil), http.StatusForbidden)

	// Non-owner writes are forbidden even for hypothetical members.
	wantError(t, f.call(t, task.KindDeleteClass, map[string]string{
		"token": other, "classId": "math-101",
	}, nil), http.StatusForbidden)

	name := "Mathematics"
	reply = f.call(t, task.KindPutClass, map[string]any{
		"token": owner, "classId": "math-101", "name": name,
	}, nil)
	require.Equal(t, task.KindPutClass, reply.Kind)

	var field struct {
		Name string `json:"name"`
	}
	f.call(t, task.KindGetClassName, map[string]string{
		"token": owner, "classId": "math-101",
	}, &field)
	require.Equal(t, "Mathematics", field.Name)

	reply = f.call(t, task.KindDeleteClass, map[string]string{
		"token": owner, "classId": "math-101",
	}, nil)
	require.Equal(t, task.KindDeleteClass, reply.Kind)

	wantError(t, f.call(t, task.KindGetClassDetails, map[string]string{
		"token": owner, "classId": "math-101",
	}, nil), http.StatusNotFound)
}

func TestClassDetailsWithEmptyNote(t *testing.T) {
	f := newFixture(t)
	owner := f.registerAndLogin(t, "alice")
	f.call(t, task.KindPostMeClasses, map[string]string{
		"token": owner, "name": "Math", "classId": "m1",
	}, nil)

	var details struct {
		ID      string         `json:"id"`
		Owner   string         `json:"owner"`
		BigNote map[string]any `json:"bigNote"`
		Title   string         `json:"title"`
	}
	reply := f.call(t, task.KindGetClassDetails, map[string]string{
		"token": owner, "classId": "m1",
	}, &details)
	require.Equal(t, task.KindGetClassDetails, reply.Kind)
	require.Equal(t, "m1", details.ID)
	require.Equal(t, "alice", details.Owner)
	require.Empty(t, details.BigNote, "missing note reads as an empty document")
	require.Empty(t, details.Title)
}

func TestNoteUploadEditHistory(t *testing.T) {
	f := newFixture(t)
	owner := f.registerAndLogin(t, "alice")
	f.call(t, task.KindPostMeClasses, map[string]string{
		"token": owner, "name": "Math", "classId": "m1",
	}, nil)

	wantError(t, f.call(t, task.KindPostUploadNote, map[string]string{
		"token": owner, "classId": "m1",
	}, nil), http.StatusBadRequest)

	reply := f.call(t, task.KindPostUploadNote, map[string]string{
		"token": owner, "classId": "m1", "noteFile": "week one notes", "title": "Week 1",
	}, nil)
	require.Equal(t, task.KindPostUploadNote, reply.Kind)

	var edited struct {
		LastUpdated time.Time `json:"lastUpdated"`
	}
	reply = f.call(t, task.KindPutBigNoteEdit, map[string]string{
		"token": owner, "classId": "m1", "content": "an amendment",
	}, &edited)
	require.Equal(t, task.KindPutBigNoteEdit, reply.Kind)
	require.False(t, edited.LastUpdated.IsZero())

	var note struct {
		BigNote dal.Note `json:"bigNote"`
	}
	f.call(t, task.KindGetClassBigNote, map[string]string{
		"token": owner, "classId": "m1",
	}, &note)
	require.Len(t, note.BigNote.Units, 2)

	var hist struct {
		History []dal.HistoryEntry `json:"history"`
	}
	f.call(t, task.KindGetBigNoteHistory, map[string]string{
		"token": owner, "classId": "m1",
	}, &hist)
	require.Len(t, hist.History, 2)
	require.Equal(t, "upload", hist.History[0].Action)
	require.Equal(t, "edit", hist.History[1].Action)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	owner := f.registerAndLogin(t, "alice")
	f.call(t, task.KindPostMeClasses, map[string]string{
		"token": owner, "name": "Math", "classId": "m1",
	}, nil)

	var out struct {
		Message string `json:"message"`
	}
	reply := f.call(t, task.KindGetBigNoteExport, map[string]string{
		"token": owner, "classId": "m1", "format": "PDF",
	}, &out)
	require.Equal(t, task.KindGetBigNoteExport, reply.Kind)
	require.Contains(t, out.Message, "PDF")

	wantError(t, f.call(t, task.KindGetBigNoteExport, map[string]string{
		"token": owner, "classId": "m1", "format": "DOCX",
	}, nil), http.StatusBadRequest)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	wantError(t, f.call(t, task.KindGetMeClasses,
		map[string]string{}, nil), http.StatusUnauthorized)
	wantError(t, f.call(t, task.KindGetMeClasses,
		map[string]string{"token": "garbage"}, nil), http.StatusUnauthorized)
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t)

	req := &task.Task{Kind: task.KindRegister, Payload: []byte(`{"username":`)}
	wantError(t, f.reg[task.KindRegister](context.Background(), req), http.StatusBadRequest)

	req = task.New(task.KindSignIn)
	wantError(t, f.reg[task.KindSignIn](context.Background(), req), http.StatusBadRequest)
}

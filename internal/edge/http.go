// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package edge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/task"
)

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody parses the request body as JSON. On failure it answers 400 (or
// 413 when the body blew the size cap) directly and the request never reaches
// the Core.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// relay builds a task of the given kind, round-trips it through the Core,
// and translates the reply into an HTTP response.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, kind task.Kind, payload any) {
	var t *task.Task
	if payload == nil {
		t = task.New(kind)
	} else {
		t = task.WithPayload(kind, payload)
	}

	reply, err := s.correlator.RoundTrip(r.Context(), t)
	switch {
	case err == nil:

	case errors.Is(err, ErrReplyTimeout):
		writeError(w, http.StatusGatewayTimeout, "gateway timeout")
		return

	case errors.Is(err, ErrCoreDown):
		writeError(w, http.StatusServiceUnavailable, "core unavailable")
		return

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client disconnected; nothing left to answer.
		return

	case errors.Is(err, task.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request too large")
		return

	default:
		logging.Error().Err(err).Str("kind", kind.String()).Msg("round trip failed")
		writeError(w, http.StatusInternalServerError, "ipc send failed")
		return
	}

	if reply.Kind == task.KindError {
		// A reply missing its status code still carries its message; only
		// the code defaults.
		var ep task.ErrorPayload
		if err := json.Unmarshal(reply.Payload, &ep); err != nil {
			logging.Warn().Uint64("correlation_id", reply.CorrelationID).Msg("undecodable error reply")
		}
		if ep.StatusCode == 0 {
			ep.StatusCode = http.StatusInternalServerError
		}
		if ep.Error == "" {
			ep.Error = "internal server error"
		}
		writeError(w, ep.StatusCode, ep.Error)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(reply.Payload) > 0 {
		w.Write(reply.Payload) //nolint:errcheck // client write, best-effort
	} else {
		w.Write([]byte("{}")) //nolint:errcheck // client write, best-effort
	}
}

// handlePing answers locally without touching the Core.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Pong!\n")) //nolint:errcheck // client write, best-effort
}

// handlePingCore round-trips a PING through the whole pipeline.
func (s *Server) handlePingCore(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, task.KindPing, nil)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindRegister, body)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindSignIn, body)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Token == "" {
		body.Token = bearerToken(r)
	}
	s.relay(w, r, task.KindLogOut, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindAuthRefresh, body)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username        string `json:"username"`
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindAuthChangePassword, body)
}

func (s *Server) handleGetClasses(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, task.KindGetClasses, map[string]string{})
}

func (s *Server) handleGetMeClasses(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, task.KindGetMeClasses, map[string]string{"token": bearerToken(r)})
}

func (s *Server) handlePostMeClasses(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		ClassID     string `json:"classId"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindPostMeClasses, map[string]string{
		"token":       bearerToken(r),
		"name":        body.Name,
		"classId":     body.ClassID,
		"description": body.Description,
	})
}

func (s *Server) handlePutClass(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindPutClass, map[string]any{
		"token":       bearerToken(r),
		"classId":     chi.URLParam(r, "id"),
		"name":        body.Name,
		"description": body.Description,
	})
}

// handleClassKind serves the bodyless per-class routes: details, delete,
// single-field reads, and history.
func (s *Server) handleClassKind(kind task.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.relay(w, r, kind, map[string]string{
			"token":   bearerToken(r),
			"classId": chi.URLParam(r, "id"),
		})
	}
}

func (s *Server) handleUploadNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NoteFile string `json:"noteFile"`
		Title    string `json:"title"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindPostUploadNote, map[string]string{
		"token":    bearerToken(r),
		"classId":  chi.URLParam(r, "id"),
		"noteFile": body.NoteFile,
		"title":    body.Title,
	})
}

func (s *Server) handleEditBigNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
		Title   string `json:"title"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.relay(w, r, task.KindPutBigNoteEdit, map[string]string{
		"token":   bearerToken(r),
		"classId": chi.URLParam(r, "id"),
		"content": body.Content,
		"title":   body.Title,
	})
}

func (s *Server) handleExportBigNote(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, task.KindGetBigNoteExport, map[string]string{
		"token":   bearerToken(r),
		"classId": chi.URLParam(r, "id"),
		"format":  r.URL.Query().Get("format"),
	})
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package handlers holds the business handlers the Core's workers dispatch
// to by task kind. Every handler returns a reply task; business failures
// become ERROR replies with an HTTP-style status code, never panics.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/folium-app/folium-server/internal/auth"
	"github.com/folium-app/folium-server/internal/config"
	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/task"
)

// Func is one business handler. It must not panic; all failures are
// returned as ERROR replies.
type Func func(ctx context.Context, t *task.Task) *task.Task

// Handlers binds the Data Access Port and the token manager to the task
// kinds the Core serves.
type Handlers struct {
	dal            dal.Port
	auth           *auth.Manager
	bcryptCost     int
	revokeOnLogout bool
}

// New wires the handler set.
func New(port dal.Port, tokens *auth.Manager, sec *config.SecurityConfig) *Handlers {
	return &Handlers{
		dal:            port,
		auth:           tokens,
		bcryptCost:     sec.BcryptCost,
		revokeOnLogout: sec.RevokeOnLogout,
	}
}

// Registry maps each servable kind to its handler. SYSKILL is absent on
// purpose: it is consumed by the dispatcher loop and never reaches a worker.
func (h *Handlers) Registry() map[task.Kind]Func {
	return map[task.Kind]Func{
		task.KindPing: h.ping,

		task.KindRegister:           h.register,
		task.KindSignIn:             h.signIn,
		task.KindLogOut:             h.logOut,
		task.KindAuthRefresh:        h.refreshToken,
		task.KindAuthChangePassword: h.changePassword,

		task.KindGetClasses:          h.getClasses,
		task.KindGetMeClasses:        h.getMeClasses,
		task.KindPostMeClasses:       h.postMeClasses,
		task.KindPutClass:            h.putClass,
		task.KindDeleteClass:         h.deleteClass,
		task.KindGetClassDetails:     h.getClassDetails,
		task.KindGetClassOwner:       h.getClassField,
		task.KindGetClassName:        h.getClassField,
		task.KindGetClassDescription: h.getClassField,
		task.KindGetClassBigNote:     h.getClassField,
		task.KindGetClassTitle:       h.getClassField,

		task.KindPostUploadNote:      h.uploadNote,
		task.KindPutBigNoteEdit:      h.editBigNote,
		task.KindGetBigNoteHistory:   h.bigNoteHistory,
		task.KindGetBigNoteExport:    h.exportBigNote,
	}
}

func (h *Handlers) ping(_ context.Context, t *task.Task) *task.Task {
	return t.Reply(map[string]string{"message": "pong!"})
}

// decodePayload parses the request payload into req. A malformed payload is
// a client error.
func decodePayload(t *task.Task, req any) *task.Task {
	if len(t.Payload) == 0 {
		return t.ReplyError(http.StatusBadRequest, "missing request payload")
	}
	if err := json.Unmarshal(t.Payload, req); err != nil {
		return t.ReplyError(http.StatusBadRequest, "malformed request payload")
	}
	return nil
}

// failure converts an error from the auth or dal layer into an ERROR reply.
func failure(t *task.Task, err error) *task.Task {
	switch {
	case errors.Is(err, auth.ErrUsernameTooShort),
		errors.Is(err, auth.ErrPasswordTooShort):
		return t.ReplyError(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return t.ReplyError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenInvalid):
		return t.ReplyError(http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrTokenExpired):
		return t.ReplyError(http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		return t.ReplyError(http.StatusUnauthorized, "token revoked")
	case errors.Is(err, dal.ErrUserExists):
		return t.ReplyError(http.StatusConflict, "user already exists")
	case errors.Is(err, dal.ErrClassExists):
		return t.ReplyError(http.StatusConflict, "class already exists")
	case errors.Is(err, dal.ErrUserNotFound):
		return t.ReplyError(http.StatusNotFound, "user not found")
	case errors.Is(err, dal.ErrClassNotFound):
		return t.ReplyError(http.StatusNotFound, "class not found")
	case errors.Is(err, dal.ErrNoteNotFound):
		return t.ReplyError(http.StatusNotFound, "note not found")
	default:
		logging.Error().Err(err).Str("kind", t.Kind.String()).Msg("handler failure")
		return t.ReplyError(http.StatusInternalServerError, "internal server error")
	}
}

// authenticate resolves the bearer token carried in the payload to a user.
func (h *Handlers) authenticate(ctx context.Context, t *task.Task, token string) (*dal.User, *task.Task) {
	if token == "" {
		return nil, t.ReplyError(http.StatusUnauthorized, "missing token")
	}
	claims, err := h.auth.Validate(token)
	if err != nil {
		return nil, failure(t, err)
	}
	user, err := h.dal.GetUserByName(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, dal.ErrUserNotFound) {
			return nil, t.ReplyError(http.StatusUnauthorized, "unknown user")
		}
		return nil, failure(t, err)
	}
	return user, nil
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/folium-app/folium-server/internal/auth"
	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/task"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) register(ctx context.Context, t *task.Task) *task.Task {
	var req credentialsRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	if err := auth.ValidateCredentials(req.Username, req.Password); err != nil {
		return failure(t, err)
	}

	hash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		return failure(t, err)
	}
	user, err := h.dal.CreateUser(ctx, req.Username, hash)
	if err != nil {
		return failure(t, err)
	}

	logging.Info().Str("username", user.Username).Uint64("user_id", user.ID).Msg("user registered")
	return t.Reply(map[string]any{
		"message": "user registered",
		"userId":  user.ID,
	})
}

func (h *Handlers) signIn(ctx context.Context, t *task.Task) *task.Task {
	var req credentialsRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}

	user, err := h.dal.GetUserByName(ctx, req.Username)
	if err != nil {
		if errors.Is(err, dal.ErrUserNotFound) {
			// Same answer as a bad password; no username probing.
			return t.ReplyError(http.StatusUnauthorized, "invalid credentials")
		}
		return failure(t, err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		return failure(t, err)
	}

	token, sessionID, err := h.auth.Generate(user.Username, user.ID)
	if err != nil {
		return failure(t, err)
	}

	logging.Info().Str("username", user.Username).Str("session_id", sessionID).Msg("user signed in")
	return t.Reply(map[string]string{
		"token":     token,
		"sessionId": sessionID,
	})
}

func (h *Handlers) logOut(_ context.Context, t *task.Task) *task.Task {
	var req struct {
		Token string `json:"token"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}

	claims, err := h.auth.Validate(req.Token)
	if err != nil {
		return failure(t, err)
	}
	if h.revokeOnLogout {
		if err := h.auth.Revoke(req.Token); err != nil {
			return failure(t, err)
		}
	}

	logging.Info().Str("username", claims.Username).Msg("user logged out")
	return t.Reply(map[string]string{"message": "logged out"})
}

func (h *Handlers) refreshToken(_ context.Context, t *task.Task) *task.Task {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	if req.RefreshToken == "" {
		return t.ReplyError(http.StatusBadRequest, "missing refreshToken")
	}

	fresh, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		return failure(t, err)
	}
	return t.Reply(map[string]string{"token": fresh})
}

func (h *Handlers) changePassword(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		Username        string `json:"username"`
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	if err := auth.ValidateCredentials(req.Username, req.NewPassword); err != nil {
		return failure(t, err)
	}

	user, err := h.dal.GetUserByName(ctx, req.Username)
	if err != nil {
		return failure(t, err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return failure(t, err)
	}

	hash, err := auth.HashPassword(req.NewPassword, h.bcryptCost)
	if err != nil {
		return failure(t, err)
	}
	if err := h.dal.UpdatePassword(ctx, req.Username, hash); err != nil {
		return failure(t, err)
	}

	logging.Info().Str("username", req.Username).Msg("password changed")
	return t.Reply(map[string]string{"message": "password changed"})
}

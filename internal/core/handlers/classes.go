// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/task"
)

// classRequest is the common payload of every per-class operation: the
// bearer token plus the class id the Edge extracted from the URL.
type classRequest struct {
	Token   string `json:"token"`
	ClassID string `json:"classId"`
}

func (h *Handlers) getClasses(ctx context.Context, t *task.Task) *task.Task {
	classes, err := h.dal.ListClasses(ctx)
	if err != nil {
		return failure(t, err)
	}
	return t.Reply(map[string]any{"classes": classes})
}

func (h *Handlers) getMeClasses(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		Token string `json:"token"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	user, reply := h.authenticate(ctx, t, req.Token)
	if reply != nil {
		return reply
	}

	classes, err := h.dal.ListClassesFor(ctx, user.ID)
	if err != nil {
		return failure(t, err)
	}
	return t.Reply(map[string]any{"classes": classes})
}

func (h *Handlers) postMeClasses(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		Token       string `json:"token"`
		Name        string `json:"name"`
		ClassID     string `json:"classId"`
		Description string `json:"description"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	user, reply := h.authenticate(ctx, t, req.Token)
	if reply != nil {
		return reply
	}
	if req.Name == "" {
		return t.ReplyError(http.StatusBadRequest, "missing class name")
	}
	if req.ClassID == "" {
		req.ClassID = uuid.NewString()
	}

	class := &dal.Class{
		ID:          req.ClassID,
		Owner:       user.Username,
		OwnerID:     user.ID,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.dal.CreateClass(ctx, class); err != nil {
		return failure(t, err)
	}

	logging.Info().Str("class_id", class.ID).Str("owner", user.Username).Msg("class created")
	return t.Reply(map[string]string{"classId": class.ID})
}

func (h *Handlers) putClass(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		classRequest
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	if _, reply := h.classForOwner(ctx, t, req.Token, req.ClassID); reply != nil {
		return reply
	}
	if req.Name == nil && req.Description == nil {
		return t.ReplyError(http.StatusBadRequest, "nothing to update")
	}

	update := dal.ClassUpdate{Name: req.Name, Description: req.Description}
	if _, err := h.dal.PutClass(ctx, req.ClassID, update); err != nil {
		return failure(t, err)
	}
	return t.Reply(map[string]string{"message": "class updated"})
}

func (h *Handlers) deleteClass(ctx context.Context, t *task.Task) *task.Task {
	var req classRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	user, reply := h.classForOwner(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}

	if err := h.dal.DeleteClass(ctx, req.ClassID); err != nil {
		return failure(t, err)
	}

	logging.Info().Str("class_id", req.ClassID).Str("owner", user.Username).Msg("class deleted")
	return t.Reply(map[string]string{"message": "class deleted"})
}

func (h *Handlers) getClassDetails(ctx context.Context, t *task.Task) *task.Task {
	var req classRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	_, class, reply := h.classForMember(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}

	note, title, reply := h.noteOrEmpty(ctx, t, req.ClassID)
	if reply != nil {
		return reply
	}
	return t.Reply(map[string]any{
		"id":          class.ID,
		"owner":       class.Owner,
		"name":        class.Name,
		"description": class.Description,
		"bigNote":     note,
		"title":       title,
	})
}

// getClassField serves the single-field class reads; the field is implied
// by the task kind.
func (h *Handlers) getClassField(ctx context.Context, t *task.Task) *task.Task {
	var req classRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	_, class, reply := h.classForMember(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}

	switch t.Kind {
	case task.KindGetClassOwner:
		return t.Reply(map[string]string{"owner": class.Owner})
	case task.KindGetClassName:
		return t.Reply(map[string]string{"name": class.Name})
	case task.KindGetClassDescription:
		return t.Reply(map[string]string{"description": class.Description})
	case task.KindGetClassBigNote:
		note, _, reply := h.noteOrEmpty(ctx, t, req.ClassID)
		if reply != nil {
			return reply
		}
		return t.Reply(map[string]any{"bigNote": note})
	case task.KindGetClassTitle:
		_, title, reply := h.noteOrEmpty(ctx, t, req.ClassID)
		if reply != nil {
			return reply
		}
		return t.Reply(map[string]string{"title": title})
	default:
		return t.ReplyError(http.StatusInternalServerError, "unroutable class field")
	}
}

// noteOrEmpty reads the class big note, mapping "no note yet" to an empty
// document rather than an error.
func (h *Handlers) noteOrEmpty(ctx context.Context, t *task.Task, classID string) (any, string, *task.Task) {
	note, err := h.dal.GetBigNote(ctx, classID)
	if errors.Is(err, dal.ErrNoteNotFound) {
		return map[string]any{}, "", nil
	}
	if err != nil {
		return nil, "", failure(t, err)
	}
	return note, note.Title, nil
}

// classForMember authenticates and loads the class, requiring membership.
func (h *Handlers) classForMember(ctx context.Context, t *task.Task, token, classID string) (*dal.User, *dal.Class, *task.Task) {
	user, reply := h.authenticate(ctx, t, token)
	if reply != nil {
		return nil, nil, reply
	}
	class, err := h.dal.GetClass(ctx, classID)
	if err != nil {
		return nil, nil, failure(t, err)
	}
	if !class.HasMember(user.ID) {
		return nil, nil, t.ReplyError(http.StatusForbidden, "not a member of this class")
	}
	return user, class, nil
}

// classForOwner authenticates and loads the class, requiring ownership.
func (h *Handlers) classForOwner(ctx context.Context, t *task.Task, token, classID string) (*dal.User, *task.Task) {
	user, reply := h.authenticate(ctx, t, token)
	if reply != nil {
		return nil, reply
	}
	class, err := h.dal.GetClass(ctx, classID)
	if err != nil {
		return nil, failure(t, err)
	}
	if class.OwnerID != user.ID {
		return nil, t.ReplyError(http.StatusForbidden, "not the class owner")
	}
	return user, nil
}

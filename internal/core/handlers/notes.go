// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/task"
)

func (h *Handlers) uploadNote(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		classRequest
		NoteFile string `json:"noteFile"`
		Title    string `json:"title"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	user, class, reply := h.classForMember(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}
	if req.NoteFile == "" {
		return t.ReplyError(http.StatusBadRequest, "missing noteFile")
	}

	unit := dal.NoteUnit{Title: req.Title, Content: req.NoteFile}
	note, err := h.dal.AppendUnit(ctx, class.ID, unit)
	if err != nil {
		return failure(t, err)
	}
	h.recordHistory(ctx, class.ID, user.Username, "upload", req.Title)

	return t.Reply(map[string]any{
		"message": "note uploaded",
		"updated": note.LastUpdated,
	})
}

func (h *Handlers) editBigNote(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		classRequest
		Content string `json:"content"`
		Title   string `json:"title"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	user, class, reply := h.classForMember(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}
	if req.Content == "" {
		return t.ReplyError(http.StatusBadRequest, "missing content")
	}

	note, err := h.dal.UpsertBigNote(ctx, class.ID, req.Content, req.Title)
	if err != nil {
		return failure(t, err)
	}
	h.recordHistory(ctx, class.ID, user.Username, "edit", note.Title)

	return t.Reply(map[string]any{
		"message":     "note updated",
		"lastUpdated": note.LastUpdated,
	})
}

func (h *Handlers) bigNoteHistory(ctx context.Context, t *task.Task) *task.Task {
	var req classRequest
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	_, class, reply := h.classForMember(ctx, t, req.Token, req.ClassID)
	if reply != nil {
		return reply
	}

	history, err := h.dal.ReadHistory(ctx, class.ID)
	if err != nil {
		return failure(t, err)
	}
	return t.Reply(map[string]any{"history": history})
}

// exportBigNote validates the requested format and acknowledges. Actual
// rendering is not implemented; the endpoint exists so clients can probe
// format support.
func (h *Handlers) exportBigNote(ctx context.Context, t *task.Task) *task.Task {
	var req struct {
		classRequest
		Format string `json:"format"`
	}
	if reply := decodePayload(t, &req); reply != nil {
		return reply
	}
	if _, _, reply := h.classForMember(ctx, t, req.Token, req.ClassID); reply != nil {
		return reply
	}

	switch req.Format {
	case "PDF", "Markdown":
	default:
		return t.ReplyError(http.StatusBadRequest, "unsupported export format")
	}
	return t.Reply(map[string]string{"message": "export queued: " + req.Format})
}

// recordHistory appends a mutation log entry; log failures are reported but
// never fail the mutation that already landed.
func (h *Handlers) recordHistory(ctx context.Context, classID, username, action, title string) {
	entry := dal.HistoryEntry{
		At:     time.Now().UTC(),
		User:   username,
		Action: action,
		Title:  title,
	}
	if err := h.dal.AppendHistory(ctx, classID, entry); err != nil {
		logging.Error().Err(err).Str("class_id", classID).Msg("history append failed")
	}
}

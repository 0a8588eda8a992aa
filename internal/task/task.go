// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package task defines the Task Record exchanged between the Edge and Core
// processes, the static kind->priority table, and the binary frame codec
// used on both IPC channels.
package task

import (
	"github.com/goccy/go-json"
)

// Kind names one of the operations the Core can perform. The numeric values
// are part of the wire frame; both processes are always built from the same
// source so cross-version stability is not required.
type Kind uint64

const (
	// System / utility
	KindPing Kind = iota
	KindSysKill
	KindError

	// Auth
	KindRegister
	KindSignIn
	KindLogOut
	KindAuthRefresh
	KindAuthChangePassword

	// Classes
	KindGetClasses
	KindGetMeClasses
	KindPostMeClasses
	KindPutClass
	KindDeleteClass
	KindGetClassDetails
	KindGetClassOwner
	KindGetClassName
	KindGetClassDescription
	KindGetClassBigNote
	KindGetClassTitle

	// Notes
	KindPostUploadNote
	KindPutBigNoteEdit
	KindGetBigNoteHistory
	KindGetBigNoteExport

	kindSentinel // keep last
)

var kindNames = map[Kind]string{
	KindPing:                "PING",
	KindSysKill:             "SYSKILL",
	KindError:               "ERROR",
	KindRegister:            "REGISTER",
	KindSignIn:              "SIGN_IN",
	KindLogOut:              "LOG_OUT",
	KindAuthRefresh:         "AUTH_REFRESH",
	KindAuthChangePassword:  "AUTH_CHANGE_PASSWORD",
	KindGetClasses:          "GET_CLASSES",
	KindGetMeClasses:        "GET_ME_CLASSES",
	KindPostMeClasses:       "POST_ME_CLASSES",
	KindPutClass:            "PUT_CLASS",
	KindDeleteClass:         "DELETE_CLASS",
	KindGetClassDetails:     "GET_CLASS_DETAILS",
	KindGetClassOwner:       "GET_CLASS_OWNER",
	KindGetClassName:        "GET_CLASS_NAME",
	KindGetClassDescription: "GET_CLASS_DESCRIPTION",
	KindGetClassBigNote:     "GET_CLASS_BIGNOTE",
	KindGetClassTitle:       "GET_CLASS_TITLE",
	KindPostUploadNote:      "POST_UPLOAD_NOTE",
	KindPutBigNoteEdit:      "PUT_BIGNOTE_EDIT",
	KindGetBigNoteHistory:   "GET_BIGNOTE_HISTORY",
	KindGetBigNoteExport:    "GET_BIGNOTE_EXPORT",
}

// String returns the canonical name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether k names a known operation.
func (k Kind) Valid() bool {
	return k < kindSentinel
}

// Priority returns the static scheduling priority for the kind; lower is
// more urgent. The Core always recomputes this from the kind and ignores
// whatever the frame carried.
func (k Kind) Priority() int {
	switch k {
	case KindSysKill:
		return 1
	case KindPing:
		return 2
	case KindSignIn:
		// Logging in is time-sensitive
		return 3
	case KindRegister, KindAuthRefresh:
		return 4
	case KindLogOut, KindAuthChangePassword:
		return 5
	case KindGetClasses, KindGetMeClasses, KindPostMeClasses,
		KindGetClassDetails, KindGetClassOwner, KindGetClassName,
		KindGetClassDescription, KindGetClassBigNote, KindGetClassTitle:
		return 6
	case KindPutClass, KindDeleteClass, KindPostUploadNote:
		return 7
	case KindPutBigNoteEdit, KindGetBigNoteHistory, KindGetBigNoteExport:
		return 8
	case KindError:
		return 10
	default:
		return 10
	}
}

// Task is the fixed-shape record exchanged between Edge and Core. A record
// is owned by exactly one component at a time; ownership transfers on
// enqueue/dequeue and on channel send/read.
type Task struct {
	Kind          Kind
	CorrelationID uint64

	// WorkerID is stamped by the worker that processed the task.
	// Informational only; the Edge ignores it.
	WorkerID uint64

	// Payload is free-form JSON whose shape depends on Kind.
	Payload json.RawMessage

	// Progress and Done are reserved for partial-result streaming and are
	// not carried on the wire.
	Progress uint32
	Done     bool
}

// New creates a task of the given kind with no payload.
func New(kind Kind) *Task {
	return &Task{Kind: kind}
}

// WithPayload creates a task carrying the JSON encoding of v.
// Encoding failures are programmer errors and panic.
func WithPayload(kind Kind, v any) *Task {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("task: unencodable payload: " + err.Error())
	}
	return &Task{Kind: kind, Payload: raw}
}

// ErrorPayload is the payload shape of every ERROR reply.
type ErrorPayload struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

// NewError builds an ERROR reply for the given correlation id.
func NewError(correlationID uint64, statusCode int, message string) *Task {
	t := WithPayload(KindError, ErrorPayload{StatusCode: statusCode, Error: message})
	t.CorrelationID = correlationID
	return t
}

// Reply builds a reply of the same kind carrying the JSON encoding of v,
// echoing the request's correlation id.
func (t *Task) Reply(v any) *Task {
	r := WithPayload(t.Kind, v)
	r.CorrelationID = t.CorrelationID
	return r
}

// ReplyError builds an ERROR reply to this task.
func (t *Task) ReplyError(statusCode int, message string) *Task {
	return NewError(t.CorrelationID, statusCode, message)
}

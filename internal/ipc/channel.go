// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package ipc implements the two unidirectional byte-stream channels that
// couple the Edge and Core processes.
//
// A channel carries framed Task Records (see internal/task) over a named
// FIFO, or over an anonymous pipe when both endpoints live in one process.
// Each channel has exactly one producer and one consumer; concurrent senders
// or concurrent readers on one endpoint are undefined.
package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/folium-app/folium-server/internal/task"
)

var (
	// ErrNoWriters reports that the peer's write end is gone. Callers
	// treat it as fatal for the channel.
	ErrNoWriters = errors.New("ipc: no writers attached")

	// ErrPeerClosed reports that a send failed because the peer's read
	// end is gone.
	ErrPeerClosed = errors.New("ipc: peer closed channel")

	// ErrTimeout reports that no frame arrived within the deadline. The
	// channel remains usable.
	ErrTimeout = errors.New("ipc: read timeout")

	// ErrClosed reports use of a locally closed endpoint.
	ErrClosed = errors.New("ipc: channel closed")
)

// Sender is the write end of a channel.
type Sender struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewSender wraps an open file as the write end of a channel.
func NewSender(f *os.File) *Sender {
	return &Sender{f: f}
}

// Send writes one complete frame. It blocks until the frame is fully
// written or the peer has closed the channel.
func (s *Sender) Send(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := task.Encode(s.f, t); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		if errors.Is(err, task.ErrPayloadTooLarge) {
			// Codec rejection, not a channel fault. The frame was never
			// written and the channel stays usable.
			return err
		}
		// A write to a pipe with no readers fails with EPIPE.
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return nil
}

// Close closes the write end. The peer's next read observes end-of-stream.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// Receiver is the read end of a channel.
type Receiver struct {
	f  *os.File
	br *bufio.Reader

	// consumed counts bytes handed to the decoder, so a timed read can
	// tell a clean timeout (frame boundary) from one that fired
	// mid-frame.
	consumed int64
}

// NewReceiver wraps an open file as the read end of a channel. The file must
// be pollable (pipe or FIFO in non-blocking mode) for timed reads to work.
func NewReceiver(f *os.File) *Receiver {
	r := &Receiver{f: f}
	r.br = bufio.NewReader(readerFunc(func(p []byte) (int, error) {
		n, err := r.f.Read(p)
		r.consumed += int64(n)
		return n, err
	}))
	return r
}

type readerFunc func(p []byte) (int, error)

func (fn readerFunc) Read(p []byte) (int, error) { return fn(p) }

// Read blocks until a full frame arrives. A stream with no writers left is
// surfaced as ErrNoWriters.
func (r *Receiver) Read() (*task.Task, error) {
	if err := r.f.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("ipc: clear deadline: %w", err)
	}
	return r.decode()
}

// ReadDeadline waits up to timeout for a frame. On ErrTimeout the channel
// remains usable; a deadline that fires inside a partially received frame is
// a frame error instead, since the stream can no longer be realigned.
func (r *Receiver) ReadDeadline(timeout time.Duration) (*task.Task, error) {
	if err := r.f.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("ipc: set deadline: %w", err)
	}
	defer r.f.SetReadDeadline(time.Time{}) //nolint:errcheck // best-effort reset

	start := r.consumed
	buffered := r.br.Buffered()
	t, err := r.decode()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if r.consumed == start && buffered == 0 {
			return nil, ErrTimeout
		}
		return nil, task.ErrShortFrame
	}
	return t, err
}

func (r *Receiver) decode() (*task.Task, error) {
	t, err := task.Decode(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoWriters
		}
		if errors.Is(err, os.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return t, nil
}

// Close closes the read end.
func (r *Receiver) Close() error {
	return r.f.Close()
}

// NewPair returns connected in-process endpoints backed by an anonymous
// pipe. It satisfies the same contracts as a FIFO channel and is used by
// tests and by co-located deployments.
func NewPair() (*Sender, *Receiver, error) {
	rf, wf, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: pipe: %w", err)
	}
	return NewSender(wf), NewReceiver(rf), nil
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Conventional FIFO names under the configured IPC directory.
const (
	// RequestFifo carries Edge->Core task frames.
	RequestFifo = "folium-req.fifo"

	// ResponseFifo carries Core->Edge reply frames.
	ResponseFifo = "folium-resp.fifo"
)

// RequestPath returns the Edge->Core FIFO path under dir.
func RequestPath(dir string) string { return filepath.Join(dir, RequestFifo) }

// ResponsePath returns the Core->Edge FIFO path under dir.
func ResponsePath(dir string) string { return filepath.Join(dir, ResponseFifo) }

// CreateFifo creates the named pipe at path, accessible only to the owning
// user since both endpoints live in the same parent/child pair. Creation is
// idempotent: an existing endpoint is reused.
func CreateFifo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ipc: mkdir for fifo: %w", err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("ipc: mkfifo %s: %w", path, err)
	}
	return nil
}

// RemoveFifo unlinks the named pipe at path. Removal is best-effort.
func RemoveFifo(path string) {
	_ = os.Remove(path)
}

// OpenSender opens the write end of the FIFO at path. The open blocks until
// the peer opens its read end; ctx bounds the wait.
func OpenSender(ctx context.Context, path string) (*Sender, error) {
	f, err := openFifo(ctx, path, unix.O_WRONLY)
	if err != nil {
		return nil, err
	}
	return NewSender(f), nil
}

// OpenReceiver opens the read end of the FIFO at path. The open blocks until
// the peer opens its write end; ctx bounds the wait.
func OpenReceiver(ctx context.Context, path string) (*Receiver, error) {
	f, err := openFifo(ctx, path, unix.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return NewReceiver(f), nil
}

// openFifo performs a blocking FIFO open in a separate goroutine so the wait
// can be abandoned when ctx expires. The fd is switched to non-blocking
// after the open so the runtime poller can enforce read deadlines.
func openFifo(ctx context.Context, path string, flags int) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)

	go func() {
		fd, err := unix.Open(path, flags, 0)
		if err != nil {
			done <- result{nil, fmt.Errorf("ipc: open fifo %s: %w", path, err)}
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd) //nolint:errcheck // fd is dead either way
			done <- result{nil, fmt.Errorf("ipc: set nonblock %s: %w", path, err)}
			return
		}
		done <- result{os.NewFile(uintptr(fd), path), nil}
	}()

	select {
	case res := <-done:
		return res.f, res.err
	case <-ctx.Done():
		// The opener goroutine stays parked until a peer eventually
		// attaches; if one does, close the endpoint immediately.
		go func() {
			if res := <-done; res.f != nil {
				res.f.Close() //nolint:errcheck // abandoned endpoint
			}
		}()
		return nil, fmt.Errorf("ipc: open fifo %s: %w", path, ctx.Err())
	}
}

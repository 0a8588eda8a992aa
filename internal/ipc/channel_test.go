// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/folium-app/folium-server/internal/task"
)

func TestPair_SendAndRead(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()
	defer recv.Close()

	in := task.WithPayload(task.KindSignIn, map[string]string{"username": "alice"})
	in.CorrelationID = 9

	if err := send.Send(in); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out, err := recv.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if out.Kind != task.KindSignIn || out.CorrelationID != 9 {
		t.Errorf("frame mismatch: %+v", out)
	}
}

func TestPair_OrderingPreserved(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()
	defer recv.Close()

	for i := uint64(1); i <= 20; i++ {
		msg := task.New(task.KindPing)
		msg.CorrelationID = i
		if err := send.Send(msg); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	for i := uint64(1); i <= 20; i++ {
		out, err := recv.Read()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if out.CorrelationID != i {
			t.Fatalf("ordering violated: got %d, want %d", out.CorrelationID, i)
		}
	}
}

func TestRead_NoWritersAttached(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	if err := send.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = recv.Read()
	if !errors.Is(err, ErrNoWriters) {
		t.Errorf("expected ErrNoWriters after writer close, got %v", err)
	}
}

func TestReadDeadline_TimeoutLeavesChannelUsable(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()
	defer recv.Close()

	start := time.Now()
	_, err = recv.ReadDeadline(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("deadline fired too early: %s", elapsed)
	}

	// Channel must still deliver frames after a timeout.
	if err := send.Send(task.New(task.KindPing)); err != nil {
		t.Fatal(err)
	}
	out, err := recv.ReadDeadline(time.Second)
	if err != nil {
		t.Fatalf("read after timeout failed: %v", err)
	}
	if out.Kind != task.KindPing {
		t.Errorf("unexpected kind %s", out.Kind)
	}
}

func TestSend_PeerClosed(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()

	if err := recv.Close(); err != nil {
		t.Fatal(err)
	}

	// The first send may land in the pipe buffer before the kernel
	// reports the missing reader; retry a few times.
	var sendErr error
	for i := 0; i < 10; i++ {
		sendErr = send.Send(task.New(task.KindPing))
		if sendErr != nil {
			break
		}
	}
	if !errors.Is(sendErr, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", sendErr)
	}
}

func TestSend_OversizePayloadIsCodecError(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer send.Close()
	defer recv.Close()

	big := task.New(task.KindPutBigNoteEdit)
	big.Payload = make([]byte, task.MaxPayloadSize+1)

	sendErr := send.Send(big)
	if !errors.Is(sendErr, task.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", sendErr)
	}
	if errors.Is(sendErr, ErrPeerClosed) {
		t.Errorf("codec rejection misreported as peer closure: %v", sendErr)
	}

	// Nothing was written; the channel stays usable.
	if err := send.Send(task.New(task.KindPing)); err != nil {
		t.Fatalf("send after rejection failed: %v", err)
	}
	out, err := recv.ReadDeadline(time.Second)
	if err != nil {
		t.Fatalf("read after rejection failed: %v", err)
	}
	if out.Kind != task.KindPing {
		t.Errorf("unexpected kind %s", out.Kind)
	}
}

func TestSend_AfterLocalClose(t *testing.T) {
	send, recv, err := NewPair()
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	if err := send.Close(); err != nil {
		t.Fatal(err)
	}
	if err := send.Send(task.New(task.KindPing)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestFifo_CreateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.fifo")
	if err := CreateFifo(path); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := CreateFifo(path); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	RemoveFifo(path)
	RemoveFifo(path) // best-effort, repeat is fine
}

func TestFifo_OwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perm.fifo")
	if err := CreateFifo(path); err != nil {
		t.Fatal(err)
	}
	defer RemoveFifo(path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("fifo permissions %o, want 0600", perm)
	}
}

func TestFifo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.fifo")
	if err := CreateFifo(path); err != nil {
		t.Fatal(err)
	}
	defer RemoveFifo(path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type opened struct {
		recv *Receiver
		err  error
	}
	recvCh := make(chan opened, 1)
	go func() {
		r, err := OpenReceiver(ctx, path)
		recvCh <- opened{r, err}
	}()

	send, err := OpenSender(ctx, path)
	if err != nil {
		t.Fatalf("OpenSender failed: %v", err)
	}
	defer send.Close()

	res := <-recvCh
	if res.err != nil {
		t.Fatalf("OpenReceiver failed: %v", res.err)
	}
	defer res.recv.Close()

	msg := task.WithPayload(task.KindPing, map[string]string{"message": "pong!"})
	msg.CorrelationID = 1
	if err := send.Send(msg); err != nil {
		t.Fatalf("Send over fifo failed: %v", err)
	}

	out, err := res.recv.ReadDeadline(2 * time.Second)
	if err != nil {
		t.Fatalf("Read over fifo failed: %v", err)
	}
	if out.Kind != task.KindPing || out.CorrelationID != 1 {
		t.Errorf("frame mismatch: %+v", out)
	}
}

func TestFifo_OpenTimesOutWithoutPeer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lonely.fifo")
	if err := CreateFifo(path); err != nil {
		t.Fatal(err)
	}
	defer RemoveFifo(path)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := OpenSender(ctx, path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error opening without peer, got %v", err)
	}
}

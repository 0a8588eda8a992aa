// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package edge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/folium-app/folium-server/internal/ipc"
	"github.com/folium-app/folium-server/internal/task"
)

// fakeCore reads requests and answers them according to behave. It stands in
// for the Core process on in-process channels. A nil reply from behave
// leaves the request unanswered.
func fakeCore(t *testing.T, behave func(req *task.Task) *task.Task) (*Correlator, func()) {
	t.Helper()

	reqSend, reqRecv, err := ipc.NewPair()
	require.NoError(t, err)
	respSend, respRecv, err := ipc.NewPair()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer respSend.Close()
		for {
			req, err := reqRecv.Read()
			if err != nil {
				return
			}
			if req.Kind == task.KindSysKill {
				return
			}
			if reply := behave(req); reply != nil {
				if err := respSend.Send(reply); err != nil {
					return
				}
			}
		}
	}()

	c := NewCorrelator(reqSend, respRecv, 200*time.Millisecond)
	stop := func() {
		reqSend.Close()
		wg.Wait()
		respRecv.Close()
	}
	return c, stop
}

func pong(req *task.Task) *task.Task {
	return req.Reply(map[string]string{"message": "pong!"})
}

func TestHandshake(t *testing.T) {
	c, stop := fakeCore(t, pong)
	defer stop()

	require.NoError(t, c.Handshake(time.Second))
}

func TestHandshakeTimesOutWithoutCore(t *testing.T) {
	reqSend, _, err := ipc.NewPair()
	require.NoError(t, err)
	_, respRecv, err := ipc.NewPair()
	require.NoError(t, err)
	defer reqSend.Close()
	defer respRecv.Close()

	c := NewCorrelator(reqSend, respRecv, time.Second)
	require.Error(t, c.Handshake(100*time.Millisecond))
}

func TestRoundTrip(t *testing.T) {
	c, stop := fakeCore(t, pong)
	defer stop()
	require.NoError(t, c.Handshake(time.Second))
	go c.ReadLoop() //nolint:errcheck // exits with the fake core

	reply, err := c.RoundTrip(context.Background(), task.New(task.KindPing))
	require.NoError(t, err)
	require.Equal(t, task.KindPing, reply.Kind)
}

// Each waiter gets exactly the reply bearing its own correlation id, with
// replies arriving out of request order.
func TestCorrelationUnderConcurrency(t *testing.T) {
	c, stop := fakeCore(t, func(req *task.Task) *task.Task {
		if req.Kind == task.KindPing {
			return pong(req)
		}
		// Skew reply timing so responses interleave out of order.
		time.Sleep(time.Duration(req.CorrelationID%5) * time.Millisecond)
		return req.Reply(map[string]uint64{"echo": req.CorrelationID})
	})
	defer stop()
	require.NoError(t, c.Handshake(time.Second))
	go c.ReadLoop() //nolint:errcheck // exits with the fake core

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := c.RoundTrip(context.Background(), task.New(task.KindGetClasses))
			if err != nil {
				t.Errorf("round trip: %v", err)
				return
			}
			var out struct {
				Echo uint64 `json:"echo"`
			}
			if err := json.Unmarshal(reply.Payload, &out); err != nil {
				t.Errorf("payload: %v", err)
				return
			}
			if out.Echo != reply.CorrelationID {
				t.Errorf("got reply for %d, wanted %d", out.Echo, reply.CorrelationID)
			}
		}()
	}
	wg.Wait()
}

func TestRoundTripIDsAreUnique(t *testing.T) {
	c, stop := fakeCore(t, pong)
	defer stop()
	require.NoError(t, c.Handshake(time.Second))
	go c.ReadLoop() //nolint:errcheck // exits with the fake core

	var seen sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := c.RoundTrip(context.Background(), task.New(task.KindPing))
			if err != nil {
				t.Errorf("round trip: %v", err)
				return
			}
			if _, dup := seen.LoadOrStore(reply.CorrelationID, true); dup {
				t.Errorf("correlation id %d reused", reply.CorrelationID)
			}
		}()
	}
	wg.Wait()
}

func TestTimeoutRemovesEntryAndDiscardsLateReply(t *testing.T) {
	release := make(chan struct{})
	c, stop := fakeCore(t, func(req *task.Task) *task.Task {
		if req.Kind == task.KindPing {
			return pong(req)
		}
		<-release
		return pong(req)
	})
	defer stop()
	require.NoError(t, c.Handshake(time.Second))
	go c.ReadLoop() //nolint:errcheck // exits with the fake core

	start := time.Now()
	_, err := c.RoundTrip(context.Background(), task.New(task.KindGetClasses))
	require.ErrorIs(t, err, ErrReplyTimeout)
	require.Less(t, time.Since(start), time.Second)

	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	require.Zero(t, pending, "timed-out entry must be removed")

	// Release the late reply; the reader discards it and the correlator
	// keeps working.
	close(release)
	reply, err := c.RoundTrip(context.Background(), task.New(task.KindPing))
	require.NoError(t, err)
	require.Equal(t, task.KindPing, reply.Kind)
}

func TestClientCancellation(t *testing.T) {
	c, stop := fakeCore(t, func(req *task.Task) *task.Task {
		if req.Kind == task.KindPing {
			return pong(req)
		}
		time.Sleep(time.Second)
		return pong(req)
	})
	defer stop()
	require.NoError(t, c.Handshake(time.Second))
	go c.ReadLoop() //nolint:errcheck // exits with the fake core

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.RoundTrip(ctx, task.New(task.KindGetClasses))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCoreLossFailsWaitersAndMarksDown(t *testing.T) {
	never := make(chan struct{})
	c, stop := fakeCore(t, func(req *task.Task) *task.Task {
		if req.Kind == task.KindPing {
			return pong(req)
		}
		<-never
		return nil
	})
	require.NoError(t, c.Handshake(time.Second))

	loopDone := make(chan error, 1)
	go func() { loopDone <- c.ReadLoop() }()

	waiters := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.RoundTrip(context.Background(), task.New(task.KindSignIn))
			waiters <- err
		}()
	}
	time.Sleep(20 * time.Millisecond) // let the waiters register

	close(never)
	stop() // core goes away; response channel closes

	select {
	case err := <-loopDone:
		require.NoError(t, err, "clean close is not a loop error")
	case <-time.After(time.Second):
		t.Fatal("read loop did not exit")
	}
	require.True(t, c.Down())

	for i := 0; i < 4; i++ {
		err := <-waiters
		require.Error(t, err)
		require.True(t,
			errors.Is(err, ErrCoreDown) || errors.Is(err, ErrReplyTimeout),
			"unexpected error: %v", err)
	}

	// New round trips fail immediately.
	_, err := c.RoundTrip(context.Background(), task.New(task.KindPing))
	require.ErrorIs(t, err, ErrCoreDown)
}

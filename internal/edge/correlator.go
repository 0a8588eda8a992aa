// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package edge runs the Edge half of the pipeline: the chi HTTP router,
// the correlator that matches Core replies to waiting handlers, and the
// process lifecycle around both.
package edge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/folium-app/folium-server/internal/ipc"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/metrics"
	"github.com/folium-app/folium-server/internal/task"
)

var (
	// ErrReplyTimeout reports that the Core did not answer within the
	// request deadline. The eventual reply will be discarded.
	ErrReplyTimeout = errors.New("edge: reply timeout")

	// ErrCoreDown reports that the response channel is gone; the Edge is
	// unhealthy and no further round trips can succeed.
	ErrCoreDown = errors.New("edge: core unavailable")
)

// Correlator serializes concurrent HTTP handlers onto the single E->C
// writer and routes C->E replies back to the handler that sent the request.
type Correlator struct {
	req     *ipc.Sender   // E->C; Send is internally serialized
	resp    *ipc.Receiver // C->E; owned by the reader goroutine
	timeout time.Duration

	mu      sync.Mutex
	pending map[uint64]chan *task.Task
	nextID  uint64
	down    bool

	downCh chan struct{} // closed when the response channel is lost
}

// NewCorrelator builds a correlator over open channel endpoints. Call
// Handshake before ReadLoop.
func NewCorrelator(req *ipc.Sender, resp *ipc.Receiver, timeout time.Duration) *Correlator {
	return &Correlator{
		req:     req,
		resp:    resp,
		timeout: timeout,
		pending: make(map[uint64]chan *task.Task),
		downCh:  make(chan struct{}),
	}
}

// Handshake performs the startup PING round trip. It must complete before
// ReadLoop starts; during the handshake the caller is the only reader.
func (c *Correlator) Handshake(window time.Duration) error {
	ping := task.New(task.KindPing)
	ping.CorrelationID = c.allocateID()

	if err := c.req.Send(ping); err != nil {
		return fmt.Errorf("edge: handshake send: %w", err)
	}
	reply, err := c.resp.ReadDeadline(window)
	if err != nil {
		return fmt.Errorf("edge: handshake read: %w", err)
	}
	if reply.Kind != task.KindPing || reply.CorrelationID != ping.CorrelationID {
		return fmt.Errorf("edge: handshake got %s (correlation %d)", reply.Kind, reply.CorrelationID)
	}
	logging.Debug().Msg("handshake complete")
	return nil
}

// ReadLoop owns the C->E read end. It routes each reply to its waiter and
// discards replies whose waiter already timed out. It returns when the
// response channel closes; loss of the channel ("no writers attached")
// marks the correlator down and fails all outstanding waiters.
func (c *Correlator) ReadLoop() error {
	for {
		reply, err := c.resp.Read()
		if err != nil {
			c.fail()
			if errors.Is(err, ipc.ErrNoWriters) || errors.Is(err, ipc.ErrClosed) {
				logging.Warn().Msg("response channel closed")
				return nil
			}
			logging.Error().Err(err).Msg("response channel read failed")
			return err
		}
		c.deliver(reply)
	}
}

func (c *Correlator) deliver(reply *task.Task) {
	c.mu.Lock()
	slot, ok := c.pending[reply.CorrelationID]
	if ok {
		delete(c.pending, reply.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		// Waiter timed out or was cancelled; drop the late reply.
		metrics.CorrelatorLateReplies.Inc()
		logging.Debug().
			Uint64("correlation_id", reply.CorrelationID).
			Str("kind", reply.Kind.String()).
			Msg("late reply discarded")
		return
	}
	slot <- reply // buffered; the waiter is the sole consumer
}

// fail marks the correlator down and completes every outstanding waiter.
func (c *Correlator) fail() {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	c.pending = make(map[uint64]chan *task.Task)
	c.mu.Unlock()
	close(c.downCh)
}

// Down reports whether the response channel has been lost.
func (c *Correlator) Down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *Correlator) allocateID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// register inserts a waiting slot for a fresh correlation id.
func (c *Correlator) register() (uint64, chan *task.Task, error) {
	slot := make(chan *task.Task, 1)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return 0, nil, ErrCoreDown
	}
	c.nextID++
	c.pending[c.nextID] = slot
	return c.nextID, slot, nil
}

// deregister removes the slot on timeout or send failure. If the reader
// delivered in the meantime, the reply is in the slot and is returned.
func (c *Correlator) deregister(id uint64, slot chan *task.Task) *task.Task {
	c.mu.Lock()
	_, present := c.pending[id]
	if present {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !present {
		select {
		case reply := <-slot:
			return reply
		default:
			return nil
		}
	}
	return nil
}

// RoundTrip sends t to the Core and blocks until its reply arrives, the
// per-request deadline expires, or ctx is cancelled. The task's
// CorrelationID is assigned here.
func (c *Correlator) RoundTrip(ctx context.Context, t *task.Task) (*task.Task, error) {
	id, slot, err := c.register()
	if err != nil {
		return nil, err
	}
	t.CorrelationID = id

	metrics.CorrelatorPending.Inc()
	defer metrics.CorrelatorPending.Dec()

	if err := c.req.Send(t); err != nil {
		c.deregister(id, slot)
		return nil, fmt.Errorf("edge: ipc send failed: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-slot:
		return reply, nil

	case <-timer.C:
		if reply := c.deregister(id, slot); reply != nil {
			return reply, nil
		}
		metrics.CorrelatorTimeouts.Inc()
		return nil, ErrReplyTimeout

	case <-ctx.Done():
		// Client went away; the eventual reply is discarded by the reader.
		if reply := c.deregister(id, slot); reply != nil {
			return reply, nil
		}
		return nil, ctx.Err()

	case <-c.downCh:
		c.deregister(id, slot)
		return nil, ErrCoreDown
	}
}

// SendSysKill tells the Core to shut down. Used by the Edge stop sequence.
func (c *Correlator) SendSysKill() error {
	kill := task.New(task.KindSysKill)
	kill.CorrelationID = c.allocateID()
	return c.req.Send(kill)
}

// Close closes the E->C write end; the Core observes end-of-stream.
func (c *Correlator) Close() error {
	return c.req.Close()
}

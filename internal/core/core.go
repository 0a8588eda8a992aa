// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package core runs the Core half of the pipeline: the dispatcher loop that
// reads tasks from the request channel and applies admission control, and
// the worker pool that executes business handlers and sends replies.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/folium-app/folium-server/internal/config"
	"github.com/folium-app/folium-server/internal/core/handlers"
	"github.com/folium-app/folium-server/internal/ipc"
	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/metrics"
	"github.com/folium-app/folium-server/internal/queue"
	"github.com/folium-app/folium-server/internal/task"
)

// Core owns the task queue, the worker pool, and both channel endpoints.
type Core struct {
	workers          int
	handshakeTimeout time.Duration
	registry         map[task.Kind]handlers.Func
	queue            *queue.Queue

	req  *ipc.Receiver // E->C
	resp *ipc.Sender   // C->E

	wg sync.WaitGroup
}

// New assembles a Core over already-open channel endpoints. Queue capacity
// equals the worker count, so at most 2N tasks are in the system at once
// (N queued plus N in flight).
func New(cfg *config.Config, registry map[task.Kind]handlers.Func, req *ipc.Receiver, resp *ipc.Sender) *Core {
	return &Core{
		workers:          cfg.Core.Workers,
		handshakeTimeout: cfg.IPC.HandshakeTimeout,
		registry:         registry,
		queue:            queue.New(cfg.Core.Workers),
		req:              req,
		resp:             resp,
	}
}

// Run performs the startup handshake, starts the workers, and runs the
// dispatcher loop until SYSKILL or channel loss. On return the queue has
// been drained, all workers have exited, and the response channel is closed.
func (c *Core) Run(ctx context.Context) error {
	if err := c.handshake(); err != nil {
		c.resp.Close() //nolint:errcheck // startup failed, endpoint is dead
		return err
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, uint64(i+1))
	}
	logging.Info().Int("workers", c.workers).Msg("core serving")

	c.dispatch()

	c.queue.Shutdown()
	c.wg.Wait()
	logging.Info().Msg("core drained")
	return c.resp.Close()
}

// handshake answers the Edge's startup PING. Both channel ends are known
// open once this round trip completes.
func (c *Core) handshake() error {
	first, err := c.req.ReadDeadline(c.handshakeTimeout)
	if err != nil {
		return fmt.Errorf("core: handshake read: %w", err)
	}
	if first.Kind != task.KindPing {
		return fmt.Errorf("core: handshake expected PING, got %s", first.Kind)
	}
	if err := c.resp.Send(first.Reply(map[string]string{"message": "pong!"})); err != nil {
		return fmt.Errorf("core: handshake reply: %w", err)
	}
	logging.Debug().Msg("handshake complete")
	return nil
}

// dispatch is the single-threaded loop consuming the request channel. It
// never runs business logic; it only enqueues, drops, or observes SYSKILL.
func (c *Core) dispatch() {
	for {
		t, err := c.req.Read()
		if err != nil {
			if errors.Is(err, ipc.ErrNoWriters) {
				logging.Warn().Msg("edge closed request channel, shutting down")
			} else {
				logging.Error().Err(err).Msg("request channel read failed")
			}
			return
		}

		switch {
		case t.Kind == task.KindSysKill:
			logging.Info().Msg("SYSKILL received")
			return

		case !t.Kind.Valid():
			c.reply(task.NewError(t.CorrelationID, http.StatusBadRequest, "unknown task kind"))

		case c.queue.TryPush(t):
			metrics.TaskQueueDepth.Inc()

		default:
			// Queue at capacity: drop rather than block, so SYSKILL
			// stays observable.
			metrics.TasksDroppedTotal.Inc()
			logging.Warn().
				Str("kind", t.Kind.String()).
				Uint64("correlation_id", t.CorrelationID).
				Msg("queue full, task dropped")
			c.reply(task.NewError(t.CorrelationID, http.StatusServiceUnavailable, "server busy"))
		}
	}
}

func (c *Core) worker(ctx context.Context, id uint64) {
	defer c.wg.Done()

	for {
		t, ok := c.queue.Pop()
		if !ok {
			return
		}
		metrics.TaskQueueDepth.Dec()

		t.WorkerID = id
		reply := c.process(ctx, t)
		reply.WorkerID = id

		c.reply(reply)
	}
}

// process runs the handler for one task. Whatever the handler does, the
// caller gets a reply; a panic becomes a 500 ERROR instead of unwinding the
// worker loop.
func (c *Core) process(ctx context.Context, t *task.Task) (reply *task.Task) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("kind", t.Kind.String()).
				Interface("panic", r).
				Msg("handler panicked")
			reply = t.ReplyError(http.StatusInternalServerError, "internal server error")
		}
	}()

	fn, ok := c.registry[t.Kind]
	if !ok {
		return t.ReplyError(http.StatusBadRequest, "unsupported task kind")
	}

	start := time.Now()
	reply = fn(ctx, t)

	outcome := "ok"
	if reply.Kind == task.KindError {
		outcome = "error"
	}
	metrics.RecordTask(t.Kind.String(), outcome, time.Since(start))
	return reply
}

// reply sends on C->E. The Sender serializes concurrent workers internally.
// A reply over the frame cap is downgraded to an in-band ERROR so the waiting
// handler fails fast instead of timing out; any other send failure means the
// Edge is gone, which the dispatcher will observe on its next read.
func (c *Core) reply(t *task.Task) {
	err := c.resp.Send(t)
	if err == nil {
		return
	}

	if errors.Is(err, task.ErrPayloadTooLarge) {
		logging.Error().
			Uint64("correlation_id", t.CorrelationID).
			Int("payload_bytes", len(t.Payload)).
			Msg("reply exceeds frame cap, sending error instead")
		fallback := task.NewError(t.CorrelationID, http.StatusInternalServerError, "reply too large")
		fallback.WorkerID = t.WorkerID
		if err = c.resp.Send(fallback); err == nil {
			return
		}
	}

	logging.Error().Err(err).
		Uint64("correlation_id", t.CorrelationID).
		Msg("reply send failed")
}

// Serve opens the Core's FIFO endpoints under cfg.IPC.Dir and runs until
// shutdown. It is the entry point used by the `core` process argument.
func Serve(ctx context.Context, cfg *config.Config, registry map[task.Kind]handlers.Func) error {
	openCtx, cancel := context.WithTimeout(ctx, cfg.IPC.HandshakeTimeout)
	defer cancel()

	req, err := ipc.OpenReceiver(openCtx, ipc.RequestPath(cfg.IPC.Dir))
	if err != nil {
		return fmt.Errorf("core: open request channel: %w", err)
	}
	resp, err := ipc.OpenSender(openCtx, ipc.ResponsePath(cfg.IPC.Dir))
	if err != nil {
		req.Close() //nolint:errcheck // startup failed
		return fmt.Errorf("core: open response channel: %w", err)
	}

	defer req.Close() //nolint:errcheck // shutdown path
	return New(cfg, registry, req, resp).Run(ctx)
}

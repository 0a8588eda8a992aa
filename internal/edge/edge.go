// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package edge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/folium-app/folium-server/internal/config"
	"github.com/folium-app/folium-server/internal/ipc"
	"github.com/folium-app/folium-server/internal/logging"
)

// Server is the Edge process: the HTTP listener plus the correlator, run
// as services under one supervision tree.
type Server struct {
	cfg        *config.Config
	correlator *Correlator
}

// NewServer wires the Edge over an already-handshaken correlator.
func NewServer(cfg *config.Config, correlator *Correlator) *Server {
	return &Server{cfg: cfg, correlator: correlator}
}

// Connect creates both FIFOs, opens the Edge's channel ends, and performs
// the startup handshake. Failure within the handshake window is fatal.
func Connect(ctx context.Context, cfg *config.Config) (*Correlator, error) {
	reqPath := ipc.RequestPath(cfg.IPC.Dir)
	respPath := ipc.ResponsePath(cfg.IPC.Dir)

	if err := ipc.CreateFifo(reqPath); err != nil {
		return nil, err
	}
	if err := ipc.CreateFifo(respPath); err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, cfg.IPC.HandshakeTimeout)
	defer cancel()

	req, err := ipc.OpenSender(openCtx, reqPath)
	if err != nil {
		return nil, fmt.Errorf("edge: open request channel: %w", err)
	}
	resp, err := ipc.OpenReceiver(openCtx, respPath)
	if err != nil {
		req.Close() //nolint:errcheck // startup failed
		return nil, fmt.Errorf("edge: open response channel: %w", err)
	}

	c := NewCorrelator(req, resp, cfg.Server.RequestTimeout)
	if err := c.Handshake(cfg.IPC.HandshakeTimeout); err != nil {
		c.Close() //nolint:errcheck // startup failed
		return nil, err
	}
	return c, nil
}

// Run serves until ctx is cancelled or the Core disappears. Shutdown order
// matters: the HTTP listener drains first so in-flight handlers still get
// their replies, then the reader sends SYSKILL and waits for the Core to
// close its end. Suture cancels all services concurrently on stop, so the
// ordering is coordinated explicitly through a drain signal rather than by
// service position in the tree.
func (s *Server) Run(ctx context.Context) error {
	hook := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	sup := suture.New("folium-edge", suture.Spec{
		EventHook: hook.MustHook(),
	})

	drained := newDrainSignal()
	sup.Add(&httpService{cfg: &s.cfg.Server, handler: s.router(), drained: drained})
	sup.Add(&readerService{
		correlator:  s.correlator,
		httpDrained: drained.ch,
		drainWait:   s.cfg.Server.ShutdownTimeout + time.Second,
	})

	err := sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// drainSignal announces, at most once, that the HTTP listener has finished
// draining. Idempotent so a supervisor-restarted listener cannot re-close it.
type drainSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newDrainSignal() *drainSignal { return &drainSignal{ch: make(chan struct{})} }

func (d *drainSignal) signal() { d.once.Do(func() { close(d.ch) }) }

// readerService runs the correlator read loop as a suture service.
type readerService struct {
	correlator  *Correlator
	httpDrained <-chan struct{}
	drainWait   time.Duration
}

func (r *readerService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- r.correlator.ReadLoop() }()

	select {
	case err := <-done:
		// Losing the response channel while serving takes the whole
		// Edge down; restarting the reader cannot resurrect the Core.
		logging.Error().Err(err).Msg("correlator reader stopped")
		return suture.ErrTerminateSupervisorTree

	case <-ctx.Done():
		// Hold SYSKILL until the listener has drained: a handler whose
		// round trip starts after SYSKILL is consumed can never succeed.
		select {
		case <-r.httpDrained:
		case <-time.After(r.drainWait):
			logging.Warn().Msg("http drain signal overdue, proceeding with SYSKILL")
		}
		if err := r.correlator.SendSysKill(); err != nil {
			logging.Warn().Err(err).Msg("SYSKILL send failed")
		}
		select {
		case <-done:
			// Core drained and closed its end.
		case <-time.After(5 * time.Second):
			logging.Warn().Msg("core did not close the response channel in time")
		}
		r.correlator.Close() //nolint:errcheck // shutdown path
		return ctx.Err()
	}
}

func (r *readerService) String() string { return "correlator-reader" }

// httpService runs the HTTP listener as a suture service. It reports through
// drained once no in-flight handlers remain.
type httpService struct {
	cfg     *config.ServerConfig
	handler http.Handler
	drained *drainSignal
}

func (h *httpService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(h.cfg.Host, fmt.Sprintf("%d", h.cfg.Port)),
		Handler:      h.handler,
		ReadTimeout:  h.cfg.ReadTimeout,
		WriteTimeout: h.cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("edge: listen %s: %w", srv.Addr, err)
	}
	logging.Info().Str("addr", srv.Addr).Msg("http listening")

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	select {
	case err := <-done:
		h.drained.signal()
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http shutdown incomplete")
		}
		h.drained.signal()
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-listener" }

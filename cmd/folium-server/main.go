// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Command folium-server runs the collaborative note server.
//
// Invoked with no arguments it runs the Edge process: it spawns its own
// binary again with the `core` argument as the Core child process, performs
// the startup handshake over the two named FIFOs, and serves HTTP. Invoked
// as `folium-server core` it runs the Core: the dispatcher loop, the worker
// pool, and the Data Access Port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/folium-app/folium-server/internal/auth"
	"github.com/folium-app/folium-server/internal/config"
	"github.com/folium-app/folium-server/internal/core"
	"github.com/folium-app/folium-server/internal/core/handlers"
	"github.com/folium-app/folium-server/internal/dal"
	"github.com/folium-app/folium-server/internal/edge"
	"github.com/folium-app/folium-server/internal/ipc"
	"github.com/folium-app/folium-server/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "core" {
		os.Exit(runCore())
	}
	os.Exit(runEdge())
}

func loadConfig(process string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.SetLogger(logging.With().Str("process", process).Logger())
	return cfg, nil
}

// runEdge is the parent process: HTTP listener, correlator, and the Core
// child's lifecycle.
func runEdge() int {
	cfg, err := loadConfig("edge")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Both FIFOs must exist before the child tries to open them.
	reqPath := ipc.RequestPath(cfg.IPC.Dir)
	respPath := ipc.ResponsePath(cfg.IPC.Dir)
	if err := ipc.CreateFifo(reqPath); err != nil {
		logging.Error().Err(err).Msg("create request fifo")
		return 1
	}
	if err := ipc.CreateFifo(respPath); err != nil {
		logging.Error().Err(err).Msg("create response fifo")
		return 1
	}
	defer ipc.RemoveFifo(reqPath)
	defer ipc.RemoveFifo(respPath)

	child, err := spawnCore()
	if err != nil {
		logging.Error().Err(err).Msg("spawn core")
		return 1
	}

	correlator, err := edge.Connect(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("edge startup failed")
		_ = child.Process.Kill()
		_ = child.Wait()
		return 1
	}
	logging.Info().Int("core_pid", child.Process.Pid).Msg("pipeline established")

	srv := edge.NewServer(cfg, correlator)
	runErr := srv.Run(ctx)

	// The stop sequence inside Run already sent SYSKILL; give the child a
	// moment to drain before escalating.
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()
	select {
	case err := <-exited:
		if err != nil {
			logging.Warn().Err(err).Msg("core exited with error")
		}
	case <-time.After(cfg.Server.ShutdownTimeout):
		logging.Warn().Msg("core did not exit, killing")
		_ = child.Process.Kill()
		<-exited
	}

	if runErr != nil {
		logging.Error().Err(runErr).Msg("edge stopped with error")
		return 1
	}
	logging.Info().Msg("edge stopped")
	return 0
}

// spawnCore re-execs this binary as the Core child with the same
// environment, so both halves load identical configuration.
func spawnCore() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, "core")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start core: %w", err)
	}
	return cmd, nil
}

// runCore is the child process: Data Access Port, dispatcher, worker pool.
func runCore() int {
	cfg, err := loadConfig("core")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// The Edge drives shutdown through SYSKILL; signals are handled anyway
	// so a stray SIGTERM still drains cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := dal.Open(&cfg.Storage)
	if err != nil {
		logging.Error().Err(err).Msg("open data store")
		return 1
	}
	defer store.Close() //nolint:errcheck // process exit path

	var revoker auth.Revoker
	if cfg.Security.RevokeOnLogout {
		revoker = auth.NewBadgerRevoker(store.DB())
	}
	tokens := auth.NewManager(&cfg.Security, revoker)
	registry := handlers.New(store, tokens, &cfg.Security).Registry()

	if err := core.Serve(ctx, cfg, registry); err != nil {
		logging.Error().Err(err).Msg("core stopped with error")
		return 1
	}
	logging.Info().Msg("core stopped")
	return 0
}

// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package config loads the layered server configuration shared by the Edge
// and Core processes.
//
// Configuration is loaded via Koanf v2 with layered sources, highest
// priority last:
//
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables with the FOLIUM_ prefix
//
// The Core child process receives the exact same environment as the Edge, so
// both halves always agree on the IPC layout and timeouts.
package config

import "time"

// Config is the root configuration for both processes.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	IPC      IPCConfig      `koanf:"ipc"`
	Core     CoreConfig     `koanf:"core"`
	Security SecurityConfig `koanf:"security"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the Edge HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// RequestTimeout bounds how long an HTTP handler waits for the Core's
	// reply before answering 504.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs/RateLimitWindow bound requests per client IP on the
	// auth endpoints.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// IPCConfig configures the two FIFO channels between Edge and Core.
type IPCConfig struct {
	// Dir is the directory holding the two named pipes.
	Dir string `koanf:"dir"`

	// HandshakeTimeout is the startup window within which the PING/PING
	// exchange must complete; exceeding it is a fatal startup error.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

// CoreConfig configures the Core worker pool. The task queue capacity always
// equals Workers.
type CoreConfig struct {
	Workers int `koanf:"workers"`
}

// SecurityConfig configures authentication.
type SecurityConfig struct {
	// JWTSecret signs access tokens; minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	TokenTTL time.Duration `koanf:"token_ttl"`

	// RefreshGrace is how long past expiry a token is still accepted by
	// the refresh endpoint.
	RefreshGrace time.Duration `koanf:"refresh_grace"`

	BcryptCost int `koanf:"bcrypt_cost"`

	// RevokeOnLogout makes LOG_OUT record the token in a server-side
	// revocation list; when false logout is acknowledged client-side only.
	RevokeOnLogout bool `koanf:"revoke_on_logout"`
}

// StorageConfig configures the Data Access Port's backing stores.
type StorageConfig struct {
	// DataDir holds the badger database (users, classes, note metadata).
	DataDir string `koanf:"data_dir"`

	// NotesDir holds the per-class big-note JSON documents.
	NotesDir string `koanf:"notes_dir"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults without consulting a config file or
// the environment. Tests use it as a baseline.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            50105,
			RequestTimeout:  5 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   30,
			RateLimitWindow: time.Minute,
		},
		IPC: IPCConfig{
			Dir:              "/tmp/folium",
			HandshakeTimeout: 10 * time.Second,
		},
		Core: CoreConfig{
			Workers: 4,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			TokenTTL:       24 * time.Hour,
			RefreshGrace:   time.Hour,
			BcryptCost:     10,
			RevokeOnLogout: false,
		},
		Storage: StorageConfig{
			DataDir:  "/data/folium",
			NotesDir: "/data/folium/notes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

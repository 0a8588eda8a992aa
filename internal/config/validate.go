// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package config

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// minJWTSecretLength is the minimum accepted signing secret length.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid.
// A validation failure is a fatal startup error for both processes.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateIPC(); err != nil {
		return err
	}
	if err := c.validateCore(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("FOLIUM_SERVER_PORT must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("FOLIUM_SERVER_REQUEST_TIMEOUT must be positive, got %s", c.Server.RequestTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("FOLIUM_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	return nil
}

func (c *Config) validateIPC() error {
	if c.IPC.Dir == "" {
		return fmt.Errorf("FOLIUM_IPC_DIR is required")
	}
	if c.IPC.HandshakeTimeout <= 0 {
		return fmt.Errorf("FOLIUM_IPC_HANDSHAKE_TIMEOUT must be positive, got %s", c.IPC.HandshakeTimeout)
	}
	return nil
}

func (c *Config) validateCore() error {
	if c.Core.Workers < 1 {
		return fmt.Errorf("FOLIUM_CORE_WORKERS must be at least 1, got %d", c.Core.Workers)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("FOLIUM_SECURITY_JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("FOLIUM_SECURITY_TOKEN_TTL must be positive, got %s", c.Security.TokenTTL)
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("FOLIUM_SECURITY_BCRYPT_COST must be %d-%d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("FOLIUM_LOGGING_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

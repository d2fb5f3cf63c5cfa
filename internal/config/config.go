// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the server configuration from a YAML file with
// environment variable overrides. Environment variables use the PASSKEY_
// prefix and always win over file values, so containerized deployments can
// ship one config file and vary secrets per environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	Session  SessionConfig  `yaml:"session"`
	Storage  StorageConfig  `yaml:"storage"`
	Token    TokenConfig    `yaml:"token"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WebAuthnConfig contains the relying party settings
type WebAuthnConfig struct {
	RPID             string        `yaml:"rp_id"`
	RPDisplayName    string        `yaml:"rp_name"`
	Origins          []string      `yaml:"origins"`
	Timeout          time.Duration `yaml:"timeout"`
	UserVerification string        `yaml:"user_verification"`
	Attestation      string        `yaml:"attestation"`
	ResidentKey      string        `yaml:"resident_key"`
}

// SessionConfig controls the cookie session carrier
type SessionConfig struct {
	// Secret signs and encrypts session cookies. Required.
	Secret string `yaml:"secret"`
	// Secure marks cookies HTTPS-only.
	Secure bool `yaml:"secure"`
	// MaxAge is the session lifetime in seconds.
	MaxAge int `yaml:"max_age"`
}

// StorageConfig controls the credential store backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

// TokenConfig controls optional API token issuance after login
type TokenConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// MetricsConfig controls Prometheus metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		WebAuthn: WebAuthnConfig{
			RPID:          "localhost",
			RPDisplayName: "go-passkey",
			Origins:       []string{"http://localhost:8080"},
		},
		Session: SessionConfig{
			MaxAge: 86400,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "data/passkey.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path loads defaults plus environment
// overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("PASSKEY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.WebAuthn.RPID = rpID
	}
	if rpName := os.Getenv("PASSKEY_RP_NAME"); rpName != "" {
		cfg.WebAuthn.RPDisplayName = rpName
	}
	if origin := os.Getenv("PASSKEY_ORIGIN"); origin != "" {
		cfg.WebAuthn.Origins = []string{origin}
	}

	// Session
	if secret := os.Getenv("PASSKEY_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	// Storage
	if driver := os.Getenv("PASSKEY_DB_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dsn := os.Getenv("PASSKEY_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	// Token issuance
	if secret := os.Getenv("PASSKEY_TOKEN_SECRET"); secret != "" {
		cfg.Token.Secret = secret
		cfg.Token.Enabled = true
	}
}

// Validate checks the configuration for missing or contradictory settings.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("webauthn rp_id is required")
	}
	if len(c.WebAuthn.Origins) == 0 {
		return fmt.Errorf("webauthn origins are required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required (set PASSKEY_SESSION_SECRET)")
	}
	if c.Token.Enabled && c.Token.Secret == "" {
		return fmt.Errorf("token secret is required when token issuance is enabled")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	return nil
}

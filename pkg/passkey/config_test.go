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

package passkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing rp id", func(c *Config) { c.RPID = "" }, true},
		{"missing display name", func(c *Config) { c.RPDisplayName = "" }, true},
		{"missing origins", func(c *Config) { c.RPOrigins = nil }, true},
		{"bad user verification", func(c *Config) { c.UserVerification = "always" }, true},
		{"bad attestation", func(c *Config) { c.AttestationPreference = "full" }, true},
		{"bad resident key", func(c *Config) { c.ResidentKeyRequirement = "maybe" }, true},
		{"explicit valid options", func(c *Config) {
			c.UserVerification = "preferred"
			c.AttestationPreference = "direct"
			c.ResidentKeyRequirement = "required"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.SetDefaults()

	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "required", cfg.UserVerification)
	assert.Equal(t, "none", cfg.AttestationPreference)
	assert.Equal(t, "preferred", cfg.ResidentKeyRequirement)
}

func TestConfigSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = 30 * time.Second
	cfg.UserVerification = "discouraged"
	cfg.SetDefaults()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "discouraged", cfg.UserVerification)
}

func TestNewEngineRequiresValidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.SetDefaults()

	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

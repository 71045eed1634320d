// Package config loads and watches the daemon configuration. JSON and
// YAML are both accepted; YAML is coerced to JSON so one strict decoder
// (DisallowUnknownFields) covers both formats.
package config

import (
	"fmt"
	"strings"
	"time"
)

const DefaultTimezone = "America/Sao_Paulo"

type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Delivery DeliveryConfig `json:"delivery"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Engine   EngineConfig   `json:"engine"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default ":3000"
	// StaticDir serves the dashboard when set.
	StaticDir string `json:"static_dir,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeliveryConfig describes the status gateway and the fixed target set.
//
// All durations are Go duration strings (e.g. "500ms", "15s").
type DeliveryConfig struct {
	BaseURL string `json:"base_url"`
	// APIKey may be left empty and provided via the GATEWAY_API_KEY
	// environment variable instead (never log it).
	APIKey  string   `json:"api_key,omitempty"`
	Targets []string `json:"targets"`
	Timeout string   `json:"timeout,omitempty"`
	// Mode is "concurrent" (default) or "serial".
	Mode        string `json:"mode,omitempty"`
	SerialDelay string `json:"serial_delay,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./statusloop_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type EngineConfig struct {
	// Timezone is the civil timezone every schedule decision runs in.
	Timezone  string `json:"timezone,omitempty"` // default America/Sao_Paulo
	SaveEvery string `json:"save_every,omitempty"`
}

// Validate rejects configs that cannot possibly run. Called before a
// reload is committed, so a bad edit never reaches the services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Delivery.BaseURL) == "" {
		return fmt.Errorf("delivery.base_url is required")
	}
	if len(cfg.Delivery.Targets) == 0 {
		return fmt.Errorf("delivery.targets must name at least one instance")
	}
	switch cfg.Delivery.Mode {
	case "", "concurrent", "serial":
	default:
		return fmt.Errorf("delivery.mode: unknown mode %q", cfg.Delivery.Mode)
	}
	if _, err := ParseDurationField("delivery.timeout", cfg.Delivery.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("delivery.serial_delay", cfg.Delivery.SerialDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.save_every", cfg.Engine.SaveEvery); err != nil {
		return err
	}
	if cfg.Storage != nil {
		switch cfg.Storage.Driver {
		case "", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: %w", err)
		}
	}
	return nil
}

// Timezone returns the configured timezone or the default.
func (c *Config) Timezone() string {
	if tz := strings.TrimSpace(c.Engine.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

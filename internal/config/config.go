// Package config loads the toolproxyd daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all toolproxyd configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Ports      PortsConfig      `json:"ports"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Refresh    RefreshConfig    `json:"refresh"`
	Store      StoreConfig      `json:"store"`
	Logs       LogsConfig       `json:"logs"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`
}

// PortsConfig is the closed range tool proxy ports are leased from.
type PortsConfig struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type SupervisorConfig struct {
	GracePeriodMs int64 `json:"gracePeriodMs"`
	StopTimeoutMs int64 `json:"stopTimeoutMs"`
	KillTimeoutMs int64 `json:"killTimeoutMs"`
	MaxParallel   int   `json:"maxParallel"`
}

type RefreshConfig struct {
	Auto       bool   `json:"auto"`
	Kind       string `json:"kind"` // "interval" or "cron"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Cron       string `json:"cron,omitempty"`
}

// StoreConfig selects the configuration source.
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" or "file"
	Path   string `json:"path"`
}

type LogsConfig struct {
	BufferLines int `json:"bufferLines"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8090,
			LogLevel: "info",
		},
		Ports: PortsConfig{
			Min: 10001,
			Max: 10999,
		},
		Supervisor: SupervisorConfig{
			GracePeriodMs: 500,
			StopTimeoutMs: 10000,
			KillTimeoutMs: 5000,
			MaxParallel:   4,
		},
		Refresh: RefreshConfig{
			Auto:       true,
			Kind:       "interval",
			IntervalMs: 10 * 60 * 1000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "toolproxyd.db",
		},
		Logs: LogsConfig{
			BufferLines: 512,
		},
	}
}

// Load reads the config file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Ports.Min <= 0 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("config: invalid port range %d-%d", c.Ports.Min, c.Ports.Max)
	}
	switch c.Store.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store path required")
	}
	if c.Refresh.Auto {
		switch c.Refresh.Kind {
		case "interval":
			if c.Refresh.IntervalMs <= 0 {
				return fmt.Errorf("config: refresh interval must be positive")
			}
		case "cron":
			if c.Refresh.Cron == "" {
				return fmt.Errorf("config: refresh cron expression required")
			}
		default:
			return fmt.Errorf("config: unknown refresh kind %q", c.Refresh.Kind)
		}
	}
	return nil
}

// GracePeriod returns the supervisor grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Supervisor.GracePeriodMs) * time.Millisecond
}

// StopTimeout returns the cooperative-shutdown timeout as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Supervisor.StopTimeoutMs) * time.Millisecond
}

// KillTimeout returns the post-kill reap timeout as a duration.
func (c *Config) KillTimeout() time.Duration {
	return time.Duration(c.Supervisor.KillTimeoutMs) * time.Millisecond
}

// RefreshInterval returns the auto-refresh interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMs) * time.Millisecond
}

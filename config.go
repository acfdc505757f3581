// Package proxycache ties together the cache, proxy loop, admin surface,
// TLS interception, and host filter into one runnable process, the way
// the teacher's root caddy package composes its own subsystems around a
// Config value (see caddy.go, admin.go).
package proxycache

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every knob named in SPEC_FULL.md §3: listen port, cache
// sizing, the inactivity threshold, TLS interception toggle and CA
// material, the optional host filter file, and the optional admin
// listener address. It is loaded from an optional TOML file and then
// overridden by CLI flags, flags always winning (mirrors caddy's
// file-config-then-flag-override convention).
type Config struct {
	Port              int
	CacheCapacity     int
	DefaultMaxAge     time.Duration
	InactivityTimeout time.Duration
	Intercept         bool
	CACertPath        string
	CAKeyPath         string
	FilterFile        string
	AdminAddr         string
}

// DefaultConfig matches the original implementation's CACHE_SZ (10),
// default max-age (3600 s), and inactivity threshold (300 s).
func DefaultConfig() Config {
	return Config{
		Port:              8080,
		CacheCapacity:     10,
		DefaultMaxAge:     3600 * time.Second,
		InactivityTimeout: 300 * time.Second,
	}
}

// fileConfig is the TOML-decodable shape; BurntSushi/toml has no native
// time.Duration support, so durations round-trip as plain integer seconds
// here and are converted into Config's time.Duration fields by LoadConfig.
type fileConfig struct {
	Port                     int    `toml:"port"`
	CacheCapacity            int    `toml:"cache_capacity"`
	DefaultMaxAgeSeconds     int    `toml:"default_max_age_seconds"`
	InactivityTimeoutSeconds int    `toml:"inactivity_timeout_seconds"`
	Intercept                bool   `toml:"intercept"`
	CACertPath               string `toml:"ca_cert_path"`
	CAKeyPath                string `toml:"ca_key_path"`
	FilterFile               string `toml:"filter_file"`
	AdminAddr                string `toml:"admin_addr"`
}

// LoadConfig starts from DefaultConfig and applies the TOML file at path,
// if path is non-empty. An empty path is not an error: the defaults stand
// alone for a minimal `proxycache run --port N` invocation. A non-empty
// path naming a file that does not exist is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("proxycache: reading config %s: %w", path, err)
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("proxycache: parsing config %s: %w", path, err)
	}

	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.CacheCapacity != 0 {
		cfg.CacheCapacity = fc.CacheCapacity
	}
	if fc.DefaultMaxAgeSeconds != 0 {
		cfg.DefaultMaxAge = time.Duration(fc.DefaultMaxAgeSeconds) * time.Second
	}
	if fc.InactivityTimeoutSeconds != 0 {
		cfg.InactivityTimeout = time.Duration(fc.InactivityTimeoutSeconds) * time.Second
	}
	cfg.Intercept = fc.Intercept
	cfg.CACertPath = fc.CACertPath
	cfg.CAKeyPath = fc.CAKeyPath
	cfg.FilterFile = fc.FilterFile
	cfg.AdminAddr = fc.AdminAddr

	return cfg, nil
}

// Validate enforces the CLI contract's port range (spec §6: "Port must be
// 1..65535") and that interception always ships with both halves of a CA.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("proxycache: port %d out of range 1..65535", c.Port)
	}
	if c.Intercept && (c.CACertPath == "" || c.CAKeyPath == "") {
		return fmt.Errorf("proxycache: interception enabled but ca_cert_path/ca_key_path not set")
	}
	return nil
}

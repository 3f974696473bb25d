package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// LocatorTimeoutMS bounds a single async-factory probe in the service
	// locator, in milliseconds.
	LocatorTimeoutMS int `json:"locator_timeout_ms"`

	// LocatorMaxRetries is the number of full strategy-chain retries the
	// locator performs after the first failed attempt.
	LocatorMaxRetries int `json:"locator_max_retries"`

	// LocatorRetryDelayMS is the fixed delay between locator retries.
	LocatorRetryDelayMS int `json:"locator_retry_delay_ms"`

	// LocatorFailureTTLMS is how long a failed resolution is cached so
	// repeated callers during startup do not each pay full retry cost.
	LocatorFailureTTLMS int `json:"locator_failure_ttl_ms"`

	// LocatorFallback controls logging on resolution failure: "fail" logs
	// at error level, "warn" at warn level, "silent" not at all. The
	// returned result is identical in all three modes.
	LocatorFallback string `json:"locator_fallback,omitempty"`

	// ActiveFileCap limits how many active files a restored context carries.
	ActiveFileCap int `json:"active_file_cap"`

	// RecentTraceCap limits how many recent traces a restored context carries.
	RecentTraceCap int `json:"recent_trace_cap"`

	// TracePreviewChars is the truncation length for trace content in
	// restored contexts (runes, not bytes).
	TracePreviewChars int `json:"trace_preview_chars"`

	// TraceBackfill is how many of a session's most recent traces a state
	// save copies into the snapshot when the caller supplied none.
	TraceBackfill int `json:"trace_backfill"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// WebBind is the interface the browse UI binds to.
	WebBind string `json:"web_bind,omitempty"`

	// WebPort is the port for the browse UI.
	WebPort int `json:"web_port,omitempty"`
}

// Fallback behaviors accepted in LocatorFallback.
const (
	FallbackFail   = "fail"
	FallbackWarn   = "warn"
	FallbackSilent = "silent"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LocatorTimeoutMS:    4000,
		LocatorMaxRetries:   3,
		LocatorRetryDelayMS: 500,
		LocatorFailureTTLMS: 10000,
		LocatorFallback:     FallbackWarn,
		ActiveFileCap:       20,
		RecentTraceCap:      5,
		TracePreviewChars:   150,
		TraceBackfill:       10,
		WebBind:             "127.0.0.1",
		WebPort:             7621,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.loam.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.LocatorTimeoutMS = pickInt(base.LocatorTimeoutMS, overlay.LocatorTimeoutMS)
	result.LocatorMaxRetries = pickInt(base.LocatorMaxRetries, overlay.LocatorMaxRetries)
	result.LocatorRetryDelayMS = pickInt(base.LocatorRetryDelayMS, overlay.LocatorRetryDelayMS)
	result.LocatorFailureTTLMS = pickInt(base.LocatorFailureTTLMS, overlay.LocatorFailureTTLMS)
	result.ActiveFileCap = pickInt(base.ActiveFileCap, overlay.ActiveFileCap)
	result.RecentTraceCap = pickInt(base.RecentTraceCap, overlay.RecentTraceCap)
	result.TracePreviewChars = pickInt(base.TracePreviewChars, overlay.TracePreviewChars)
	result.TraceBackfill = pickInt(base.TraceBackfill, overlay.TraceBackfill)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)
	result.WebPort = pickInt(base.WebPort, overlay.WebPort)

	result.LocatorFallback = pickString(base.LocatorFallback, overlay.LocatorFallback)
	result.WebBind = pickString(base.WebBind, overlay.WebBind)

	return result
}

// Validate checks enum-valued fields after load/merge.
func (c *Config) Validate() error {
	switch c.LocatorFallback {
	case FallbackFail, FallbackWarn, FallbackSilent:
		return nil
	default:
		return errors.New("locator_fallback must be one of: fail, warn, silent")
	}
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(base, overlay string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Rotation RotationConfig `json:"rotation"`
	Archive  ArchiveConfig  `json:"archive"`
	Web      WebConfig      `json:"web"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage controls the optional run-history store.
	// If omitted, history recording is disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Plugins maps dashboard names to their render commands.
	// Names absent from this map resolve to the convention command
	// "dash-<name>" looked up on PATH.
	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

// RotationConfig controls the dashboard rotation loop.
//
// All durations are Go duration strings (e.g. "90s", "2m").
//
// Defaults (when fields are omitted/zero):
//   - cycle: ["comic", "weather"]
//   - interval: "120s"
//   - timeout: "90s"
//   - current_dir: "./current"
//
// The environment variables ROTATE_SECONDS, DASH_TIMEOUT and DASH_CYCLE
// override these fields (integer seconds / comma-separated names); see
// ApplyEnv.
type RotationConfig struct {
	Cycle []string `json:"cycle,omitempty"`

	// Interval is the sleep between rotation ticks.
	Interval string `json:"interval,omitempty"`

	// Timeout bounds a single plugin execution. On expiry the plugin
	// process is killed and the previous artifact is kept.
	Timeout string `json:"timeout,omitempty"`

	// CurrentDir holds the per-plugin current artifacts (<name>.png).
	CurrentDir string `json:"current_dir,omitempty"`
}

// ArchiveConfig controls the daily snapshot archive.
//
// Defaults (when fields are omitted/zero):
//   - dir: "./archive"
//   - retention_days: 90
//   - schedule: "0 1 * * *" (daily at 01:00)
//   - cleanup_schedule: "0 */6 * * *"
//
// Enabled only gates the in-daemon schedule; the standalone archive
// command ignores it.
type ArchiveConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`

	// Schedule and CleanupSchedule are cron specs (robfig/cron, optional
	// seconds field).
	Schedule        string `json:"schedule,omitempty"`
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`

	// Timezone is an IANA TZ name for the cron triggers, e.g. "Europe/Berlin".
	Timezone string `json:"timezone,omitempty"`
}

// WebConfig controls the browsing/status HTTP interface. Off by
// default: the daemon is usually headless and the display is the only
// consumer of the artifacts.
//
// When enabled, the server exposes current dashboard images, archive
// browsing, run history, and a manual advance trigger under /api.
type WebConfig struct {
	Enabled bool `json:"enabled"`

	// Listen is the host:port to bind, default ":5000".
	Listen string `json:"listen,omitempty"`
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

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./inkdash.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	HistorySize int    `json:"history_size,omitempty"` // file driver compaction bound
}

type PluginConfigRaw struct {
	// Enabled defaults to true when omitted; an explicit false skips the
	// plugin even when its name appears in the cycle.
	Enabled *bool `json:"enabled,omitempty"`

	// Command is the argv used to render this dashboard. The process
	// must write its image to the path given in $DASH_OUTPUT and exit 0.
	Command []string `json:"command,omitempty"`
}

// IsEnabled resolves the tri-state Enabled field.
func (p PluginConfigRaw) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// UnmarshalJSON disallows unknown fields so removed legacy keys are
// caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled *bool    `json:"enabled,omitempty"`
		Command []string `json:"command,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Command: t.Command}
	return nil
}

// Default returns the configuration used when no config file is given.
// It matches the documented environment-only deployment.
func Default() *Config {
	return &Config{
		Rotation: RotationConfig{
			Cycle:      []string{"comic", "weather"},
			Interval:   "120s",
			Timeout:    "90s",
			CurrentDir: "./current",
		},
		Archive: ArchiveConfig{
			Enabled:         true,
			Dir:             "./archive",
			RetentionDays:   90,
			Schedule:        "0 1 * * *",
			CleanupSchedule: "0 */6 * * *",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides. These are the legacy operator-facing knobs and
// always beat the config file:
//
//	ROTATE_SECONDS          seconds between rotation ticks
//	DASH_TIMEOUT            seconds before a plugin run is killed
//	DASH_CYCLE              comma-separated ordered dashboard names
//	ARCHIVE_RETENTION_DAYS  days of archive history to keep
const (
	EnvRotateSeconds = "ROTATE_SECONDS"
	EnvDashTimeout   = "DASH_TIMEOUT"
	EnvDashCycle     = "DASH_CYCLE"
	EnvRetentionDays = "ARCHIVE_RETENTION_DAYS"
)

// ApplyEnv folds environment overrides into cfg. Malformed values are
// configuration errors, not silent fallbacks.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if v, ok := lookup(EnvRotateSeconds); ok {
		n, err := parseSeconds(EnvRotateSeconds, v)
		if err != nil {
			return err
		}
		cfg.Rotation.Interval = fmt.Sprintf("%ds", n)
	}
	if v, ok := lookup(EnvDashTimeout); ok {
		n, err := parseSeconds(EnvDashTimeout, v)
		if err != nil {
			return err
		}
		cfg.Rotation.Timeout = fmt.Sprintf("%ds", n)
	}
	if v, ok := lookup(EnvDashCycle); ok {
		cycle := SplitCycle(v)
		if len(cycle) == 0 {
			return fmt.Errorf("%s: no dashboard names in %q", EnvDashCycle, v)
		}
		cfg.Rotation.Cycle = cycle
	}
	if v, ok := lookup(EnvRetentionDays); ok {
		// Retention must be at least one day. A RetentionDays of zero in
		// the merged config means "unset" and resolves to the default, so
		// accepting 0 here would silently turn into 90 days.
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return fmt.Errorf("%s: invalid day count %q (must be >= 1)", EnvRetentionDays, v)
		}
		cfg.Archive.RetentionDays = n
	}
	return nil
}

// SplitCycle parses a DASH_CYCLE value into normalized dashboard names.
func SplitCycle(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func parseSeconds(key, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: invalid second count %q", key, raw)
	}
	return n, nil
}

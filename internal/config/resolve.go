package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

// Plugin is a resolved cycle entry: a dashboard name plus the argv that
// renders it.
type Plugin struct {
	Name    string
	Command []string
}

// Rotation is the resolved, validated rotation configuration consumed by
// the rotator.
type Rotation struct {
	Order      []Plugin
	Interval   time.Duration
	Timeout    time.Duration
	CurrentDir string
}

// Archive is the resolved archive configuration.
type Archive struct {
	Enabled         bool
	Dir             string
	RetentionDays   int
	Schedule        string
	CleanupSchedule string
	Timezone        string
}

// cronParser matches the spec format accepted by the scheduler
// (5-field cron, optional seconds, @every descriptors).
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ResolveRotation validates rotation settings and maps cycle names to
// commands.
//
// Unknown or disabled names in the cycle are skipped with a warning so a
// stale DASH_CYCLE does not take the whole service down; only an empty
// resolved order is fatal.
func (c *Config) ResolveRotation(log logx.Logger) (Rotation, error) {
	interval, err := ParseDurationOrDefault("rotation.interval", c.Rotation.Interval, 120*time.Second)
	if err != nil {
		return Rotation{}, err
	}
	timeout, err := ParseDurationOrDefault("rotation.timeout", c.Rotation.Timeout, 90*time.Second)
	if err != nil {
		return Rotation{}, err
	}
	if interval <= 0 {
		return Rotation{}, fmt.Errorf("rotation.interval must be positive")
	}
	if timeout <= 0 {
		return Rotation{}, fmt.Errorf("rotation.timeout must be positive")
	}
	if timeout >= interval && !log.IsZero() {
		log.Warn("rotation timeout is not below the interval",
			logx.Duration("interval", interval),
			logx.Duration("timeout", timeout),
		)
	}

	dir := strings.TrimSpace(c.Rotation.CurrentDir)
	if dir == "" {
		dir = "./current"
	}

	cycle := c.Rotation.Cycle
	if len(cycle) == 0 {
		cycle = []string{"comic", "weather"}
	}

	order := make([]Plugin, 0, len(cycle))
	for _, raw := range cycle {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		pc, listed := c.Plugins[name]
		if listed && !pc.IsEnabled() {
			if !log.IsZero() {
				log.Warn("dashboard disabled (skipping)", logx.String("plugin", name))
			}
			continue
		}
		cmd := pc.Command
		if len(cmd) == 0 {
			// Convention: a plugin without an explicit command is the
			// dash-<name> executable on PATH.
			cmd = []string{"dash-" + name}
		}
		order = append(order, Plugin{Name: name, Command: cmd})
	}
	if len(order) == 0 {
		return Rotation{}, fmt.Errorf("rotation cycle is empty: check DASH_CYCLE and plugins config")
	}

	return Rotation{
		Order:      order,
		Interval:   interval,
		Timeout:    timeout,
		CurrentDir: dir,
	}, nil
}

// ResolveArchive validates archive settings.
func (c *Config) ResolveArchive() (Archive, error) {
	a := Archive{
		Enabled:         c.Archive.Enabled,
		Dir:             strings.TrimSpace(c.Archive.Dir),
		RetentionDays:   c.Archive.RetentionDays,
		Schedule:        strings.TrimSpace(c.Archive.Schedule),
		CleanupSchedule: strings.TrimSpace(c.Archive.CleanupSchedule),
		Timezone:        strings.TrimSpace(c.Archive.Timezone),
	}
	if a.Dir == "" {
		a.Dir = "./archive"
	}
	// Zero means the field was omitted; explicit zero values are rejected
	// at the env boundary (see ApplyEnv) so this default is unambiguous.
	if a.RetentionDays == 0 {
		a.RetentionDays = 90
	}
	if a.RetentionDays < 0 {
		return Archive{}, fmt.Errorf("archive.retention_days must be >= 0")
	}
	if a.Schedule == "" {
		a.Schedule = "0 1 * * *"
	}
	if a.CleanupSchedule == "" {
		a.CleanupSchedule = "0 */6 * * *"
	}
	if _, err := cronParser.Parse(a.Schedule); err != nil {
		return Archive{}, fmt.Errorf("archive.schedule: invalid %q: %w", a.Schedule, err)
	}
	if _, err := cronParser.Parse(a.CleanupSchedule); err != nil {
		return Archive{}, fmt.Errorf("archive.cleanup_schedule: invalid %q: %w", a.CleanupSchedule, err)
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			return Archive{}, fmt.Errorf("archive.timezone: invalid %q: %w", a.Timezone, err)
		}
	}
	return a, nil
}

// Web is the resolved web interface configuration.
type Web struct {
	Enabled bool
	Listen  string
}

// ResolveWeb validates web interface settings.
func (c *Config) ResolveWeb() (Web, error) {
	w := Web{
		Enabled: c.Web.Enabled,
		Listen:  strings.TrimSpace(c.Web.Listen),
	}
	if w.Listen == "" {
		w.Listen = ":5000"
	}
	if w.Enabled {
		if _, _, err := net.SplitHostPort(w.Listen); err != nil {
			return Web{}, fmt.Errorf("web.listen: invalid address %q: %w", w.Listen, err)
		}
	}
	return w, nil
}

// ResolveStorage validates the storage section and maps it onto the
// store's own config. The second return is false when storage is
// disabled (section omitted, or driver ""/"none"). The daemon and the
// standalone archive command both go through here so they honor the
// same settings.
func (c *Config) ResolveStorage() (storage.Config, bool, error) {
	if c == nil || c.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := c.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if sc.HistorySize < 0 {
		return storage.Config{}, false, fmt.Errorf("storage.history_size must be >= 0")
	}
	if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
		return storage.Config{}, false, err
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, HistorySize: sc.HistorySize}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// Validate runs the full validation used both at startup and before a
// hot reload is committed.
func (c *Config) Validate() error {
	if _, err := c.ResolveRotation(logx.Nop()); err != nil {
		return err
	}
	if _, err := c.ResolveArchive(); err != nil {
		return err
	}
	if _, err := c.ResolveWeb(); err != nil {
		return err
	}
	if _, _, err := c.ResolveStorage(); err != nil {
		return err
	}
	return nil
}

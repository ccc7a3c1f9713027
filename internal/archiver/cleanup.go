package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logx "inkdash/pkg/logx"
)

// Cleanup deletes archive entries older than the retention window.
//
// The newest entry per plugin always survives, no matter how aggressive
// the policy: the archive must never go completely dark for a plugin
// that was archived at least once.
func (a *Archiver) Cleanup(ctx context.Context) error {
	cutoff := a.now().AddDate(0, 0, -a.cfg.RetentionDays).Format(dateLayout)
	a.log.Info("archive cleanup started",
		logx.Int("retention_days", a.cfg.RetentionDays),
		logx.String("cutoff", cutoff),
	)

	entries, err := a.Entries()
	if err != nil {
		return err
	}

	// Newest entry per plugin is exempt. Entries is date-ascending, so
	// the last occurrence per plugin wins.
	newest := map[string]string{}
	for _, e := range entries {
		newest[e.Plugin] = e.Path
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.Date >= cutoff {
			continue
		}
		if newest[e.Plugin] == e.Path {
			a.log.Debug("keeping last entry past retention",
				logx.String("plugin", e.Plugin),
				logx.String("date", e.Date),
			)
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return fmt.Errorf("remove %s: %w", e.Path, err)
		}
		removed++
		a.log.Info("removed old entry", logx.String("plugin", e.Plugin), logx.String("date", e.Date))
	}

	pruned, err := a.pruneEmptyDays(cutoff)
	if err != nil {
		return err
	}

	if removed == 0 && pruned == 0 {
		a.log.Info("no old archives to remove")
	} else {
		a.log.Info("archive cleanup complete", logx.Int("removed", removed), logx.Int("pruned_days", pruned))
	}
	return nil
}

// pruneEmptyDays removes expired date directories that hold no snapshots
// anymore (a leftover metadata.json does not keep a day alive).
func (a *Archiver) pruneEmptyDays(cutoff string) (int, error) {
	dirs, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pruned := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if _, err := time.Parse(dateLayout, d.Name()); err != nil {
			continue
		}
		if d.Name() >= cutoff {
			continue
		}
		day := filepath.Join(a.cfg.Dir, d.Name())
		files, err := os.ReadDir(day)
		if err != nil {
			return pruned, err
		}
		hasPNG := false
		for _, f := range files {
			if !f.IsDir() && filepath.Ext(f.Name()) == ".png" {
				hasPNG = true
				break
			}
		}
		if hasPNG {
			continue
		}
		if err := os.RemoveAll(day); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", day, err)
		}
		pruned++
	}
	return pruned, nil
}

package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

// dayMetadata mirrors the per-day metadata.json written alongside the
// snapshots.
type dayMetadata struct {
	Date       string                   `json:"date"`
	CreatedAt  time.Time                `json:"created_at"`
	Dashboards map[string]dashboardMeta `json:"dashboards"`
	Summary    daySummary               `json:"summary"`
}

type dashboardMeta struct {
	File       string    `json:"file"`
	SizeBytes  int64     `json:"size_bytes"`
	ArchivedAt time.Time `json:"archived_at"`
}

type daySummary struct {
	Total    int `json:"total"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
}

// Snapshot copies every plugin's current artifact into today's archive
// directory (archive/YYYY-MM-DD/<plugin>.png).
//
// Policy: re-running Snapshot within the same day overwrites that day's
// entries in place (and logs it). One entry per plugin per day, always
// the freshest.
//
// A plugin without a current artifact is skipped and logged as nothing
// to archive; that is not an error. A filesystem failure aborts the
// pass; entries already written stay intact.
func (a *Archiver) Snapshot(ctx context.Context) error {
	now := a.now()
	date := now.Format(dateLayout)
	dayDir := filepath.Join(a.cfg.Dir, date)
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return fmt.Errorf("create archive day: %w", err)
	}

	plugins := a.pluginNames()
	a.log.Info("archive pass started", logx.String("date", date), logx.Int("plugins", len(plugins)))

	meta := dayMetadata{
		Date:       date,
		CreatedAt:  now,
		Dashboards: map[string]dashboardMeta{},
		Summary:    daySummary{Total: len(plugins)},
	}

	for _, plugin := range plugins {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src := filepath.Join(a.currentDir, plugin+".png")
		info, err := os.Stat(src)
		if err != nil {
			if os.IsNotExist(err) {
				a.log.Info("nothing to archive", logx.String("plugin", plugin))
				meta.Summary.Skipped++
				continue
			}
			return a.abort(ctx, plugin, fmt.Errorf("stat artifact: %w", err))
		}

		dst := filepath.Join(dayDir, plugin+".png")
		if _, err := os.Stat(dst); err == nil {
			a.log.Info("overwriting same-day entry", logx.String("plugin", plugin), logx.String("date", date))
		}
		if err := copyAtomic(src, dst); err != nil {
			return a.abort(ctx, plugin, fmt.Errorf("archive %s: %w", plugin, err))
		}

		meta.Dashboards[plugin] = dashboardMeta{
			File:       plugin + ".png",
			SizeBytes:  info.Size(),
			ArchivedAt: a.now(),
		}
		meta.Summary.Archived++
		a.log.Info("archived dashboard",
			logx.String("plugin", plugin),
			logx.String("entry", dst),
			logx.Int64("size_bytes", info.Size()),
		)
	}

	if err := writeJSONAtomic(filepath.Join(dayDir, "metadata.json"), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	a.log.Info("archive pass complete",
		logx.String("date", date),
		logx.Int("archived", meta.Summary.Archived),
		logx.Int("skipped", meta.Summary.Skipped),
	)
	a.record(ctx, "archive", fmt.Sprintf("%d archived, %d skipped", meta.Summary.Archived, meta.Summary.Skipped), nil)
	return nil
}

func (a *Archiver) abort(ctx context.Context, plugin string, err error) error {
	a.log.Error("archive pass aborted", logx.String("plugin", plugin), logx.Err(err))
	a.record(ctx, "archive", "", err)
	return err
}

// record appends an archive pass record to the optional history store.
func (a *Archiver) record(ctx context.Context, op, detail string, passErr error) {
	if a.store == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	rec := storage.RunRecord{
		At:      a.now(),
		Plugin:  op,
		Outcome: "success",
	}
	if passErr != nil {
		rec.Outcome = "failure"
		rec.Error = passErr.Error()
	} else {
		rec.Artifact = detail
	}
	if err := a.store.AppendRun(rctx, rec); err != nil {
		a.log.Warn("archive history append failed", logx.Err(err))
	}
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

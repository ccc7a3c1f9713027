package archiver

import (
	"context"
	"path/filepath"
	"time"

	logx "inkdash/pkg/logx"
)

// Summary is a read-only report of archive contents.
type Summary struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	TotalEntries   int            `json:"total_entries"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	OldestDate     string         `json:"oldest_date,omitempty"`
	NewestDate     string         `json:"newest_date,omitempty"`
	PerPlugin      map[string]int `json:"per_plugin"`
}

// BuildSummary scans the archive without mutating it.
func (a *Archiver) BuildSummary(ctx context.Context) (Summary, error) {
	_ = ctx
	s := Summary{
		GeneratedAt: a.now(),
		PerPlugin:   map[string]int{},
	}
	entries, err := a.Entries()
	if err != nil {
		return Summary{}, err
	}
	for _, e := range entries {
		s.TotalEntries++
		s.TotalSizeBytes += e.Size
		s.PerPlugin[e.Plugin]++
		if s.OldestDate == "" || e.Date < s.OldestDate {
			s.OldestDate = e.Date
		}
		if e.Date > s.NewestDate {
			s.NewestDate = e.Date
		}
	}
	return s, nil
}

// Summarize builds the report, logs it, and persists it to
// archive/summary.json for external browsing.
func (a *Archiver) Summarize(ctx context.Context) (Summary, error) {
	s, err := a.BuildSummary(ctx)
	if err != nil {
		return Summary{}, err
	}
	a.log.Info("archive summary",
		logx.Int("entries", s.TotalEntries),
		logx.Float64("size_mb", float64(s.TotalSizeBytes)/1024/1024),
		logx.String("oldest", s.OldestDate),
		logx.String("newest", s.NewestDate),
	)
	if s.TotalEntries == 0 {
		// Nothing on disk yet; don't create the archive dir just for an
		// empty report.
		return s, nil
	}
	if err := writeJSONAtomic(filepath.Join(a.cfg.Dir, "summary.json"), s); err != nil {
		return Summary{}, err
	}
	return s, nil
}

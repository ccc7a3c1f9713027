package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inkdash/internal/config"
	logx "inkdash/pkg/logx"
)

func testArchiver(t *testing.T, plugins ...string) *Archiver {
	t.Helper()
	root := t.TempDir()
	a := New(config.Archive{
		Dir:           filepath.Join(root, "archive"),
		RetentionDays: 90,
	}, filepath.Join(root, "current"), plugins, nil, logx.Nop())
	if err := os.MkdirAll(a.currentDir, 0o755); err != nil {
		t.Fatalf("mkdir current: %v", err)
	}
	return a
}

func writeArtifact(t *testing.T, a *Archiver, plugin, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(a.currentDir, plugin+".png"), []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func countEntries(t *testing.T, a *Archiver) int {
	t.Helper()
	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	return len(entries)
}

func TestSnapshotSameDayIsIdempotent(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather")
	writeArtifact(t, a, "weather", "v1")

	ctx := context.Background()
	if err := a.Snapshot(ctx); err != nil {
		t.Fatalf("first Snapshot: %v", err)
	}
	if err := a.Snapshot(ctx); err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	if n := countEntries(t, a); n != 1 {
		t.Fatalf("expected 1 entry after two same-day passes, got %d", n)
	}

	// A changed artifact overwrites the day's entry with fresh content.
	writeArtifact(t, a, "weather", "v2")
	if err := a.Snapshot(ctx); err != nil {
		t.Fatalf("third Snapshot: %v", err)
	}
	date := a.now().Format(dateLayout)
	b, err := os.ReadFile(filepath.Join(a.cfg.Dir, date, "weather.png"))
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(b) != "v2" {
		t.Fatalf("entry not refreshed: %q", b)
	}
}

func TestSnapshotNothingToArchive(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather", "comic")

	if err := a.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot with no artifacts must succeed: %v", err)
	}
	if n := countEntries(t, a); n != 0 {
		t.Fatalf("expected 0 entries, got %d", n)
	}
}

func TestSnapshotWritesMetadata(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather", "comic")
	writeArtifact(t, a, "weather", "img")

	if err := a.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	date := a.now().Format(dateLayout)
	if _, err := os.Stat(filepath.Join(a.cfg.Dir, date, "metadata.json")); err != nil {
		t.Fatalf("metadata.json missing: %v", err)
	}
}

// seedEntry plants an archive entry for an arbitrary day.
func seedEntry(t *testing.T, a *Archiver, daysAgo int, plugin string) {
	t.Helper()
	date := a.now().AddDate(0, 0, -daysAgo).Format(dateLayout)
	dir := filepath.Join(a.cfg.Dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, plugin+".png"), []byte(date), 0o644); err != nil {
		t.Fatalf("seed %s/%s: %v", date, plugin, err)
	}
}

func TestCleanupRemovesExpiredKeepsRecent(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather")
	a.cfg.RetentionDays = 30

	seedEntry(t, a, 45, "weather")
	seedEntry(t, a, 40, "weather")
	seedEntry(t, a, 10, "weather")
	seedEntry(t, a, 0, "weather")

	if err := a.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n := countEntries(t, a); n != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", n)
	}
}

func TestCleanupRetentionFloor(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather", "comic")
	a.cfg.RetentionDays = 1

	// Everything is ancient; the newest entry per plugin must survive.
	seedEntry(t, a, 400, "weather")
	seedEntry(t, a, 300, "weather")
	seedEntry(t, a, 500, "comic")

	if err := a.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	perPlugin := map[string]int{}
	for _, e := range entries {
		perPlugin[e.Plugin]++
	}
	if perPlugin["weather"] != 1 || perPlugin["comic"] != 1 {
		t.Fatalf("retention floor violated: %+v", perPlugin)
	}
	// And the survivor is the newest one.
	wantDate := a.now().AddDate(0, 0, -300).Format(dateLayout)
	for _, e := range entries {
		if e.Plugin == "weather" && e.Date != wantDate {
			t.Fatalf("wrong weather survivor: %+v", e)
		}
	}
}

func TestCleanupPrunesEmptyDays(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather")
	a.cfg.RetentionDays = 30

	seedEntry(t, a, 60, "weather")
	seedEntry(t, a, 0, "weather")

	if err := a.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	old := a.now().AddDate(0, 0, -60).Format(dateLayout)
	if _, err := os.Stat(filepath.Join(a.cfg.Dir, old)); !os.IsNotExist(err) {
		t.Fatalf("expired day dir not pruned: %v", err)
	}
}

func TestSummaryCounts(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather", "comic")

	seedEntry(t, a, 2, "weather")
	seedEntry(t, a, 1, "weather")
	seedEntry(t, a, 1, "comic")

	s, err := a.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.TotalEntries != 3 {
		t.Fatalf("TotalEntries = %d, want 3", s.TotalEntries)
	}
	if s.PerPlugin["weather"] != 2 || s.PerPlugin["comic"] != 1 {
		t.Fatalf("unexpected per-plugin counts: %+v", s.PerPlugin)
	}
	wantOldest := a.now().AddDate(0, 0, -2).Format(dateLayout)
	if s.OldestDate != wantOldest {
		t.Fatalf("OldestDate = %s, want %s", s.OldestDate, wantOldest)
	}
	if _, err := os.Stat(filepath.Join(a.cfg.Dir, "summary.json")); err != nil {
		t.Fatalf("summary.json missing: %v", err)
	}
}

func TestSummaryEmptyArchive(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather")
	s, err := a.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.TotalEntries != 0 || s.OldestDate != "" {
		t.Fatalf("unexpected summary for empty archive: %+v", s)
	}
}

func TestSnapshotAtFixedClock(t *testing.T) {
	t.Parallel()
	a := testArchiver(t, "weather")
	fixed := time.Date(2026, 3, 14, 1, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }
	writeArtifact(t, a, "weather", "pi-day")

	if err := a.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.cfg.Dir, "2026-03-14", "weather.png")); err != nil {
		t.Fatalf("entry not keyed by clock date: %v", err)
	}
}

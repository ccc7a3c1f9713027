package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "inkdash/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "inkdash")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	for i, outcome := range []string{"success", "timeout", "crash"} {
		err := st.AppendRun(ctx, RunRecord{
			At:      now.Add(time.Duration(i) * time.Second),
			Plugin:  "weather",
			Outcome: outcome,
			TookMS:  int64(100 + i),
		})
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	recent, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	// newest first
	if recent[0].Outcome != "crash" || recent[1].Outcome != "timeout" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "inkdash"), HistorySize: 10}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 35; i++ {
		err := st.AppendRun(ctx, RunRecord{At: time.Now(), Plugin: "comic", Outcome: "success", ExitCode: 0, TookMS: int64(i)})
		if err != nil {
			t.Fatalf("AppendRun #%d: %v", i, err)
		}
	}

	all, err := st.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(all) > 20 {
		t.Fatalf("compaction did not bound history: %d records", len(all))
	}
	if all[0].TookMS != 34 {
		t.Fatalf("newest record lost: %+v", all[0])
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when disabled")
	}

	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

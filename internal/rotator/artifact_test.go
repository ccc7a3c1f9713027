package rotator

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func TestArtifactCommitReplacesAtomically(t *testing.T) {
	t.Parallel()
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	write := func(content string) {
		tmp := store.TempPath("weather")
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			t.Fatalf("write temp: %v", err)
		}
		if err := store.Commit("weather", tmp); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	write("first")

	// Concurrent readers must only ever see a complete old or new file.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			b, err := os.ReadFile(store.Path("weather"))
			if err != nil {
				t.Errorf("reader saw missing artifact: %v", err)
				return
			}
			if s := string(b); s != "first" && s != "second" {
				t.Errorf("reader saw torn artifact: %q", s)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		write("second")
		write("first")
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()
}

func TestArtifactCommitRequiresTempFile(t *testing.T) {
	t.Parallel()
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	if err := store.Commit("comic", store.TempPath("comic")); err == nil {
		t.Fatal("expected error when temp file is missing")
	}
	if _, err := os.Stat(store.Path("comic")); !os.IsNotExist(err) {
		t.Fatalf("slot should stay empty, stat err=%v", err)
	}
}

func TestArtifactDiscardIsIdempotent(t *testing.T) {
	t.Parallel()
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	tmp := store.TempPath("comic")
	if err := os.WriteFile(tmp, []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	store.Discard(tmp)
	store.Discard(tmp) // second discard of a gone file must not panic
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("temp still present: %v", err)
	}
}

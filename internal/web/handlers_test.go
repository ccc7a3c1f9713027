package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inkdash/internal/archiver"
	"inkdash/internal/config"
	logx "inkdash/pkg/logx"
)

type fakeRotator struct {
	rot      config.Rotation
	advanced int
}

func (f *fakeRotator) Rotation() config.Rotation { return f.rot }
func (f *fakeRotator) Advance()                  { f.advanced++ }

func newTestHandler(t *testing.T) (*Handler, *fakeRotator, string, string) {
	t.Helper()
	currentDir := t.TempDir()
	archiveDir := filepath.Join(t.TempDir(), "archive")
	rot := &fakeRotator{rot: config.Rotation{
		Order:    []config.Plugin{{Name: "comic"}, {Name: "weather"}},
		Interval: 120 * time.Second,
		Timeout:  90 * time.Second,
	}}
	arch := archiver.New(config.Archive{Dir: archiveDir}, currentDir, []string{"comic", "weather"}, nil, logx.Nop())
	h := NewHandler(currentDir, rot, arch, nil, nil, logx.Nop())
	return h, rot, currentDir, archiveDir
}

func seedArchive(t *testing.T, root, date, plugin, content string) {
	t.Helper()
	dir := filepath.Join(root, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, plugin+".png"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h *Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestAdvanceEndpointSkipsSleep(t *testing.T) {
	t.Parallel()
	h, rot, _, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/advance")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/advance = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rot.advanced != 1 {
		t.Fatalf("advanced = %d, want 1", rot.advanced)
	}

	// The trigger is a state change; reads must not fire it.
	rec = do(t, h, http.MethodGet, "/api/advance")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/advance = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if rot.advanced != 1 {
		t.Fatalf("advanced = %d after GET, want 1", rot.advanced)
	}
}

func TestStatusReportsRotationAndArchive(t *testing.T) {
	t.Parallel()
	h, _, _, archiveDir := newTestHandler(t)
	seedArchive(t, archiveDir, "2026-03-14", "comic", "png")

	rec := do(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d, want 200", rec.Code)
	}
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(got.Rotation.Cycle) != 2 || got.Rotation.Cycle[0] != "comic" || got.Rotation.Cycle[1] != "weather" {
		t.Fatalf("cycle = %v", got.Rotation.Cycle)
	}
	if got.Rotation.IntervalSeconds != 120 || got.Rotation.TimeoutSeconds != 90 {
		t.Fatalf("interval/timeout = %d/%d", got.Rotation.IntervalSeconds, got.Rotation.TimeoutSeconds)
	}
	if got.Archive.TotalEntries != 1 {
		t.Fatalf("archive entries = %d, want 1", got.Archive.TotalEntries)
	}
}

func TestArchiveBrowsing(t *testing.T) {
	t.Parallel()
	h, _, _, archiveDir := newTestHandler(t)
	seedArchive(t, archiveDir, "2026-03-14", "comic", "png-comic")
	seedArchive(t, archiveDir, "2026-03-14", "weather", "png-weather")
	seedArchive(t, archiveDir, "2026-03-15", "comic", "png-later")

	rec := do(t, h, http.MethodGet, "/api/archives")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/archives = %d, want 200", rec.Code)
	}
	var list struct {
		Archives []archiveDaySummary `json:"archives"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode archives: %v", err)
	}
	if len(list.Archives) != 2 {
		t.Fatalf("days = %d, want 2", len(list.Archives))
	}
	if list.Archives[0].Date != "2026-03-15" {
		t.Fatalf("first day = %s, want newest first", list.Archives[0].Date)
	}
	if list.Archives[1].Count != 2 {
		t.Fatalf("2026-03-14 count = %d, want 2", list.Archives[1].Count)
	}

	rec = do(t, h, http.MethodGet, "/api/archive/2026-03-14")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/archive/2026-03-14 = %d, want 200", rec.Code)
	}
	var day struct {
		Dashboards []archivedDashboard `json:"dashboards"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &day); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	if len(day.Dashboards) != 2 {
		t.Fatalf("dashboards = %d, want 2", len(day.Dashboards))
	}

	if rec = do(t, h, http.MethodGet, "/api/archive/2026-01-01"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing day = %d, want 404", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/archive-image/2026-03-14/comic")
	if rec.Code != http.StatusOK || rec.Body.String() != "png-comic" {
		t.Fatalf("archive image = %d %q", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodGet, "/api/archive-image/2026-03-14/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing archive image = %d, want 404", rec.Code)
	}
}

func TestCurrentImageServing(t *testing.T) {
	t.Parallel()
	h, _, currentDir, _ := newTestHandler(t)
	if err := os.WriteFile(filepath.Join(currentDir, "comic.png"), []byte("current"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodGet, "/api/image/comic")
	if rec.Code != http.StatusOK || rec.Body.String() != "current" {
		t.Fatalf("current image = %d %q", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodGet, "/api/image/weather"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing image = %d, want 404", rec.Code)
	}
	// Names outside the plugin pattern never reach the file handler.
	if rec = do(t, h, http.MethodGet, "/api/image/..%2fsecret"); rec.Code == http.StatusOK {
		t.Fatalf("traversal-shaped name served: %d", rec.Code)
	}
}

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"inkdash/internal/archiver"
	"inkdash/internal/config"
	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

// Rotator is the slice of the rotation loop the handlers use.
type Rotator interface {
	Rotation() config.Rotation
	Advance()
}

// Archive is the slice of the archiver the handlers use.
type Archive interface {
	Dir() string
	Entries() ([]archiver.Entry, error)
	BuildSummary(ctx context.Context) (archiver.Summary, error)
}

// Schedule reports upcoming job fires. Nil when archiving is disabled.
type Schedule interface {
	Next() map[string]time.Time
}

// Handler serves the browsing and status API. The rotator owns the
// current artifacts and the archiver owns the archive tree; the handler
// only reads them, plus the one write-shaped action of skipping the
// current inter-tick sleep.
type Handler struct {
	log logx.Logger

	currentDir string
	rot        Rotator
	arch       Archive
	store      storage.Store // may be nil (history disabled)
	sched      Schedule      // may be nil

	started time.Time
}

func NewHandler(currentDir string, rot Rotator, arch Archive, store storage.Store, sched Schedule, log logx.Logger) *Handler {
	return &Handler{
		log:        log,
		currentDir: currentDir,
		rot:        rot,
		arch:       arch,
		store:      store,
		sched:      sched,
		started:    time.Now(),
	}
}

// Route variable patterns. Plugin names and dates are validated in the
// route itself so the file-serving handlers can never be steered
// outside their directories.
const (
	pluginPattern = "[a-z0-9_-]+"
	datePattern   = `\d{4}-\d{2}-\d{2}`
)

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", h.index).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/advance", h.advance).Methods(http.MethodPost)
	r.HandleFunc("/api/image/{plugin:"+pluginPattern+"}", h.currentImage).Methods(http.MethodGet)
	r.HandleFunc("/api/archives", h.archives).Methods(http.MethodGet)
	r.HandleFunc("/api/archive/{date:"+datePattern+"}", h.archiveDay).Methods(http.MethodGet)
	r.HandleFunc("/api/archive-image/{date:"+datePattern+"}/{plugin:"+pluginPattern+"}", h.archiveImage).Methods(http.MethodGet)
	return r
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "inkdash",
		"endpoints": []string{
			"GET /api/status",
			"POST /api/advance",
			"GET /api/image/{plugin}",
			"GET /api/archives",
			"GET /api/archive/{date}",
			"GET /api/archive-image/{date}/{plugin}",
		},
	})
}

type rotationStatus struct {
	Cycle           []string `json:"cycle"`
	IntervalSeconds int64    `json:"interval_seconds"`
	TimeoutSeconds  int64    `json:"timeout_seconds"`
}

type statusResponse struct {
	Service       string               `json:"service"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Rotation      rotationStatus       `json:"rotation"`
	Archive       archiver.Summary     `json:"archive"`
	NextRuns      map[string]time.Time `json:"next_runs,omitempty"`
	RecentRuns    []storage.RunRecord  `json:"recent_runs,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	rot := h.rot.Rotation()
	resp := statusResponse{
		Service:       "inkdash",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Rotation: rotationStatus{
			Cycle:           make([]string, 0, len(rot.Order)),
			IntervalSeconds: int64(rot.Interval.Seconds()),
			TimeoutSeconds:  int64(rot.Timeout.Seconds()),
		},
	}
	for _, p := range rot.Order {
		resp.Rotation.Cycle = append(resp.Rotation.Cycle, p.Name)
	}

	sum, err := h.arch.BuildSummary(r.Context())
	if err != nil {
		h.fail(w, "archive summary", err)
		return
	}
	resp.Archive = sum

	if h.sched != nil {
		resp.NextRuns = h.sched.Next()
	}
	if h.store != nil {
		// History is best-effort here; a broken store should not take the
		// status page down with it.
		if runs, err := h.store.RecentRuns(r.Context(), 20); err == nil {
			resp.RecentRuns = runs
		} else {
			h.log.Warn("run history unavailable", logx.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// advance skips the current inter-tick sleep. It never interrupts a
// plugin that is mid-render.
func (h *Handler) advance(w http.ResponseWriter, _ *http.Request) {
	h.rot.Advance()
	h.log.Info("manual advance requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"advanced": true})
}

func (h *Handler) currentImage(w http.ResponseWriter, r *http.Request) {
	plugin := mux.Vars(r)["plugin"]
	h.servePNG(w, r, filepath.Join(h.currentDir, plugin+".png"))
}

type archiveDaySummary struct {
	Date      string   `json:"date"`
	Count     int      `json:"count"`
	SizeBytes int64    `json:"size_bytes"`
	Plugins   []string `json:"plugins"`
}

func (h *Handler) archives(w http.ResponseWriter, _ *http.Request) {
	entries, err := h.arch.Entries()
	if err != nil {
		h.fail(w, "archive scan", err)
		return
	}
	days := []archiveDaySummary{}
	for _, e := range entries {
		if len(days) == 0 || days[len(days)-1].Date != e.Date {
			days = append(days, archiveDaySummary{Date: e.Date})
		}
		d := &days[len(days)-1]
		d.Count++
		d.SizeBytes += e.Size
		d.Plugins = append(d.Plugins, e.Plugin)
	}
	// Newest day first for browsing.
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": days})
}

type archivedDashboard struct {
	Plugin    string `json:"plugin"`
	SizeBytes int64  `json:"size_bytes"`
	Image     string `json:"image"`
}

func (h *Handler) archiveDay(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	entries, err := h.arch.Entries()
	if err != nil {
		h.fail(w, "archive scan", err)
		return
	}
	dashboards := []archivedDashboard{}
	for _, e := range entries {
		if e.Date != date {
			continue
		}
		dashboards = append(dashboards, archivedDashboard{
			Plugin:    e.Plugin,
			SizeBytes: e.Size,
			Image:     "/api/archive-image/" + date + "/" + e.Plugin,
		})
	}
	if len(dashboards) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no archive for " + date})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "dashboards": dashboards})
}

func (h *Handler) archiveImage(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	h.servePNG(w, r, filepath.Join(h.arch.Dir(), v["date"], v["plugin"]+".png"))
}

func (h *Handler) servePNG(w http.ResponseWriter, r *http.Request, path string) {
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshot at " + filepath.Base(path)})
		return
	}
	http.ServeFile(w, r, path)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	h.log.Warn("request failed", logx.String("what", what), logx.Err(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: what + ": " + err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

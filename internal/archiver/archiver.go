package archiver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"inkdash/internal/config"
	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

// dateLayout names the per-day archive directories (YYYY-MM-DD).
const dateLayout = "2006-01-02"

// Archiver owns the archive store: it is the sole writer and the sole
// deleter. It reads current artifacts the rotator maintains and never
// mutates them.
type Archiver struct {
	log logx.Logger
	cfg config.Archive

	// currentDir is the rotator's artifact directory.
	currentDir string

	// plugins is the set of dashboard names eligible for archiving.
	// Guarded by pmu; config reload swaps it while jobs may be running.
	pmu     sync.Mutex
	plugins []string

	store storage.Store // optional pass history

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg config.Archive, currentDir string, plugins []string, store storage.Store, log logx.Logger) *Archiver {
	return &Archiver{
		log:        log,
		cfg:        cfg,
		currentDir: currentDir,
		plugins:    append([]string(nil), plugins...),
		store:      store,
		now:        time.Now,
	}
}

// SetPlugins replaces the set of dashboards eligible for archiving.
// Takes effect on the next pass.
func (a *Archiver) SetPlugins(names []string) {
	a.pmu.Lock()
	a.plugins = append([]string(nil), names...)
	a.pmu.Unlock()
}

func (a *Archiver) pluginNames() []string {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	return append([]string(nil), a.plugins...)
}

// Entry is one archived snapshot of one plugin.
type Entry struct {
	Plugin string
	Date   string // YYYY-MM-DD
	Path   string
	Size   int64
}

// Dir returns the archive root directory.
func (a *Archiver) Dir() string { return a.cfg.Dir }

// Entries scans the archive tree. Returned entries are sorted by date
// ascending, then plugin.
func (a *Archiver) Entries() ([]Entry, error) {
	dirs, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive dir: %w", err)
	}

	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if _, err := time.Parse(dateLayout, d.Name()); err != nil {
			continue
		}
		day := filepath.Join(a.cfg.Dir, d.Name())
		files, err := os.ReadDir(day)
		if err != nil {
			return nil, fmt.Errorf("archive day %s: %w", d.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".png" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			out = append(out, Entry{
				Plugin: f.Name()[:len(f.Name())-len(".png")],
				Date:   d.Name(),
				Path:   filepath.Join(day, f.Name()),
				Size:   info.Size(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Plugin < out[j].Plugin
	})
	return out, nil
}

// copyAtomic copies src into dst via a temp file in dst's directory and
// an atomic rename, so a half-written snapshot can never appear in the
// archive.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

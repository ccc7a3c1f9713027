package rotator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactStore owns the "current artifact" slot per plugin: one image
// file per dashboard name under a single directory.
//
// Writes go through a temp path in the same directory followed by an
// atomic rename, so concurrent readers (display sink, archiver) see
// either the old complete file or the new complete file, never a torn
// write. The rotator is the only writer.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Dir() string { return s.dir }

// Path returns the current-artifact path for a plugin. The file may not
// exist yet (no successful run so far).
func (s *ArtifactStore) Path(plugin string) string {
	return filepath.Join(s.dir, plugin+".png")
}

// TempPath reserves a scratch path in the artifact directory for a
// render in progress. Dot-prefixed so artifact listings skip it, and in
// the same directory so the final rename stays on one filesystem.
func (s *ArtifactStore) TempPath(plugin string) string {
	return filepath.Join(s.dir, fmt.Sprintf(".%s.%d.tmp", plugin, time.Now().UnixNano()))
}

// Commit atomically promotes a rendered temp file into the plugin's
// current slot.
func (s *ArtifactStore) Commit(plugin, tempPath string) error {
	if _, err := os.Stat(tempPath); err != nil {
		return fmt.Errorf("artifact %s: %w", plugin, err)
	}
	if err := os.Rename(tempPath, s.Path(plugin)); err != nil {
		return fmt.Errorf("artifact %s: %w", plugin, err)
	}
	return nil
}

// Discard removes a temp file from a failed run, if it exists.
func (s *ArtifactStore) Discard(tempPath string) {
	_ = os.Remove(tempPath)
}

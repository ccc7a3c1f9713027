package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "inkdash/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// It appends run records to <prefix>.runs.jsonl and periodically
// compacts the file down to the configured history bound (rewrite to a
// temp file, then atomic rename).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	file *os.File

	historySize int
	appended    int
}

const defaultHistorySize = 2000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	runsPath := filepath.Join(dir, base+".runs.jsonl")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	hs := cfg.HistorySize
	if hs <= 0 {
		hs = defaultHistorySize
	}

	return &fileStore{
		log:         log,
		path:        runsPath,
		file:        f,
		historySize: hs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("runs file closed")
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}
	s.appended++
	// Compact once the file holds roughly twice the history bound.
	if s.appended >= s.historySize {
		s.appended = 0
		if err := s.compactLocked(); err != nil {
			s.log.Warn("runs compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := readRuns(s.path)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	// newest first
	out := make([]RunRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// compactLocked rewrites the runs file keeping only the newest
// historySize records. Caller holds s.mu.
func (s *fileStore) compactLocked() error {
	recs, err := readRuns(s.path)
	if err != nil {
		return err
	}
	if len(recs) <= s.historySize {
		return nil
	}
	recs = recs[len(recs)-s.historySize:]

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	// Swap the live append handle to the compacted file.
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.file = nf
	return nil
}

func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r RunRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// Skip torn/corrupt lines rather than losing the whole history.
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

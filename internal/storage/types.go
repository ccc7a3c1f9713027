package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + compaction)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	HistorySize int           // file compaction bound; 0 means default
}

// RunRecord is one rotation tick or archive pass.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time `json:"at"`
	Plugin   string    `json:"plugin"`
	Outcome  string    `json:"outcome"`
	ExitCode int       `json:"exit_code"`
	TookMS   int64     `json:"took_ms"`
	Artifact string    `json:"artifact,omitempty"`
	Error    string    `json:"error,omitempty"`
}

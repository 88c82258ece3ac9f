// Package audit persists one record per resolved execution request.
// Records are JSON lines appended to per-day files so the trail can be
// parsed and analyzed without the agent running.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one audit trail entry. ExitCode is omitted when the shell
// did not report one.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Command    string    `json:"command"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Recorder appends records to adminmcp-YYYY-MM-DD.jsonl files under a
// directory, rotating at UTC midnight. A nil Recorder discards
// everything, so callers never need to guard the disabled case.
type Recorder struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	day  string
}

// NewRecorder creates the audit directory if needed. Files are opened
// lazily on first append.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Append writes one record. The timestamp defaults to now when unset.
func (r *Recorder) Append(rec Record) error {
	if r == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if r.file == nil || day != r.day {
		if err := r.openLocked(day); err != nil {
			return err
		}
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (r *Recorder) openLocked(day string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	path := filepath.Join(r.dir, "adminmcp-"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	r.file = f
	r.day = day
	return nil
}

// Close releases the current file, if any.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

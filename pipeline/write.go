package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteAtomic writes the table to path via a sibling temp file and an
// atomic rename: the output path is either absent or complete, never a
// partial file.
func WriteAtomic(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("pipeline: create temp: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("pipeline: write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pipeline: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pipeline: rename: %w", err)
	}
	return nil
}

// JournalRecord is one append-only progress entry, one per processed
// file.
type JournalRecord struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Rows   int    `json:"rows,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Journal statuses.
const (
	StatusOK         = "ok"
	StatusSkipExists = "skip_exists"
	StatusError      = "error"
)

// Journal appends progress records and human-readable error lines under
// the output root. Append failures are reported but never abort the
// run: the journal is an aid, not a dependency.
type Journal struct {
	mu           sync.Mutex
	progressPath string
	errorsPath   string
}

// NewJournal places _progress.jsonl and _errors.txt under outDir.
func NewJournal(outDir string) (*Journal, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: mkdir output: %w", err)
	}
	return &Journal{
		progressPath: filepath.Join(outDir, "_progress.jsonl"),
		errorsPath:   filepath.Join(outDir, "_errors.txt"),
	}, nil
}

// Progress appends one record to the progress journal.
func (j *Journal) Progress(rec JournalRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pipeline: marshal journal: %w", err)
	}
	return j.appendLine(j.progressPath, line)
}

// Failure appends a human-readable line to the error log.
func (j *Journal) Failure(msg string) error {
	return j.appendLine(j.errorsPath, []byte(msg))
}

func (j *Journal) appendLine(path string, line []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("pipeline: append %s: %w", path, err)
	}
	return nil
}

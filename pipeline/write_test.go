package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "out.csv")
	tbl := &Table{
		Header: []string{"src", "countrycode"},
		Rows:   [][]string{{"1.1.1.1", "RU"}, {"2.2.2.2", "UA"}},
	}
	if err := WriteAtomic(out, tbl); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be gone after rename")
	}
}

func TestJournalAppends(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if err := j.Progress(JournalRecord{File: "2023/2023-01.csv", Status: StatusOK, Rows: 42}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := j.Progress(JournalRecord{File: "2023/2023-02.csv", Status: StatusError, Error: "boom"}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := j.Failure("2023/2023-02.csv: boom"); err != nil {
		t.Fatalf("failure: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "_progress.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 journal records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"rows":42`) || !strings.Contains(lines[1], `"error":"boom"`) {
		t.Fatalf("unexpected journal content: %v", lines)
	}

	errData, err := os.ReadFile(filepath.Join(dir, "_errors.txt"))
	if err != nil {
		t.Fatalf("read errors: %v", err)
	}
	if !strings.HasPrefix(string(errData), "2023/2023-02.csv: boom") {
		t.Fatalf("unexpected error log content: %q", errData)
	}
}

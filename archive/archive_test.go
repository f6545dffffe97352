package archive

import (
	"path/filepath"
	"testing"
	"time"

	"rdapenrich/cache"
	"rdapenrich/config"
)

func testConfig(t *testing.T) config.ArchiveConfig {
	t.Helper()
	return config.ArchiveConfig{
		Enabled:         true,
		DBPath:          filepath.Join(t.TempDir(), "archive.db"),
		QueueSize:       16,
		BatchSize:       4,
		BatchIntervalMS: 10,
	}
}

func TestFlushPersistsBatch(t *testing.T) {
	w, err := NewWriter(testConfig(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Stop()

	batch := []lookupRow{
		{ip: "192.0.2.1", entry: cache.Entry{OK: true, NetCC: "RU", Org: "EXAMPLE-NET", CIDR: "192.0.2.0/24", Registry: "ripencc"}, at: time.Now()},
		{ip: "192.0.2.2", entry: cache.Entry{Error: "HTTP 404"}, at: time.Now()},
	}
	w.flush(batch)

	n, err := w.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 archived lookups, got %d", n)
	}

	var ok int
	var cc string
	err = w.db.QueryRow(`select ok, net_cc from lookups where ip = ?`, "192.0.2.1").Scan(&ok, &cc)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ok != 1 || cc != "RU" {
		t.Fatalf("expected ok=1 cc=RU, got ok=%d cc=%q", ok, cc)
	}
}

func TestInsertLoopDrainsQueue(t *testing.T) {
	w, err := NewWriter(testConfig(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Start()

	for i := 0; i < 6; i++ {
		w.Enqueue("198.51.100.1", cache.Entry{OK: true, NetCC: "UA"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := w.Count()
		if err == nil && n == 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 6 archived lookups before deadline, got %d (err=%v)", n, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueSize = 2
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Stop()

	// No insert loop running, so the queue fills and overflow is dropped.
	for i := 0; i < 5; i++ {
		w.Enqueue("203.0.113.1", cache.Entry{})
	}
	if len(w.queue) != 2 {
		t.Fatalf("expected queue to hold 2, got %d", len(w.queue))
	}
	if got := w.dropCount.Load(); got != 3 {
		t.Fatalf("expected 3 drops, got %d", got)
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Enqueue("192.0.2.1", cache.Entry{})
	if _, err := w.Count(); err == nil {
		t.Fatal("expected error from nil writer count")
	}
}

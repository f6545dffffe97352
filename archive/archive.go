// Package archive persists fresh lookup results to SQLite
// asynchronously for offline querying. It is designed to be removable:
// the lookup hot path never blocks on the writer, and backpressure
// results in dropped archive writes, not stalled lookups. The JSONL
// cache remains the durable source of truth.
package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"rdapenrich/cache"
	"rdapenrich/config"
)

// Writer batches lookup results into SQLite from a bounded queue.
type Writer struct {
	cfg       config.ArchiveConfig
	db        *sql.DB
	queue     chan lookupRow
	stop      chan struct{}
	dropCount atomic.Uint64
}

type lookupRow struct {
	ip    string
	entry cache.Entry
	at    time.Time
}

// NewWriter initializes the SQLite database and returns a writer; call
// Start to begin processing.
func NewWriter(cfg config.ArchiveConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BatchIntervalMS <= 0 {
		cfg.BatchIntervalMS = 1000
	}
	return &Writer{
		cfg:   cfg,
		db:    db,
		queue: make(chan lookupRow, qsize),
		stop:  make(chan struct{}),
	}, nil
}

// Start launches the insert loop.
func (w *Writer) Start() {
	go w.insertLoop()
}

// Stop closes the writer; best-effort flush of the pending batch.
func (w *Writer) Stop() {
	close(w.stop)
	_ = w.db.Close()
}

// Enqueue queues a lookup result without blocking; drops on full queue.
func (w *Writer) Enqueue(ip string, e cache.Entry) {
	if w == nil {
		return
	}
	select {
	case w.queue <- lookupRow{ip: ip, entry: e, at: time.Now().UTC()}:
	default:
		if n := w.dropCount.Add(1); n%1000 == 1 {
			log.Printf("Archive: queue full, %d results dropped", n)
		}
	}
}

func (w *Writer) insertLoop() {
	batch := make([]lookupRow, 0, w.cfg.BatchSize)
	interval := time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.flush(batch)
			return
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(interval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(interval)
		}
	}
}

func (w *Writer) flush(batch []lookupRow) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("Archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into lookups(ip, ok, net_cc, org, cidr, rir, error, looked_up_at) values(?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("Archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	for _, r := range batch {
		if _, err := stmt.Exec(
			r.ip,
			boolToInt(r.entry.OK),
			r.entry.NetCC,
			r.entry.Org,
			r.entry.CIDR,
			r.entry.Registry,
			r.entry.Error,
			r.at.Unix(),
		); err != nil {
			log.Printf("Archive: insert failed: %v", err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("Archive: commit: %v", err)
	}
}

func ensureSchema(db *sql.DB) error {
	schema := `
	create table if not exists lookups (
		id integer primary key autoincrement,
		ip text,
		ok integer,
		net_cc text,
		org text,
		cidr text,
		rir text,
		error text,
		looked_up_at integer
	);
	create index if not exists idx_lookups_ip on lookups(ip);
	create index if not exists idx_lookups_at on lookups(looked_up_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Count returns the number of archived lookups, mainly for tests and
// the debugging CLI.
func (w *Writer) Count() (int64, error) {
	if w == nil || w.db == nil {
		return 0, fmt.Errorf("archive: writer is nil")
	}
	var n int64
	if err := w.db.QueryRow(`select count(*) from lookups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

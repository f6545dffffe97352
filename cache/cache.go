// Package cache implements the durable lookup cache: an in-memory map
// loaded from an append-only JSONL log, with a dedicated writer
// goroutine draining completed lookups to disk. The log may be shared
// by several shard processes; appends happen under an advisory lock and
// each record is written with a single call so that small appends stay
// effectively atomic even where the lock degrades to a no-op.
package cache

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is the normalized outcome of one registry lookup, keyed by IP.
// The JSON field names are the cache file format and must not change:
// logs written by older runs are reloaded across versions.
type Entry struct {
	OK       bool   `json:"ok"`
	NetCC    string `json:"rdap_net_cc,omitempty"`
	Org      string `json:"rdap_org,omitempty"`
	CIDR     string `json:"rdap_cidr,omitempty"`
	Registry string `json:"rir,omitempty"`
	Error    string `json:"error,omitempty"`
}

// record is one line of the durable log.
type record struct {
	IP   string `json:"ip"`
	Data Entry  `json:"data"`
}

const defaultQueueSize = 10000

// Store is the durable key→result cache. Get/Put serve the in-memory
// map immediately; durability is asynchronous through a bounded queue
// drained by a single writer goroutine.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry

	queue chan record
	stop  chan struct{}
	done  chan struct{}
}

// Open loads the JSONL log at path (if any) into memory and prepares a
// store. Malformed lines are skipped; duplicate keys resolve to the
// last appended record. Call Start before the first Put.
func Open(path string, queueSize int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache: empty path")
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Store{
		path:    path,
		entries: make(map[string]Entry),
		queue:   make(chan record, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: open %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil || rec.IP == "" {
			skipped++
			continue
		}
		s.entries[rec.IP] = rec.Data
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cache: scan %s: %w", s.path, err)
	}
	if skipped > 0 {
		log.Printf("Cache: skipped %d malformed lines in %s", skipped, s.path)
	}
	return nil
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns the cached entry for ip, if any.
func (s *Store) Get(ip string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ip]
	return e, ok
}

// Put stores the entry in memory, visible to same-process readers
// immediately, and enqueues it for durable append. A full queue blocks
// the caller: backpressure propagates from durability to lookup
// throughput rather than dropping completed work.
func (s *Store) Put(ip string, e Entry) {
	s.mu.Lock()
	s.entries[ip] = e
	s.mu.Unlock()
	s.queue <- record{IP: ip, Data: e}
}

// Start launches the writer goroutine appending queued entries to the
// durable log.
func (s *Store) Start() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cache: open for append: %w", err)
	}
	go s.writeLoop(f)
	return nil
}

// Stop signals the writer and waits until the queue has fully drained,
// guaranteeing that no completed lookup is lost. Callers must not Put
// after Stop.
func (s *Store) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Store) writeLoop(f *os.File) {
	defer close(s.done)
	defer f.Close()
	for {
		select {
		case rec := <-s.queue:
			s.append(f, rec)
		case <-s.stop:
			for {
				select {
				case rec := <-s.queue:
					s.append(f, rec)
				default:
					return
				}
			}
		}
	}
}

// append writes one self-contained line under the advisory lock. The
// single Write call is what keeps concurrent shard appends intact on
// platforms where the lock is a no-op.
func (s *Store) append(f *os.File, rec record) {
	line, err := json.Marshal(rec)
	if err != nil {
		log.Printf("Cache: marshal %s: %v", rec.IP, err)
		return
	}
	line = append(line, '\n')
	if err := lockFile(f); err == nil {
		defer func() {
			if err := unlockFile(f); err != nil {
				log.Printf("Cache: unlock: %v", err)
			}
		}()
	}
	if _, err := f.Write(line); err != nil {
		log.Printf("Cache: append %s: %v", rec.IP, err)
	}
}

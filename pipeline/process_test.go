package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"rdapenrich/cache"
	"rdapenrich/config"
	"rdapenrich/internal/ratelimit"
)

// stubEnricher records which IPs were looked up and serves canned
// entries.
type stubEnricher struct {
	mu      sync.Mutex
	queried []string
	entries map[string]cache.Entry
}

func (s *stubEnricher) Enrich(_ context.Context, ip string) cache.Entry {
	s.mu.Lock()
	s.queried = append(s.queried, ip)
	s.mu.Unlock()
	if e, ok := s.entries[ip]; ok {
		return e
	}
	return cache.Entry{Error: "unreachable"}
}

func (s *stubEnricher) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.queried...)
	sort.Strings(out)
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.CDNExclude = false
	return cfg
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newProcessor(t *testing.T, cfg config.Config, stub *stubEnricher) (*Processor, *cache.Store) {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.jsonl"), 100)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("start store: %v", err)
	}
	t.Cleanup(store.Stop)
	bucket := ratelimit.NewBucket(10000, 100)
	return NewProcessor(cfg, store, stub, bucket, nil, time.Minute), store
}

func TestProcessFileEndToEnd(t *testing.T) {
	// A: cached ok with country. B: uncached. C: cached failure.
	// With retry-failed enabled exactly {B, C} get fresh lookups.
	stub := &stubEnricher{entries: map[string]cache.Entry{
		"10.0.0.2": {OK: true, NetCC: "UA", Org: "Org B", CIDR: "10.0.0.0/8", Registry: "ripencc"},
		"10.0.0.3": {OK: true, NetCC: "RU", Org: "Org C", CIDR: "10.0.0.0/8", Registry: "ripencc"},
	}}
	cfg := testConfig()
	proc, store := newProcessor(t, cfg, stub)

	store.Put("10.0.0.1", cache.Entry{OK: true, NetCC: "RU", Org: "Org A"})
	store.Put("10.0.0.3", cache.Entry{OK: false, Error: "timeout"})

	path := writeCSV(t, t.TempDir(), "part.csv",
		"src,countrycode\n10.0.0.1,RU\n10.0.0.2,UA\n10.0.0.3,FR\n")

	tbl, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	want := []string{"10.0.0.2", "10.0.0.3"}
	if got := stub.seen(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected fresh lookups for %v, got %v", want, got)
	}

	if len(tbl.Rows) != 3 {
		t.Fatalf("expected 3 output rows, got %d", len(tbl.Rows))
	}
	if len(tbl.Header) != 2+len(AddedColumns) {
		t.Fatalf("expected %d columns, got %d", 2+len(AddedColumns), len(tbl.Header))
	}

	// Row 0: cached entry merged, strict RU consensus.
	if tbl.Value(0, "rdap_ok") != "true" || tbl.Value(0, "rdap_net_cc") != "RU" {
		t.Fatalf("row 0 merge wrong: ok=%q cc=%q", tbl.Value(0, "rdap_ok"), tbl.Value(0, "rdap_net_cc"))
	}
	if tbl.Value(0, "country_consensus") != "Russia" || tbl.Value(0, "consensus_rule") != "strict" {
		t.Fatalf("row 0 consensus wrong: %q/%q", tbl.Value(0, "country_consensus"), tbl.Value(0, "consensus_rule"))
	}
	// Row 1: fresh lookup, strict UA.
	if tbl.Value(1, "rdap_org") != "Org B" || tbl.Value(1, "consensus_rule") != "strict" {
		t.Fatalf("row 1 wrong: org=%q rule=%q", tbl.Value(1, "rdap_org"), tbl.Value(1, "consensus_rule"))
	}
	// Row 2: retried failure now ok, dataset FR vs registry RU.
	if tbl.Value(2, "rdap_ok") != "true" || tbl.Value(2, "consensus_rule") != "rdap_only" {
		t.Fatalf("row 2 wrong: ok=%q rule=%q", tbl.Value(2, "rdap_ok"), tbl.Value(2, "consensus_rule"))
	}
}

func TestProcessFileSchedulesEachIPOnce(t *testing.T) {
	stub := &stubEnricher{entries: map[string]cache.Entry{
		"10.0.0.1": {OK: true, NetCC: "RU"},
	}}
	proc, _ := newProcessor(t, testConfig(), stub)

	path := writeCSV(t, t.TempDir(), "dup.csv",
		"src,countrycode\n10.0.0.1,RU\n10.0.0.1,RU\n10.0.0.1,UA\n")
	tbl, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := stub.seen(); len(got) != 1 {
		t.Fatalf("expected a single lookup for a repeated IP, got %v", got)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("expected all 3 rows preserved, got %d", len(tbl.Rows))
	}
}

func TestProcessFileCDNExclusion(t *testing.T) {
	stub := &stubEnricher{entries: map[string]cache.Entry{}}
	cfg := testConfig()
	cfg.CDNExclude = true
	proc, _ := newProcessor(t, cfg, stub)

	path := writeCSV(t, t.TempDir(), "cdn.csv",
		"src,countrycode,asnum,domain,org\n"+
			"10.0.0.1,RU,13335,host.example,Example\n"+ // excluded ASN
			"10.0.0.2,UA,64512,cdn.example.com,Example\n"+ // excluded domain
			"10.0.0.3,RU,64512,host.example,Cloudflare Inc\n"+ // excluded org
			"10.0.0.4,UA,64512,host.example,Local Telecom\n")
	tbl, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(tbl.Rows) != 1 || tbl.Value(0, "src") != "10.0.0.4" {
		t.Fatalf("expected only the unmatched row to survive, got %d rows", len(tbl.Rows))
	}
	if got := stub.seen(); len(got) != 1 || got[0] != "10.0.0.4" {
		t.Fatalf("expected no lookup budget spent on excluded rows, got %v", got)
	}
}

func TestProcessFileTargetFallback(t *testing.T) {
	stub := &stubEnricher{entries: map[string]cache.Entry{
		"192.0.2.9": {OK: true, NetCC: "UA"},
	}}
	proc, _ := newProcessor(t, testConfig(), stub)

	path := writeCSV(t, t.TempDir(), "target.csv", "target,countrycode\n192.0.2.9,UA\n")
	tbl, err := proc.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if tbl.Value(0, "rdap_net_cc") != "UA" {
		t.Fatal("expected target column to back-fill src for lookups")
	}
}

func TestProcessFileOnlyRUUA(t *testing.T) {
	stub := &stubEnricher{entries: map[string]cache.Entry{
		"10.0.0.1": {OK: true, NetCC: "RU"},
		"10.0.0.2": {OK: true, NetCC: "DE"},
	}}
	cfg := testConfig()
	cfg.OnlyRUUA = true
	proc, _ := newProcessor(t, cfg, stub)

	path := writeCSV(t, t.TempDir(), "ruua.csv",
		"src,countrycode\n10.0.0.1,RU\n10.0.0.2,DE\n")
	if _, err := proc.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := stub.seen(); len(got) != 1 || got[0] != "10.0.0.1" {
		t.Fatalf("expected lookups restricted to RU/UA-labeled rows, got %v", got)
	}
}

func TestProcessFileMissingSrc(t *testing.T) {
	proc, _ := newProcessor(t, testConfig(), &stubEnricher{})
	path := writeCSV(t, t.TempDir(), "bad.csv", "a,b\n1,2\n")
	if _, err := proc.ProcessFile(context.Background(), path); err == nil {
		t.Fatal("expected error for a file without src/target columns")
	}
}

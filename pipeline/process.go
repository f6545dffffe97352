package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"rdapenrich/archive"
	"rdapenrich/cache"
	"rdapenrich/cdnfilter"
	"rdapenrich/config"
	"rdapenrich/consensus"
	"rdapenrich/internal/ratelimit"
)

// Enricher performs one registry lookup, returning a failed entry (not
// an error) when the lookup could not be completed.
type Enricher interface {
	Enrich(ctx context.Context, ip string) cache.Entry
}

// Processor runs the per-file enrichment pipeline. Construct once per
// run and share across files; the progress counter and rate bucket span
// the whole process.
type Processor struct {
	cfg      config.Config
	store    *cache.Store
	client   Enricher
	bucket   *ratelimit.Bucket
	filter   *cdnfilter.Filter
	archiver *archive.Writer
	progress *ratelimit.Counter
}

// NewProcessor wires the pipeline components. archiver may be nil.
// progressEvery throttles the shared lookup progress line; callers pass
// a longer interval when stdout is not interactive.
func NewProcessor(cfg config.Config, store *cache.Store, client Enricher, bucket *ratelimit.Bucket, archiver *archive.Writer, progressEvery time.Duration) *Processor {
	return &Processor{
		cfg:      cfg,
		store:    store,
		client:   client,
		bucket:   bucket,
		filter:   cdnfilter.New(cfg.CDNDomainKeys, cfg.CDNOrgKeys, cfg.CDNASNs),
		archiver: archiver,
		progress: ratelimit.NewCounter(progressEvery),
	}
}

// ProcessFile runs filter → selection → pool lookups → merge →
// consensus for one partition and returns the enriched table. A
// cancelled context stops admission of new lookups; in-flight lookups
// finish naturally and still reach the cache, but the file itself is
// reported as interrupted and produces no output.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Table, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	if _, ok := t.Col(ColSrc); !ok {
		return nil, fmt.Errorf("pipeline: %s: no %s or %s column", filepath.Base(path), ColSrc, ColTarget)
	}

	if p.cfg.CDNExclude {
		before := len(t.Rows)
		t.Filter(func(row int) bool {
			asn, hasASN := t.ASN(row)
			return !p.filter.Exclude(t.Value(row, ColDomain), asn, hasASN, t.OrgText(row))
		})
		log.Printf("CDN: %s: excluded %s rows (remain %s)",
			filepath.Base(path),
			humanize.Comma(int64(before-len(t.Rows))),
			humanize.Comma(int64(len(t.Rows))))
	}

	ips := p.candidates(t)
	toQuery := SelectLookups(ips, p.store, SelectOptions{
		RetryFailed:  p.cfg.RetryFailed,
		RetryEmptyCC: p.cfg.RetryEmptyCC,
		Budget:       p.cfg.Budget,
	})
	if len(toQuery) > 0 {
		log.Printf("RDAP: %s: %s fresh lookups (%s distinct IPs)",
			filepath.Base(path),
			humanize.Comma(int64(len(toQuery))),
			humanize.Comma(int64(len(ips))))
		if err := p.runPool(ctx, toQuery); err != nil {
			return nil, err
		}
	}

	p.merge(t)
	return t, nil
}

// candidates returns the distinct non-empty source IPs in first-seen
// order, optionally restricted to rows the dataset already labels with
// a tracked country.
func (p *Processor) candidates(t *Table) []string {
	_, hasCC := t.Col(ColCountryCode)
	restrict := p.cfg.OnlyRUUA && hasCC

	seen := make(map[string]struct{})
	tracked := make(map[string]struct{})
	var ips []string
	for row := range t.Rows {
		ip := t.Value(row, ColSrc)
		if ip == "" {
			continue
		}
		if restrict && consensus.Tracked(t.Value(row, ColCountryCode)) {
			tracked[ip] = struct{}{}
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	if !restrict {
		return ips
	}
	var out []string
	for _, ip := range ips {
		if _, ok := tracked[ip]; ok {
			out = append(out, ip)
		}
	}
	return out
}

// runPool dispatches one task per IP onto a bounded worker pool.
// Completion order is unordered; each IP is scheduled at most once, so
// workers never race on the same cache key.
func (p *Processor) runPool(ctx context.Context, toQuery []string) error {
	workers := p.cfg.Workers
	if workers > len(toQuery) {
		workers = len(toQuery)
	}

	// Admission honors cancellation, but dispatched lookups run to
	// completion so their results still reach the durable cache.
	lookupCtx := context.WithoutCancel(ctx)
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				p.lookup(lookupCtx, ip)
			}
		}()
	}
submit:
	for _, ip := range toQuery {
		select {
		case <-ctx.Done():
			break submit
		case jobs <- ip:
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) lookup(ctx context.Context, ip string) {
	p.bucket.Wait()
	entry := p.client.Enrich(ctx, ip)
	p.store.Put(ip, entry)
	p.archiver.Enqueue(ip, entry)
	if total, emit := p.progress.Inc(); emit {
		log.Printf("RDAP: %s lookups completed this run", humanize.Comma(int64(total)))
	}
}

// merge left-joins the cached results into the rows by IP and appends
// the consensus columns. Row order is untouched.
func (p *Processor) merge(t *Table) {
	n := len(t.Rows)
	okCol := make([]string, n)
	ccCol := make([]string, n)
	orgCol := make([]string, n)
	cidrCol := make([]string, n)
	rirCol := make([]string, n)
	errCol := make([]string, n)
	consCol := make([]string, n)
	ruleCol := make([]string, n)

	for row := 0; row < n; row++ {
		rdapCC := ""
		if e, ok := p.store.Get(t.Value(row, ColSrc)); ok {
			if e.OK {
				okCol[row] = "true"
			} else {
				okCol[row] = "false"
			}
			ccCol[row] = e.NetCC
			orgCol[row] = e.Org
			cidrCol[row] = e.CIDR
			rirCol[row] = e.Registry
			errCol[row] = e.Error
			rdapCC = e.NetCC
		}
		consCol[row], ruleCol[row] = consensus.Resolve(t.Value(row, ColCountryCode), rdapCC, p.cfg.StrictOnly)
	}

	values := [][]string{okCol, ccCol, orgCol, cidrCol, rirCol, errCol, consCol, ruleCol}
	for i, name := range AddedColumns {
		t.AddColumn(name, values[i])
	}
}

// Lookups reports the number of fresh lookups performed so far.
func (p *Processor) Lookups() uint64 {
	return p.progress.Total()
}

// Program rdapenrich enriches per-IP CSV partitions with RDAP registry
// metadata: it discovers the input files, restricts them to this
// shard's deterministic subset, and runs each through CDN filtering,
// rate-limited concurrent lookups, cache merge, and country consensus,
// mirroring the input tree to the output directory. Lookup results are
// deduplicated through a durable JSONL cache shared by all shards.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"rdapenrich/archive"
	"rdapenrich/cache"
	"rdapenrich/config"
	"rdapenrich/internal/ratelimit"
	"rdapenrich/pipeline"
	"rdapenrich/rdap"
)

const defaultConfigPath = "data/rdap.yaml"

func main() {
	configPath := defaultConfigPath
	if env := os.Getenv(config.EnvConfigPath); env != "" {
		configPath = env
	}
	var (
		flagConfig     = flag.String("config", configPath, "path to YAML config")
		flagShardIdx   = flag.Int("shard-idx", -1, "override shard index")
		flagShardTotal = flag.Int("shard-total", 0, "override shard total")
	)
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if *flagShardIdx >= 0 {
		cfg.ShardIndex = *flagShardIdx
	}
	if *flagShardTotal > 0 {
		cfg.ShardTotal = *flagShardTotal
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		cfg.Print()
	}

	if err := run(cfg, interactive); err != nil {
		log.Fatalf("RDAP: %v", err)
	}
}

func run(cfg config.Config, interactive bool) error {
	// Fatal before any work: missing input root or zero input files.
	files, err := pipeline.Discover(cfg.InputDir)
	if err != nil {
		return err
	}
	assigned := pipeline.Assign(files, cfg.ShardIndex, cfg.ShardTotal)
	log.Printf("RDAP: total_files=%s shard=%d/%d assigned=%s",
		humanize.Comma(int64(len(files))), cfg.ShardIndex, cfg.ShardTotal,
		humanize.Comma(int64(len(assigned))))

	store, err := cache.Open(cfg.CachePath, 0)
	if err != nil {
		return err
	}
	log.Printf("Cache: %s entries loaded from %s", humanize.Comma(int64(store.Len())), cfg.CachePath)
	if err := store.Start(); err != nil {
		return err
	}
	// Stopped with a full drain only after the last assigned file, so
	// every lookup performed during the run is durably recorded.
	defer store.Stop()

	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		archiver, err = archive.NewWriter(cfg.Archive)
		if err != nil {
			return err
		}
		archiver.Start()
		defer archiver.Stop()
	}

	journal, err := pipeline.NewJournal(cfg.OutputDir)
	if err != nil {
		return err
	}

	client := rdap.NewClient(cfg.BaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	bucket := ratelimit.NewBucket(cfg.QPS, cfg.Burst)
	progressEvery := 2 * time.Second
	if !interactive {
		progressEvery = 30 * time.Second
	}
	proc := pipeline.NewProcessor(cfg, store, client, bucket, archiver, progressEvery)

	// Interrupts stop file admission; the deferred store.Stop still
	// drains completed lookups before exit.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("RDAP: received %v, finishing current file and draining cache", sig)
		cancel()
	}()

	done := 0
	for _, path := range assigned {
		if ctx.Err() != nil {
			break
		}
		rel, err := filepath.Rel(cfg.InputDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		outPath := filepath.Join(cfg.OutputDir, rel)

		if cfg.SkipIfExists {
			if _, err := os.Stat(outPath); err == nil {
				log.Printf("RDAP: skip %s (exists)", rel)
				if err := journal.Progress(pipeline.JournalRecord{File: rel, Status: pipeline.StatusSkipExists}); err != nil {
					log.Printf("Journal: %v", err)
				}
				done++
				continue
			}
		}

		log.Printf("RDAP: processing %s -> %s", rel, outPath)
		if err := processOne(ctx, proc, journal, path, rel, outPath); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			// File-level failures are journaled and never stop the
			// shard's run; recovery is a re-run with skip_if_exists.
			log.Printf("RDAP: error %s: %v", rel, err)
			if err := journal.Failure(rel + ": " + err.Error()); err != nil {
				log.Printf("Journal: %v", err)
			}
			if err := journal.Progress(pipeline.JournalRecord{File: rel, Status: pipeline.StatusError, Error: err.Error()}); err != nil {
				log.Printf("Journal: %v", err)
			}
		}
		done++
	}

	log.Printf("RDAP: done, %s/%s files handled, %s fresh lookups",
		humanize.Comma(int64(done)), humanize.Comma(int64(len(assigned))),
		humanize.Comma(int64(proc.Lookups())))
	return nil
}

func processOne(ctx context.Context, proc *pipeline.Processor, journal *pipeline.Journal, path, rel, outPath string) error {
	t, err := proc.ProcessFile(ctx, path)
	if err != nil {
		return err
	}
	if err := pipeline.WriteAtomic(outPath, t); err != nil {
		return err
	}
	if err := journal.Progress(pipeline.JournalRecord{File: rel, Status: pipeline.StatusOK, Rows: len(t.Rows)}); err != nil {
		log.Printf("Journal: %v", err)
	}
	return nil
}

// Package config loads the enrichment pipeline configuration from YAML
// with environment overrides for the sharding knobs, so a single config
// file can drive N independent shard processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvShardIdx and EnvShardTotal override the config-driven shard
// assignment at runtime. They exist so sharded runs can share one
// config file and differ only in environment.
const (
	EnvShardIdx   = "RDAP_SHARD_IDX"
	EnvShardTotal = "RDAP_SHARD_TOTAL"
	EnvConfigPath = "RDAP_CONFIG"
)

// Config represents the complete pipeline configuration.
type Config struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	CachePath string `yaml:"cache_path"`

	Workers int     `yaml:"workers"`
	QPS     float64 `yaml:"qps"`
	Burst   int     `yaml:"burst"`
	Budget  int     `yaml:"budget"`

	RetryFailed  bool `yaml:"retry_failed"`
	RetryEmptyCC bool `yaml:"retry_empty_cc"`

	OnlyRUUA   bool `yaml:"only_ruua"`
	StrictOnly bool `yaml:"strict_only"`

	ShardIndex int `yaml:"shard_index"`
	ShardTotal int `yaml:"shard_total"`

	SkipIfExists bool `yaml:"skip_if_exists"`

	CDNExclude    bool     `yaml:"cdn_exclude"`
	CDNASNs       []int64  `yaml:"cdn_asns"`
	CDNDomainKeys []string `yaml:"cdn_domain_keys"`
	CDNOrgKeys    []string `yaml:"cdn_org_keys"`

	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	BaseURL            string `yaml:"base_url"`

	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig contains settings for the optional SQLite lookup archive.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DBPath          string `yaml:"db_path"`
	QueueSize       int    `yaml:"queue_size"`
	BatchSize       int    `yaml:"batch_size"`
	BatchIntervalMS int    `yaml:"batch_interval_ms"`
}

// Default returns the built-in configuration matching a conservative
// single-shard run.
func Default() Config {
	return Config{
		InputDir:           "data/enriched_monthly/all",
		OutputDir:          "data/enriched_monthly_rdap/all",
		CachePath:          "data/rdap_cache.jsonl",
		Workers:            48,
		QPS:                12,
		Burst:              36,
		Budget:             0,
		RetryFailed:        true,
		RetryEmptyCC:       true,
		OnlyRUUA:           false,
		StrictOnly:         false,
		ShardIndex:         0,
		ShardTotal:         1,
		SkipIfExists:       true,
		CDNExclude:         true,
		HTTPTimeoutSeconds: 12,
		BaseURL:            "https://rdap.org",
		Archive: ArchiveConfig{
			Enabled:         false,
			DBPath:          "data/rdap_archive.db",
			QueueSize:       10000,
			BatchSize:       200,
			BatchIntervalMS: 1000,
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. A missing file is not an error: the defaults
// (plus environment) are returned, so quickstart runs need no config
// file at all.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvShardIdx)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvShardIdx, v, err)
		}
		c.ShardIndex = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvShardTotal)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvShardTotal, v, err)
		}
		c.ShardTotal = n
	}
	return nil
}

// Validate reports configuration errors that should stop the run before
// any work begins.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InputDir) == "" {
		return fmt.Errorf("config: input_dir is empty")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("config: output_dir is empty")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("config: cache_path is empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be > 0")
	}
	if c.QPS <= 0 {
		return fmt.Errorf("config: qps must be > 0")
	}
	if c.Burst <= 0 {
		return fmt.Errorf("config: burst must be > 0")
	}
	if c.ShardTotal < 1 {
		return fmt.Errorf("config: shard_total must be >= 1")
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardTotal {
		return fmt.Errorf("config: shard_index %d out of range for shard_total %d", c.ShardIndex, c.ShardTotal)
	}
	return nil
}

// Print displays the effective configuration.
func (c *Config) Print() {
	fmt.Printf("Input: %s -> %s\n", c.InputDir, c.OutputDir)
	fmt.Printf("Cache: %s\n", c.CachePath)
	fmt.Printf("Lookups: workers=%d qps=%.1f burst=%d budget=%d\n", c.Workers, c.QPS, c.Burst, c.Budget)
	fmt.Printf("Retry: failed=%v empty_cc=%v\n", c.RetryFailed, c.RetryEmptyCC)
	fmt.Printf("Shard: %d/%d (skip_if_exists=%v)\n", c.ShardIndex, c.ShardTotal, c.SkipIfExists)
	if c.OnlyRUUA {
		fmt.Printf("Candidates restricted to RU/UA dataset labels\n")
	}
	if c.StrictOnly {
		fmt.Printf("Consensus: strict-only\n")
	}
	if c.CDNExclude {
		fmt.Printf("CDN exclusion: enabled\n")
	}
	if c.Archive.Enabled {
		fmt.Printf("Archive: %s (batch=%d)\n", c.Archive.DBPath, c.Archive.BatchSize)
	}
}

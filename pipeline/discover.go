package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Discover returns the input CSV partitions under root in stable
// lexicographic order, preferring the nested per-year layout
// (root/<dir>/*.csv) and falling back to a flat root/*.csv. A missing
// root or an empty file set is a fatal condition diagnosed before any
// work begins.
func Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("pipeline: input dir not found: %s", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read input dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := filepath.Glob(filepath.Join(root, e.Name(), "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("pipeline: glob: %w", err)
		}
		sort.Strings(sub)
		files = append(files, sub...)
	}
	if len(files) == 0 {
		flat, err := filepath.Glob(filepath.Join(root, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("pipeline: glob: %w", err)
		}
		sort.Strings(flat)
		files = flat
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("pipeline: no input CSVs under: %s", root)
	}
	return files, nil
}

// Assign keeps the files belonging to one shard: position mod total ==
// index over the stable enumeration. Assignments across indices are
// disjoint and exhaustive by construction.
func Assign(files []string, index, total int) []string {
	if total < 1 {
		total = 1
	}
	var mine []string
	for i, f := range files {
		if i%total == index {
			mine = append(mine, f)
		}
	}
	return mine
}

// Package filesreconcile implements the "downloaded vs. expected"
// reconciliation behind POST /runs/chunk/files and
// POST /runs/chunk/files/incomplete: compare a level's expected file
// candidates against what the registry records as actually downloaded at
// that level, and re-emit the remaining-to-download artifact, chunked.
package filesreconcile

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/internal/sink/storage"
)

// Result reports one level's reconciliation outcome.
type Result struct {
	Level     int
	Expected  int
	Remaining []string
}

// ReconcileLevel compares files-level-<L>.json against the registry's
// per-URL download record for level, writes files-level-<L>.remaining.json
// (whole and, when chunkSize > 0, chunked), and returns the outstanding
// URLs. Callers must hold the process-wide mutation lock (§5).
func ReconcileLevel(roots *layout.Roots, domain string, level int, chunkSize int, encoding artifact.Encoding) (*Result, error) {
	expectedPath := roots.FilesLevelArtifact(domain, level)
	expectedRows, err := readIfExists(expectedPath)
	if err != nil {
		return nil, err
	}
	expected := artifact.URLsOf(expectedRows)

	store, err := registry.Load(roots, domain)
	if err != nil {
		return nil, err
	}
	downloaded := downloadedURLsAtLevel(store, level)

	remaining := make([]string, 0, len(expected))
	for _, u := range expected {
		if !downloaded[u] {
			remaining = append(remaining, u)
		}
	}

	rows := make([]artifact.Row, 0, len(remaining))
	for _, u := range remaining {
		rows = append(rows, artifact.Row{"url": u})
	}
	meta := artifact.Meta{Level: level, Kind: "files"}
	remainingPath := roots.FilesRemainingArtifact(domain, level)
	if err := artifact.Write(remainingPath, rows, meta, encoding); err != nil {
		return nil, err
	}
	if chunkSize > 0 {
		if err := artifact.WriteChunked(remainingPath, rows, meta, encoding, chunkSize); err != nil {
			return nil, err
		}
	}

	return &Result{Level: level, Expected: len(expected), Remaining: remaining}, nil
}

// ReconcileIncomplete sweeps every level with an expected-files artifact
// for domain and reconciles only those still carrying outstanding URLs,
// per §6's "sweep all levels per domain, reconcile only the incomplete
// ones".
func ReconcileIncomplete(roots *layout.Roots, domain string, chunkSize int, encoding artifact.Encoding) ([]*Result, error) {
	levels, err := discoverLevels(roots, domain)
	if err != nil {
		return nil, err
	}

	var out []*Result
	for _, level := range levels {
		res, err := ReconcileLevel(roots, domain, level, chunkSize, encoding)
		if err != nil {
			return nil, err
		}
		if len(res.Remaining) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

func downloadedURLsAtLevel(store *registry.Store, level int) map[string]bool {
	seen := make(map[string]bool)
	for _, rec := range store.Records {
		for _, src := range rec.Sources {
			if src.Level == level {
				seen[src.URL] = true
			}
		}
	}
	return seen
}

func readIfExists(path string) ([]artifact.Row, error) {
	if !storage.Exists(path) {
		return nil, nil
	}
	return artifact.Read(path)
}

// discoverLevels lists every level with a files-level-<L>.json artifact
// under domain's artifacts directory, ascending.
func discoverLevels(roots *layout.Roots, domain string) ([]int, error) {
	dir := roots.ArtifactsDir(domain)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	const prefix = "files-level-"
	const suffix = ".json"
	var levels []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if strings.Contains(mid, ".") || strings.Contains(mid, "-") {
			continue // skip diff/removed/remaining/part variants
		}
		n, err := strconv.Atoi(mid)
		if err != nil {
			continue
		}
		levels = append(levels, n)
	}
	sort.Ints(levels)
	return levels, nil
}

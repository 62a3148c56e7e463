// Package streaming implements the start/append/finalize run-bucket
// workflow of §4.7: a JSONL append log per (domain, level, run_id) that
// replays into a single frontier.Merge call at finalize time.
package streaming

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/frontier"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/sinkerr"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/internal/sink/urlnorm"
	"github.com/bfscrawl/sink/pkg/types"
)

// DoneMarker is the JSON body written to a bucket's ".done" sibling.
type DoneMarker struct {
	Visited int `json:"visited"`
	Pages   int `json:"pages"`
	Files   int `json:"files"`
}

// Start truncates the JSONL bucket for (domain, level, runID) and removes
// any stale .done marker and compressed .lz4 copy from a prior run, per
// §4.7's start step.
func Start(roots *layout.Roots, domain string, level int, runID string) error {
	path := roots.StreamingBucketFile(domain, level, runID)
	if err := storage.TruncateFile(path); err != nil {
		return err
	}
	if err := storage.RemoveIfExists(path + ".lz4"); err != nil {
		return err
	}
	return storage.RemoveIfExists(roots.DoneMarkerFile(path))
}

// Append writes one record to the bucket under the caller's lock.
func Append(roots *layout.Roots, domain string, level int, runID string, record types.StreamingRecord) error {
	path := roots.StreamingBucketFile(domain, level, runID)
	record.Level = level
	record.RunID = runID
	return storage.AppendJSONLine(path, record)
}

// FinalizeOptions carries the artifact-writing knobs finalize forwards to
// the frontier engine.
type FinalizeOptions struct {
	UpdateMode bool
	Patch      bool
	Replace    bool
	ChunkSize  int
	Encoding   artifact.Encoding
}

// FinalizeResult summarizes one finalize call, mirroring the .done marker
// body and adding the frontier merge result for callers that need it.
type FinalizeResult struct {
	DoneMarker DoneMarker
	Merge      *frontier.Result
	Remaining  []string
	AlreadyDone bool
}

// Finalize replays the JSONL bucket for (domain, level, runID), unions its
// visited/pages records, merges its files by URL, and invokes the frontier
// engine as if the whole batch had arrived at once. It then emits a
// "remaining" artifact (input frontier minus this run's visited set) and
// writes a .done marker. A second finalize over an already-done bucket is
// a no-op that returns AlreadyDone=true, satisfying §4.7's idempotence
// requirement.
func Finalize(roots *layout.Roots, domain string, level int, runID string, opts FinalizeOptions) (*FinalizeResult, error) {
	path := roots.StreamingBucketFile(domain, level, runID)
	donePath := roots.DoneMarkerFile(path)

	if storage.Exists(donePath) {
		var marker DoneMarker
		if err := storage.ReadJSON(donePath, &marker); err != nil {
			return nil, err
		}
		return &FinalizeResult{DoneMarker: marker, AlreadyDone: true}, nil
	}

	visited, pages, files, err := replay(path)
	if err != nil {
		return nil, err
	}

	mergeRes, err := frontier.Merge(roots, domain, frontier.Request{
		Level:           level,
		Visited:         visited,
		DiscoveredPages: pages,
		DiscoveredFiles: files,
		UpdateMode:      opts.UpdateMode,
		Patch:           opts.Patch,
		Replace:         opts.Replace,
		ChunkSize:       opts.ChunkSize,
		Encoding:        opts.Encoding,
	})
	if err != nil {
		return nil, err
	}

	inputRows, err := artifact.Read(roots.UrlsLevelArtifact(domain, level))
	if err != nil {
		return nil, err
	}
	inputFrontier := artifact.URLsOf(inputRows)

	visitedSet := make(map[string]bool, len(visited))
	for _, u := range visited {
		visitedSet[u] = true
	}
	remaining := make([]string, 0, len(inputFrontier))
	for _, u := range inputFrontier {
		if !visitedSet[u] {
			remaining = append(remaining, u)
		}
	}

	remainingPath := roots.UrlsRemainingArtifact(domain, level)
	rows := make([]artifact.Row, 0, len(remaining))
	for _, u := range remaining {
		rows = append(rows, artifact.Row{"url": u})
	}
	meta := artifact.Meta{Level: level, Kind: "urls"}
	if err := artifact.Write(remainingPath, rows, meta, opts.Encoding); err != nil {
		return nil, err
	}
	if opts.ChunkSize > 0 {
		if err := artifact.WriteChunked(remainingPath, rows, meta, opts.Encoding, opts.ChunkSize); err != nil {
			return nil, err
		}
	}

	marker := DoneMarker{
		Visited: len(visited),
		Pages:   len(pages),
		Files:   len(files),
	}
	if err := storage.WriteJSONAtomic(donePath, marker); err != nil {
		return nil, err
	}
	if err := compressBucket(path); err != nil {
		return nil, err
	}

	return &FinalizeResult{
		DoneMarker: marker,
		Merge:      mergeRes,
		Remaining:  remaining,
	}, nil
}

// compressBucket writes an lz4-compressed copy of a finalized bucket
// alongside the original at path+".lz4". The raw JSONL is left in place
// for audit rather than deleted; the compressed copy is what operators
// read back for bulk storage/retrieval of old runs.
func compressBucket(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sinkerr.NewFilesystemTransient("streaming: read bucket for compression", err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return sinkerr.NewInternalFailure("streaming: lz4 compress bucket", err)
	}
	if err := zw.Close(); err != nil {
		return sinkerr.NewInternalFailure("streaming: lz4 close bucket writer", err)
	}

	return storage.WriteFileAtomic(path+".lz4", buf.Bytes())
}

// replay reads every record in the bucket's JSONL log and reduces it to a
// deduplicated visited set, page set, and merged file-candidate list, per
// §4.7's "union visited/pages, merge files by URL" replay step.
func replay(path string) (visited, pages []string, files []types.FileCandidate, err error) {
	var visitedAll, pagesAll []string
	byURL := make(map[string]types.FileCandidate)
	var order []string

	scanErr := storage.ReadJSONLines(path, func() interface{} {
		return &types.StreamingRecord{}
	}, func(v interface{}) error {
		rec := v.(*types.StreamingRecord)
		visitedAll = append(visitedAll, rec.Visited...)
		pagesAll = append(pagesAll, rec.Pages...)
		for _, fc := range rec.Files {
			if existing, ok := byURL[fc.URL]; ok {
				byURL[fc.URL] = types.MergeFileCandidate(existing, fc)
				continue
			}
			byURL[fc.URL] = fc
			order = append(order, fc.URL)
		}
		return nil
	})
	if scanErr != nil {
		return nil, nil, nil, scanErr
	}

	files = make([]types.FileCandidate, 0, len(order))
	for _, u := range order {
		files = append(files, byURL[u])
	}

	return urlnorm.StableUniq(visitedAll), urlnorm.StableUniq(pagesAll), files, nil
}

// BucketKey identifies one streaming bucket found during a filesystem scan.
type BucketKey struct {
	Path  string
	Level int
	RunID string
	Size  int64
	Done  bool
}

// FindByFilename locates a streaming bucket across every domain under
// runs/, matching by the bucket's base filename (level + safe(run_id)),
// and returns the largest match — the cross-domain fallback lookup of
// §4.7, for requests that arrive with only a run_id and level.
func FindByFilename(roots *layout.Roots, level int, runID string) (domain string, path string, ok bool) {
	wantSuffix := layout.SafeRunID(runID)
	entries, err := os.ReadDir(roots.RunsRootDir())
	if err != nil {
		return "", "", false
	}

	var bestSize int64 = -1
	for _, domainEntry := range entries {
		if !domainEntry.IsDir() {
			continue
		}
		d := domainEntry.Name()
		candidate := roots.StreamingBucketFile(d, level, wantSuffix)
		info, statErr := os.Stat(candidate)
		if statErr != nil {
			continue
		}
		if !ok || info.Size() > bestSize {
			domain, path, ok, bestSize = d, candidate, true, info.Size()
		}
	}
	return domain, path, ok
}

// ListPendingBuckets scans every runs/<domain>/*.jsonl file and returns
// those without a .done sibling, for the auto-finalize watchdog.
func ListPendingBuckets(roots *layout.Roots) ([]BucketKey, error) {
	root := roots.RunsRootDir()
	domainEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sinkerr.NewFilesystemTransient("streaming: list runs root", err)
	}

	var pending []BucketKey
	for _, de := range domainEntries {
		if !de.IsDir() {
			continue
		}
		domainDir := filepath.Join(root, de.Name())
		files, err := os.ReadDir(domainDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			full := filepath.Join(domainDir, name)
			if storage.Exists(full + ".done") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			level, runID := parseBucketName(name)
			pending = append(pending, BucketKey{
				Path:  full,
				Level: level,
				RunID: runID,
				Size:  info.Size(),
			})
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Path < pending[j].Path })
	return pending, nil
}

// parseBucketName extracts the level and run_id suffix embedded in a
// "discover_level_<L>_<runID>.jsonl" bucket filename.
func parseBucketName(name string) (level int, runID string) {
	trimmed := strings.TrimSuffix(name, ".jsonl")
	const prefix = "discover_level_"
	if !strings.HasPrefix(trimmed, prefix) {
		return 0, trimmed
	}
	rest := trimmed[len(prefix):]
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return 0, rest
	}
	level = atoiLenient(rest[:idx])
	runID = rest[idx+1:]
	return level, runID
}

func atoiLenient(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Package frontier implements the BFS frontier/dedupe engine of §4.3:
// merging one level's incoming discoveries into per-domain state and
// computing the next level's frontier by subtracting everything already
// seen at lower levels.
package frontier

import (
	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/state"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/internal/sink/urlnorm"
	"github.com/bfscrawl/sink/pkg/types"
)

// Request bundles one dedupe-at-level call's input, matching the
// POST /dedupe/level wire shape.
type Request struct {
	Level           int
	Visited         []string
	DiscoveredPages []string
	DiscoveredFiles []types.FileCandidate
	UpdateMode      bool
	Patch           bool
	Replace         bool
	ChunkSize       int
	Encoding        artifact.Encoding
}

// Result reports what the merge produced, for callers that need counts
// (e.g. the streaming finalize summary or an HTTP response body).
type Result struct {
	NextFrontier []string
	NewFiles     []types.FileCandidate
	FilesLevel   []types.FileCandidate
}

// Merge runs the full §4.3 algorithm for one request against the domain's
// persisted state, writing the resulting artifacts and returning a
// summary. domain is the already-resolved DomainKey; roots is the
// project's layout.
func Merge(roots *layout.Roots, domain string, req Request) (*Result, error) {
	dom, err := state.Load(roots, domain)
	if err != nil {
		return nil, err
	}

	seenPages, seenFiles := dom.SeenPriorTo(req.Level)

	visitedSet := make(map[string]bool, len(req.Visited))
	for _, u := range req.Visited {
		visitedSet[u] = true
	}

	mergedFiles := mergeFileCandidates(req.DiscoveredFiles)

	nextFrontier := make([]string, 0, len(req.DiscoveredPages))
	for _, u := range urlnorm.StableUniq(req.DiscoveredPages) {
		if seenPages[u] || visitedSet[u] {
			continue
		}
		nextFrontier = append(nextFrontier, u)
	}

	newFiles := make([]types.FileCandidate, 0, len(mergedFiles))
	for _, fc := range mergedFiles {
		if seenFiles[fc.URL] {
			continue
		}
		newFiles = append(newFiles, fc)
	}

	ls := dom.Level(req.Level)
	if req.Replace {
		ls.Visited = urlnorm.StableUniq(req.Visited)
		ls.DiscoveredPages = urlnorm.StableUniq(req.DiscoveredPages)
		ls.DiscoveredFiles = make(map[string]types.FileCandidate, len(mergedFiles))
		ls.FileOrder = nil
		for _, fc := range mergedFiles {
			ls.DiscoveredFiles[fc.URL] = fc
			ls.FileOrder = append(ls.FileOrder, fc.URL)
		}
	} else {
		ls.Visited = urlnorm.StableUniq(append(ls.Visited, req.Visited...))
		ls.DiscoveredPages = urlnorm.StableUniq(append(ls.DiscoveredPages, req.DiscoveredPages...))
		if ls.DiscoveredFiles == nil {
			ls.DiscoveredFiles = make(map[string]types.FileCandidate)
		}
		for _, fc := range mergedFiles {
			if existing, ok := ls.DiscoveredFiles[fc.URL]; ok {
				ls.DiscoveredFiles[fc.URL] = types.MergeFileCandidate(existing, fc)
			} else {
				ls.DiscoveredFiles[fc.URL] = fc
				ls.FileOrder = append(ls.FileOrder, fc.URL)
			}
		}
	}

	if err := state.Save(roots, domain, dom); err != nil {
		return nil, err
	}

	filesLevel := orderedFiles(ls)

	if err := writeArtifacts(roots, domain, req, nextFrontier, filesLevel, newFiles); err != nil {
		return nil, err
	}

	return &Result{
		NextFrontier: nextFrontier,
		NewFiles:     newFiles,
		FilesLevel:   filesLevel,
	}, nil
}

// mergeFileCandidates merges a single request's file candidates by URL,
// per §4.3 step 2 (prefer non-null source_page_url and non-"bin" ext).
func mergeFileCandidates(in []types.FileCandidate) []types.FileCandidate {
	order := make([]string, 0, len(in))
	byURL := make(map[string]types.FileCandidate, len(in))
	for _, fc := range in {
		if existing, ok := byURL[fc.URL]; ok {
			byURL[fc.URL] = types.MergeFileCandidate(existing, fc)
			continue
		}
		byURL[fc.URL] = fc
		order = append(order, fc.URL)
	}
	out := make([]types.FileCandidate, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}

func orderedFiles(ls *types.LevelState) []types.FileCandidate {
	out := make([]types.FileCandidate, 0, len(ls.FileOrder))
	for _, u := range ls.FileOrder {
		if fc, ok := ls.DiscoveredFiles[u]; ok {
			out = append(out, fc)
		}
	}
	return out
}

func writeArtifacts(roots *layout.Roots, domain string, req Request, nextFrontier []string, filesLevel, newFiles []types.FileCandidate) error {
	encoding := req.Encoding

	urlsPath := roots.UrlsLevelArtifact(domain, req.Level+1)
	filesPath := roots.FilesLevelArtifact(domain, req.Level)

	var priorURLRows, priorFileRows []artifact.Row
	if req.UpdateMode {
		var err error
		priorURLRows, err = readIfExists(urlsPath)
		if err != nil {
			return err
		}
		priorFileRows, err = readIfExists(filesPath)
		if err != nil {
			return err
		}
	}

	finalURLs := nextFrontier
	if req.Patch && req.UpdateMode {
		finalURLs = unionStrings(artifact.URLsOf(priorURLRows), nextFrontier)
	}

	if err := writeURLRows(urlsPath, finalURLs, req.Level+1, "urls", encoding, req.ChunkSize); err != nil {
		return err
	}

	finalFiles := filesLevel
	if req.Patch && req.UpdateMode {
		finalFiles = mergeFileCandidates(append(fileCandidatesFromRows(priorFileRows), filesLevel...))
	}
	if err := writeFileRows(filesPath, finalFiles, req.Level, "files", encoding, req.ChunkSize); err != nil {
		return err
	}

	if req.UpdateMode {
		priorURLs := artifact.URLsOf(priorURLRows)
		added, removed := diffStrings(priorURLs, finalURLs)
		if err := writeURLRows(roots.UrlsDiffArtifact(domain, req.Level+1), added, req.Level+1, "urls", encoding, 0); err != nil {
			return err
		}
		if err := writeURLRows(roots.UrlsRemovedArtifact(domain, req.Level+1), removed, req.Level+1, "urls", encoding, 0); err != nil {
			return err
		}

		priorFiles := fileCandidatesFromRows(priorFileRows)
		addedFiles, removedFiles := diffFileCandidates(priorFiles, finalFiles)
		if err := writeFileRows(roots.FilesDiffArtifact(domain, req.Level), addedFiles, req.Level, "files", encoding, 0); err != nil {
			return err
		}
		if err := writeFileRows(roots.FilesRemovedArtifact(domain, req.Level), removedFiles, req.Level, "files", encoding, 0); err != nil {
			return err
		}
	}

	return nil
}

func readIfExists(path string) ([]artifact.Row, error) {
	if !storage.Exists(path) {
		return nil, nil
	}
	return artifact.Read(path)
}

func writeURLRows(path string, urls []string, level int, kind string, encoding artifact.Encoding, chunkSize int) error {
	rows := make([]artifact.Row, 0, len(urls))
	for _, u := range urls {
		rows = append(rows, artifact.Row{"url": u})
	}
	meta := artifact.Meta{Level: level, Kind: kind}
	if err := artifact.Write(path, rows, meta, encoding); err != nil {
		return err
	}
	if chunkSize > 0 {
		return artifact.WriteChunked(path, rows, meta, encoding, chunkSize)
	}
	return nil
}

func writeFileRows(path string, files []types.FileCandidate, level int, kind string, encoding artifact.Encoding, chunkSize int) error {
	rows := make([]artifact.Row, 0, len(files))
	for _, fc := range files {
		row, err := artifact.MarshalRow(fc)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	meta := artifact.Meta{Level: level, Kind: kind}
	if err := artifact.Write(path, rows, meta, encoding); err != nil {
		return err
	}
	if chunkSize > 0 {
		return artifact.WriteChunked(path, rows, meta, encoding, chunkSize)
	}
	return nil
}

func fileCandidatesFromRows(rows []artifact.Row) []types.FileCandidate {
	out := make([]types.FileCandidate, 0, len(rows))
	for _, r := range rows {
		fc := types.FileCandidate{}
		if u, ok := r["url"].(string); ok {
			fc.URL = u
		}
		if ext, ok := r["ext"].(string); ok {
			fc.Ext = ext
		}
		if sp, ok := r["source_page_url"].(string); ok {
			fc.SourcePageURL = sp
		}
		if fc.URL != "" {
			out = append(out, fc)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	return urlnorm.StableUniq(append(append([]string{}, a...), b...))
}

// diffStrings returns (added, removed) between prior and next, prior
// serving as the baseline, for update-mode diff artifacts.
func diffStrings(prior, next []string) (added, removed []string) {
	priorSet := make(map[string]bool, len(prior))
	for _, u := range prior {
		priorSet[u] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, u := range next {
		nextSet[u] = true
	}
	for _, u := range next {
		if !priorSet[u] {
			added = append(added, u)
		}
	}
	for _, u := range prior {
		if !nextSet[u] {
			removed = append(removed, u)
		}
	}
	return added, removed
}

func diffFileCandidates(prior, next []types.FileCandidate) (added, removed []types.FileCandidate) {
	priorSet := make(map[string]bool, len(prior))
	for _, fc := range prior {
		priorSet[fc.URL] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, fc := range next {
		nextSet[fc.URL] = true
	}
	for _, fc := range next {
		if !priorSet[fc.URL] {
			added = append(added, fc)
		}
	}
	for _, fc := range prior {
		if !nextSet[fc.URL] {
			removed = append(removed, fc)
		}
	}
	return added, removed
}

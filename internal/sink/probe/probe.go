// Package probe implements HEAD/range-GET signature ingestion and
// change-detection of §4.8: comparing a URL's latest signature against
// its prior persisted one and, on change, folding the URL into the
// download-queue diff artifacts for a known level.
package probe

import (
	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/sinkerr"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Index is the per-domain URL -> ProbeEntry mapping persisted at
// probe_meta_index.json (§3 ProbeIndex).
type Index struct {
	Entries map[string]types.ProbeEntry `json:"entries"`
}

// LoadIndex reads the domain's probe index, returning an empty one if
// absent.
func LoadIndex(roots *layout.Roots, domain string) (*Index, error) {
	idx := &Index{}
	if err := storage.ReadJSON(roots.ProbeIndexFile(domain), idx); err != nil {
		return nil, err
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]types.ProbeEntry)
	}
	return idx, nil
}

// SaveIndex atomically persists idx.
func SaveIndex(roots *layout.Roots, domain string, idx *Index) error {
	return storage.WriteJSONAtomic(roots.ProbeIndexFile(domain), idx)
}

// Request bundles one POST /probe/meta call's input, already normalized
// at the handler boundary.
type Request struct {
	URL      string
	Level    *int
	Head     *types.Signature
	GetRange *types.Signature
}

// Result reports whether the probe's signature changed since the last
// ingestion, for the HTTP response body.
type Result struct {
	Changed   bool
	Signature types.Signature
}

// rawLogRecord is the JSONL shape appended to meta_probes.jsonl, the raw
// append-only probe log distinct from the reduced Index.
type rawLogRecord struct {
	Ts        string          `json:"ts"`
	URL       string          `json:"url"`
	Level     *int            `json:"level,omitempty"`
	Head      *types.Signature `json:"head,omitempty"`
	GetRange  *types.Signature `json:"get_range,omitempty"`
	Signature types.Signature `json:"signature"`
	Changed   bool            `json:"changed"`
}

// Ingest runs the §4.8 algorithm against the domain's persisted probe
// index and, when the signature changed and a level is known, the
// level's diff artifacts. Callers must hold the process-wide mutation
// lock (§5).
func Ingest(roots *layout.Roots, domain string, req Request, now string, encoding artifact.Encoding) (*Result, error) {
	if req.URL == "" {
		return nil, sinkerr.NewValidationFailure("probe: url is required")
	}

	sig := buildSignature(req.Head, req.GetRange)

	idx, err := LoadIndex(roots, domain)
	if err != nil {
		return nil, err
	}

	prior, had := idx.Entries[req.URL]
	changed := !had || prior.Signature.Changed(sig)

	idx.Entries[req.URL] = types.ProbeEntry{
		LastSeenTs: now,
		Level:      req.Level,
		Signature:  sig,
	}
	if err := SaveIndex(roots, domain, idx); err != nil {
		return nil, err
	}

	if err := storage.AppendJSONLine(roots.ProbeLogFile(domain), rawLogRecord{
		Ts:        now,
		URL:       req.URL,
		Level:     req.Level,
		Head:      req.Head,
		GetRange:  req.GetRange,
		Signature: sig,
		Changed:   changed,
	}); err != nil {
		return nil, err
	}

	if changed && req.Level != nil {
		if err := recordChange(roots, domain, *req.Level, req.URL, encoding); err != nil {
			return nil, err
		}
	}

	return &Result{Changed: changed, Signature: sig}, nil
}

// buildSignature prefers HEAD when it carries any identifying field,
// falling back to the ranged GET signature, per §4.8 step 1.
func buildSignature(head, getRange *types.Signature) types.Signature {
	if head != nil && head.HasAny() {
		return *head
	}
	if getRange != nil {
		return *getRange
	}
	return types.Signature{}
}

// recordChange appends url to files-meta-diff-level-L.json (a unique set
// marked "modified") and merges it, with ext/source_page_url resolved
// from files-level-L.json, into files-diff-level-L.json — the download
// queue diff (§4.8 step 4).
func recordChange(roots *layout.Roots, domain string, level int, url string, encoding artifact.Encoding) error {
	metaDiffPath := roots.FilesMetaDiffArtifact(domain, level)
	metaRows, err := readRows(metaDiffPath)
	if err != nil {
		return err
	}
	metaRows = upsertModifiedRow(metaRows, url)
	if err := artifact.Write(metaDiffPath, metaRows, artifact.Meta{Level: level, Kind: "files-meta-diff"}, encoding); err != nil {
		return err
	}

	levelRows, err := readRows(roots.FilesLevelArtifact(domain, level))
	if err != nil {
		return err
	}
	ext, sourcePageURL := lookupFileRow(levelRows, url)

	diffPath := roots.FilesDiffArtifact(domain, level)
	diffRows, err := readRows(diffPath)
	if err != nil {
		return err
	}
	diffFiles := fileCandidatesFromRows(diffRows)
	diffFiles = mergeOneCandidate(diffFiles, types.FileCandidate{URL: url, Ext: ext, SourcePageURL: sourcePageURL})

	outRows := make([]artifact.Row, 0, len(diffFiles))
	for _, fc := range diffFiles {
		row, err := artifact.MarshalRow(fc)
		if err != nil {
			return err
		}
		outRows = append(outRows, row)
	}
	return artifact.Write(diffPath, outRows, artifact.Meta{Level: level, Kind: "files-diff"}, encoding)
}

func readRows(path string) ([]artifact.Row, error) {
	if !storage.Exists(path) {
		return nil, nil
	}
	return artifact.Read(path)
}

func upsertModifiedRow(rows []artifact.Row, url string) []artifact.Row {
	for _, r := range rows {
		if u, ok := r["url"].(string); ok && u == url {
			return rows
		}
	}
	return append(rows, artifact.Row{"url": url, "status": "modified"})
}

func lookupFileRow(rows []artifact.Row, url string) (ext, sourcePageURL string) {
	for _, r := range rows {
		if u, ok := r["url"].(string); ok && u == url {
			if e, ok := r["ext"].(string); ok {
				ext = e
			}
			if sp, ok := r["source_page_url"].(string); ok {
				sourcePageURL = sp
			}
			return ext, sourcePageURL
		}
	}
	return "", ""
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

func mergeOneCandidate(existing []types.FileCandidate, incoming types.FileCandidate) []types.FileCandidate {
	for i, fc := range existing {
		if fc.URL == incoming.URL {
			existing[i] = types.MergeFileCandidate(fc, incoming)
			return existing
		}
	}
	return append(existing, incoming)
}

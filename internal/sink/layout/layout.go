// Package layout resolves the sink's persistent directory tree, rooted at
// a project root directory, into the concrete paths §6 names:
// _meta/<domain>, runs/<domain>, downloads/<domain>/<bucket>.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Roots resolves one project root into the absolute paths its subsystems
// read and write. All persisted paths are stored relative to Root; Roots
// resolves them to absolute at use sites, per §4.2.
type Roots struct {
	Root string
}

// NewRoots returns a Roots anchored at root. Root is made absolute so
// relative-path callers (e.g. a CLI invoked from an arbitrary cwd) resolve
// consistently.
func NewRoots(root string) (*Roots, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("layout: resolve root %q: %w", root, err)
	}
	return &Roots{Root: abs}, nil
}

func (r *Roots) MetaDir(domain string) string {
	return filepath.Join(r.Root, "BFS_crawl", "_meta", domain)
}

func (r *Roots) ArtifactsDir(domain string) string {
	return filepath.Join(r.MetaDir(domain), "artifacts")
}

func (r *Roots) LevelFilesDir(domain string) string {
	return filepath.Join(r.MetaDir(domain), "level_files")
}

func (r *Roots) StateFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "state.json")
}

func (r *Roots) ElectoratesFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "electorates_by_term.json")
}

func (r *Roots) ElectoratesLogFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "electorates_by_term.jsonl")
}

func (r *Roots) LevelResetsLogFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "level_resets.jsonl")
}

func (r *Roots) HashIndexFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "downloaded_hash_index.json")
}

func (r *Roots) ProbeIndexFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "probe_meta_index.json")
}

func (r *Roots) ProbeLogFile(domain string) string {
	return filepath.Join(r.MetaDir(domain), "meta_probes.jsonl")
}

func (r *Roots) LevelManifestFile(domain string, level int) string {
	return filepath.Join(r.LevelFilesDir(domain), fmt.Sprintf("%d.json", level))
}

func (r *Roots) UrlsLevelArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("urls-level-%d.json", level))
}

func (r *Roots) UrlsRemainingArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("urls-level-%d.remaining.json", level))
}

func (r *Roots) UrlsDiffArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("urls-diff-level-%d.json", level))
}

func (r *Roots) UrlsRemovedArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("urls-removed-level-%d.json", level))
}

func (r *Roots) FilesLevelArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("files-level-%d.json", level))
}

func (r *Roots) FilesDiffArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("files-diff-level-%d.json", level))
}

func (r *Roots) FilesMetaDiffArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("files-meta-diff-level-%d.json", level))
}

func (r *Roots) FilesRemovedArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("files-removed-level-%d.json", level))
}

func (r *Roots) FilesRemainingArtifact(domain string, level int) string {
	return filepath.Join(r.ArtifactsDir(domain), fmt.Sprintf("files-level-%d.remaining.json", level))
}

func (r *Roots) RunsDir(domain string) string {
	return filepath.Join(r.Root, "BFS_crawl", "runs", domain)
}

func (r *Roots) RunsRootDir() string {
	return filepath.Join(r.Root, "BFS_crawl", "runs")
}

func (r *Roots) StreamingBucketFile(domain string, level int, runID string) string {
	return filepath.Join(r.RunsDir(domain), fmt.Sprintf("discover_level_%d_%s.jsonl", level, SafeRunID(runID)))
}

func (r *Roots) DoneMarkerFile(bucketPath string) string {
	return bucketPath + ".done"
}

func (r *Roots) FileSavesLogFile(domain string) string {
	return filepath.Join(r.RunsDir(domain), "file_saves.jsonl")
}

func (r *Roots) DedupeLogFile(domain string) string {
	return filepath.Join(r.RunsDir(domain), "dedupe_log.jsonl")
}

func (r *Roots) DownloadsDir(domain string) string {
	return filepath.Join(r.Root, "BFS_crawl", "downloads", domain)
}

func (r *Roots) BucketDir(domain, bucket, subBucket string) string {
	if subBucket == "" {
		return filepath.Join(r.DownloadsDir(domain), bucket)
	}
	return filepath.Join(r.DownloadsDir(domain), bucket, subBucket)
}

func (r *Roots) QuarantineDir(domain, bucket string) string {
	return filepath.Join(r.DownloadsDir(domain), bucket, "_bad")
}

// SafeRunID replaces any character outside [A-Za-z0-9._-] with '_' and caps
// the result to 120 characters, per §4.7's bucket-key safety rule.
func SafeRunID(runID string) string {
	var b strings.Builder
	for _, r := range runID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// EnsureDir recursively creates dir if it does not exist, mirroring the
// teacher's ensureDirectory helper.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("layout: create dir %q: %w", dir, err)
	}
	return nil
}

// RelativeToRoot converts an absolute path under Root into a root-relative
// path for persistence, per §4.2's "paths stored are relative to project
// root" rule.
func (r *Roots) RelativeToRoot(absPath string) (string, error) {
	rel, err := filepath.Rel(r.Root, absPath)
	if err != nil {
		return "", fmt.Errorf("layout: relativize %q: %w", absPath, err)
	}
	return filepath.ToSlash(rel), nil
}

// AbsoluteFromRoot resolves a root-relative path (as stored in persisted
// state) back to an absolute filesystem path.
func (r *Roots) AbsoluteFromRoot(relPath string) string {
	return filepath.Join(r.Root, filepath.FromSlash(relPath))
}

package artifact

import (
	"fmt"
	"strings"

	"github.com/bfscrawl/sink/internal/sink/storage"
)

// PartEntry describes one chunk in a parts manifest.
type PartEntry struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// PartsManifest is the base.parts.json sidecar written by WriteChunked.
type PartsManifest struct {
	Kind      string      `json:"kind"`
	Level     int         `json:"level"`
	ChunkSize int         `json:"chunk_size"`
	Total     int         `json:"total"`
	Parts     []PartEntry `json:"parts"`
}

// WriteChunked splits items into contiguous chunks of at most chunkSize,
// writes each chunk to "<base>.part-<i>-of-<N>.json" (zero-padded to at
// least 4 digits), and writes a manifest to "<base>.parts.json" (§4.6).
// An empty items slice removes any pre-existing part files and manifest
// at base.
func WriteChunked(base string, items []Row, meta Meta, encoding Encoding, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(items)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	manifestPath := partsManifestPath(base)

	if len(items) == 0 {
		if err := removeExistingParts(base, manifestPath); err != nil {
			return err
		}
		return storage.RemoveIfExists(manifestPath)
	}

	total := (len(items) + chunkSize - 1) / chunkSize
	width := digitWidth(total)
	if width < 4 {
		width = 4
	}

	manifest := PartsManifest{
		Kind:      meta.Kind,
		Level:     meta.Level,
		ChunkSize: chunkSize,
		Total:     len(items),
		Parts:     make([]PartEntry, 0, total),
	}

	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		partPath := partFilePath(base, i, total, width)
		if err := Write(partPath, chunk, meta, encoding); err != nil {
			return fmt.Errorf("artifact: write chunk %d: %w", i, err)
		}

		manifest.Parts = append(manifest.Parts, PartEntry{
			Index: i,
			Path:  partPath,
			Count: len(chunk),
		})
	}

	return storage.WriteJSONAtomic(manifestPath, manifest)
}

// removeExistingParts removes any part files recorded in a pre-existing
// manifest at manifestPath, so re-chunking with zero items leaves no stale
// parts behind.
func removeExistingParts(base, manifestPath string) error {
	var existing PartsManifest
	if err := storage.ReadJSON(manifestPath, &existing); err != nil {
		return err
	}
	for _, p := range existing.Parts {
		if err := storage.RemoveIfExists(p.Path); err != nil {
			return err
		}
	}
	return nil
}

func partsManifestPath(base string) string {
	return trimJSONExt(base) + ".parts.json"
}

func partFilePath(base string, index, total, width int) string {
	return fmt.Sprintf("%s.part-%0*d-of-%d.json", trimJSONExt(base), width, index, total)
}

func trimJSONExt(base string) string {
	return strings.TrimSuffix(base, ".json")
}

func digitWidth(n int) int {
	if n <= 0 {
		return 1
	}
	w := 0
	for n > 0 {
		w++
		n /= 10
	}
	return w
}

// ReadChunked reconstructs the full item list from a parts manifest,
// verifying that part counts sum to Total (round-trip boundary property).
func ReadChunked(base string) ([]Row, error) {
	manifestPath := partsManifestPath(base)
	var manifest PartsManifest
	if err := storage.ReadJSON(manifestPath, &manifest); err != nil {
		return nil, fmt.Errorf("artifact: read manifest %q: %w", manifestPath, err)
	}

	var all []Row
	sum := 0
	for _, p := range manifest.Parts {
		rows, err := Read(p.Path)
		if err != nil {
			return nil, err
		}
		if len(rows) != p.Count {
			return nil, fmt.Errorf("artifact: part %q count mismatch: manifest says %d, found %d", p.Path, p.Count, len(rows))
		}
		sum += len(rows)
		all = append(all, rows...)
	}
	if sum != manifest.Total {
		return nil, fmt.Errorf("artifact: chunk sum %d does not match manifest total %d", sum, manifest.Total)
	}
	return all, nil
}

// Package levelreset implements the hard file-level reset behind
// POST /runs/start/files: drop one level's contribution to the content-hash
// registry while preserving any file a different level still cites.
package levelreset

import (
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Result summarizes one reset for the HTTP response and the audit log.
type Result struct {
	FilesDeleted   int
	SourcesDropped int
	RecordsDropped int
}

// Reset drops level's sources from every registry record the level's
// manifest cites. A record left with no sources at all has its file
// deleted and is removed from the registry; a record still cited by
// another level keeps both its file and its remaining sources. The
// level's manifest is cleared in either case. Callers must hold the
// process-wide mutation lock (§5).
func Reset(roots *layout.Roots, domain string, level int, now string) (*Result, error) {
	manifest, err := registry.LoadManifest(roots, domain, level)
	if err != nil {
		return nil, err
	}

	store, err := registry.Load(roots, domain)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := make(map[string]bool, len(manifest.Entries))
	for _, entry := range manifest.Entries {
		if seen[entry.SHA256] {
			continue
		}
		seen[entry.SHA256] = true

		rec, ok := store.Get(entry.SHA256)
		if !ok {
			continue
		}

		kept := rec.Sources[:0]
		dropped := 0
		for _, src := range rec.Sources {
			if src.Level == level {
				dropped++
				continue
			}
			kept = append(kept, src)
		}
		rec.Sources = kept
		res.SourcesDropped += dropped

		if len(rec.Sources) > 0 {
			continue
		}

		if rec.SavedTo != "" {
			abs := roots.AbsoluteFromRoot(rec.SavedTo)
			if err := storage.RemoveIfExists(abs); err != nil {
				return nil, err
			}
			res.FilesDeleted++
		}
		store.Delete(entry.SHA256)
		res.RecordsDropped++
	}

	if err := registry.Save(roots, domain, store); err != nil {
		return nil, err
	}

	emptyManifest := &registry.Manifest{Entries: []types.LevelManifestEntry{}}
	if err := registry.SaveManifest(roots, domain, level, emptyManifest); err != nil {
		return nil, err
	}

	if err := storage.AppendJSONLine(roots.LevelResetsLogFile(domain), types.LevelResetRecord{
		Ts:             now,
		Domain:         domain,
		Level:          level,
		FilesDeleted:   res.FilesDeleted,
		SourcesDropped: res.SourcesDropped,
		RecordsDropped: res.RecordsDropped,
	}); err != nil {
		return nil, err
	}

	return res, nil
}

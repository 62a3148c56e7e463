package levelreset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/pkg/types"
)

func newRoots(t *testing.T) *layout.Roots {
	t.Helper()
	roots, err := layout.NewRoots(t.TempDir())
	if err != nil {
		t.Fatalf("new roots: %v", err)
	}
	return roots
}

func TestResetDropsRecordWithNoRemainingSources(t *testing.T) {
	roots := newRoots(t)
	const domain = "h"
	const sha = "aaaa1111bbbb2222aaaa1111bbbb2222aaaa1111bbbb2222aaaa1111bbbb2222"

	savedAbs := roots.AbsoluteFromRoot("BFS_downloads/h/" + sha + ".pdf")
	if err := os.MkdirAll(filepath.Dir(savedAbs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(savedAbs, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	savedRel, err := roots.RelativeToRoot(savedAbs)
	if err != nil {
		t.Fatalf("relativize: %v", err)
	}

	store, err := registry.Load(roots, domain)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	store.Put(sha, &types.HashRecord{
		SHA256:  sha,
		SavedTo: savedRel,
		Ext:     "pdf",
		Sources: []types.SourceObservation{{URL: "https://h/a.pdf", Level: 1, Ts: "2026-01-01T00:00:00Z"}},
	})
	if err := registry.Save(roots, domain, store); err != nil {
		t.Fatalf("save registry: %v", err)
	}

	manifest := &registry.Manifest{Entries: []types.LevelManifestEntry{{SHA256: sha, SavedTo: savedRel}}}
	if err := registry.SaveManifest(roots, domain, 1, manifest); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	res, err := Reset(roots, domain, 1, "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.FilesDeleted != 1 || res.SourcesDropped != 1 || res.RecordsDropped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := os.Stat(savedAbs); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}

	reloaded, err := registry.Load(roots, domain)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	if _, ok := reloaded.Get(sha); ok {
		t.Fatalf("expected record removed from registry")
	}

	if _, err := os.Stat(roots.LevelResetsLogFile(domain)); err != nil {
		t.Fatalf("expected audit log written: %v", err)
	}
}

func TestResetKeepsRecordStillCitedByOtherLevel(t *testing.T) {
	roots := newRoots(t)
	const domain = "h"
	const sha = "cccc3333dddd4444cccc3333dddd4444cccc3333dddd4444cccc3333dddd4444"

	store, err := registry.Load(roots, domain)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	store.Put(sha, &types.HashRecord{
		SHA256:  sha,
		SavedTo: "BFS_downloads/h/" + sha + ".pdf",
		Ext:     "pdf",
		Sources: []types.SourceObservation{
			{URL: "https://h/a.pdf", Level: 1, Ts: "2026-01-01T00:00:00Z"},
			{URL: "https://h/b.pdf", Level: 2, Ts: "2026-01-01T00:00:00Z"},
		},
	})
	if err := registry.Save(roots, domain, store); err != nil {
		t.Fatalf("save registry: %v", err)
	}

	manifest := &registry.Manifest{Entries: []types.LevelManifestEntry{{SHA256: sha, SavedTo: "BFS_downloads/h/" + sha + ".pdf"}}}
	if err := registry.SaveManifest(roots, domain, 1, manifest); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	res, err := Reset(roots, domain, 1, "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.FilesDeleted != 0 || res.SourcesDropped != 1 || res.RecordsDropped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	reloaded, err := registry.Load(roots, domain)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	rec, ok := reloaded.Get(sha)
	if !ok {
		t.Fatalf("expected record retained")
	}
	if len(rec.Sources) != 1 || rec.Sources[0].Level != 2 {
		t.Fatalf("expected only level-2 source retained, got %+v", rec.Sources)
	}
}

func TestResetOnEmptyManifestIsNoop(t *testing.T) {
	roots := newRoots(t)
	res, err := Reset(roots, "h", 3, "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.FilesDeleted != 0 || res.SourcesDropped != 0 || res.RecordsDropped != 0 {
		t.Fatalf("expected no-op result, got %+v", res)
	}
}

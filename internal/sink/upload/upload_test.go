package upload

import (
	"os"
	"testing"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/internal/sink/routing"
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

func TestUploadRejectsMissingURL(t *testing.T) {
	roots := newRoots(t)
	_, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{BFSLevel: 1}, "2026-01-01T00:00:00Z")
	if err == nil {
		t.Fatalf("expected validation error for missing url")
	}
}

func TestUploadRejectsNonPositiveLevel(t *testing.T) {
	roots := newRoots(t)
	_, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{FileURL: "https://h/a.txt"}, "2026-01-01T00:00:00Z")
	if err == nil {
		t.Fatalf("expected validation error for non-positive level")
	}
}

func TestUploadSavesNewContent(t *testing.T) {
	roots := newRoots(t)
	receipt, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{
		FileURL:  "https://h/a.txt",
		Content:  []byte("hello world"),
		Ext:      "txt",
		BFSLevel: 1,
	}, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if receipt.Skipped {
		t.Fatalf("expected first upload not skipped")
	}
	if receipt.SHA256 == "" || receipt.SavedTo == "" {
		t.Fatalf("expected receipt to carry sha/saved_to, got %+v", receipt)
	}

	abs := roots.AbsoluteFromRoot(receipt.SavedTo)
	if _, err := os.Stat(abs); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store, err := registry.Load(roots, "h")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	rec, ok := store.Get(receipt.SHA256)
	if !ok {
		t.Fatalf("expected record registered")
	}
	if len(rec.Sources) != 1 || rec.Sources[0].URL != "https://h/a.txt" {
		t.Fatalf("expected one source recorded, got %+v", rec.Sources)
	}
}

func TestUploadDuplicateContentIsSkippedAndAddsSource(t *testing.T) {
	roots := newRoots(t)
	content := []byte("same bytes")

	first, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{
		FileURL:  "https://h/a.txt",
		Content:  content,
		Ext:      "txt",
		BFSLevel: 1,
	}, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	second, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{
		FileURL:  "https://h/b.txt",
		Content:  content,
		Ext:      "txt",
		BFSLevel: 2,
	}, "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if !second.Skipped {
		t.Fatalf("expected duplicate-content upload to be skipped")
	}
	if second.SHA256 != first.SHA256 {
		t.Fatalf("expected same sha for identical content, got %q vs %q", first.SHA256, second.SHA256)
	}

	store, err := registry.Load(roots, "h")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	rec, ok := store.Get(first.SHA256)
	if !ok {
		t.Fatalf("expected record present")
	}
	if len(rec.Sources) != 2 {
		t.Fatalf("expected both sources recorded, got %+v", rec.Sources)
	}
}

func TestUploadQuarantinesHTMLMasqueradingAsPDF(t *testing.T) {
	roots := newRoots(t)
	receipt, err := Upload(roots, "h", routing.NewFlatPolicy(), nil, Request{
		FileURL:  "https://h/report.pdf",
		Content:  []byte("<!doctype html><html><body>error page</body></html>"),
		Ext:      "pdf",
		BFSLevel: 1,
	}, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if receipt.Note != "bad_pdf_got_html" {
		t.Fatalf("expected html quarantine note, got %q", receipt.Note)
	}
}

func TestUploadMoveToMoreSpecificPlacementRefreshesDescriptiveFields(t *testing.T) {
	roots := newRoots(t)
	policy := routing.NewElectoralPolicy()
	content := []byte("same bytes")

	first, err := Upload(roots, "h", policy, nil, Request{
		FileURL:  "https://h/2023-general/northtown-results.csv",
		Content:  content,
		Ext:      "csv",
		BFSLevel: 1,
	}, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	meta := types.NewTermMetadata()
	meta.Terms["2023-general"] = types.TermOrder{
		AlphabeticalOrder: map[string]int{"northtown": 0},
	}
	second, err := Upload(roots, "h", policy, meta, Request{
		FileURL:  "https://h/2023-general/northtown-results.csv",
		Content:  content,
		Ext:      "csv",
		BFSLevel: 2,
	}, "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.SHA256 != first.SHA256 {
		t.Fatalf("expected identical content to share a sha, got %q vs %q", first.SHA256, second.SHA256)
	}

	store, err := registry.Load(roots, "h")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	rec, ok := store.Get(first.SHA256)
	if !ok {
		t.Fatalf("expected record present")
	}
	if rec.ElectorateFolder != "northtown" {
		t.Fatalf("expected electorate folder refreshed to northtown, got %q", rec.ElectorateFolder)
	}
	if rec.TermKey != "2023-general" {
		t.Fatalf("expected term key refreshed to 2023-general, got %q", rec.TermKey)
	}
	if rec.Ext != "csv" {
		t.Fatalf("expected ext refreshed to csv, got %q", rec.Ext)
	}

	// A third upload under the same resolved term/electorate must not be
	// re-flagged for another "upgrade" move, since ElectorateFolder is no
	// longer empty.
	third, err := Upload(roots, "h", policy, meta, Request{
		FileURL:  "https://h/2023-general/northtown-results.csv",
		Content:  content,
		Ext:      "csv",
		BFSLevel: 3,
	}, "2026-01-03T00:00:00Z")
	if err != nil {
		t.Fatalf("third upload: %v", err)
	}
	if third.SavedTo != second.SavedTo {
		t.Fatalf("expected stable placement once upgraded, got %q vs %q", second.SavedTo, third.SavedTo)
	}
}

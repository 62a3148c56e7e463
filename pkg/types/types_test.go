package types

import "testing"

func TestMergeFileCandidatePrefersNonEmptySourceAndExt(t *testing.T) {
	existing := FileCandidate{URL: "https://h/a.bin", Ext: "bin"}
	incoming := FileCandidate{URL: "https://h/a.bin", Ext: "pdf", SourcePageURL: "https://h/page"}

	merged := MergeFileCandidate(existing, incoming)
	if merged.Ext != "pdf" {
		t.Fatalf("expected bin ext replaced by pdf, got %q", merged.Ext)
	}
	if merged.SourcePageURL != "https://h/page" {
		t.Fatalf("expected source page carried over, got %q", merged.SourcePageURL)
	}
}

func TestMergeFileCandidateKeepsExistingWhenIncomingIsWorse(t *testing.T) {
	existing := FileCandidate{URL: "https://h/a.pdf", Ext: "pdf", SourcePageURL: "https://h/page"}
	incoming := FileCandidate{URL: "https://h/a.pdf", Ext: "bin"}

	merged := MergeFileCandidate(existing, incoming)
	if merged.Ext != "pdf" {
		t.Fatalf("expected existing non-bin ext kept, got %q", merged.Ext)
	}
	if merged.SourcePageURL != "https://h/page" {
		t.Fatalf("expected existing source page kept, got %q", merged.SourcePageURL)
	}
}

func TestHashRecordBestSourcePicksMostRecentTimestamp(t *testing.T) {
	h := &HashRecord{}
	h.AddSource(SourceObservation{URL: "https://h/a", Ts: "2026-01-01T00:00:00Z"})
	h.AddSource(SourceObservation{URL: "https://h/b", Ts: "2026-01-02T00:00:00Z"})

	best, ok := h.BestSource()
	if !ok || best.URL != "https://h/b" {
		t.Fatalf("expected most recent source, got %+v ok=%v", best, ok)
	}
}

func TestHashRecordBestSourceEmptyReturnsFalse(t *testing.T) {
	h := &HashRecord{}
	if _, ok := h.BestSource(); ok {
		t.Fatalf("expected no source on empty record")
	}
}

func TestHashRecordAddSourceDedupesByKey(t *testing.T) {
	h := &HashRecord{}
	obs := SourceObservation{URL: "https://h/a", SourcePageURL: "https://h/page", Level: 1}
	if added := h.AddSource(obs); !added {
		t.Fatalf("expected first add to succeed")
	}
	if added := h.AddSource(obs); added {
		t.Fatalf("expected duplicate add to be rejected")
	}
	if len(h.Sources) != 1 {
		t.Fatalf("expected exactly one source, got %d", len(h.Sources))
	}
}

func TestSignatureHasAny(t *testing.T) {
	if (Signature{}).HasAny() {
		t.Fatalf("expected empty signature to report false")
	}
	if !(Signature{ETag: "abc"}).HasAny() {
		t.Fatalf("expected signature with etag to report true")
	}
	if !(Signature{ContentLength: 10}).HasAny() {
		t.Fatalf("expected signature with content length to report true")
	}
}

func TestSignatureChanged(t *testing.T) {
	a := Signature{ETag: "abc", ContentLength: 10}
	b := Signature{ETag: "abc", ContentLength: 10}
	if a.Changed(b) {
		t.Fatalf("expected identical signatures to report unchanged")
	}
	c := Signature{ETag: "xyz", ContentLength: 10}
	if !a.Changed(c) {
		t.Fatalf("expected differing etag to report changed")
	}
}

func TestNewTermMetadataIsEmptyAndReady(t *testing.T) {
	meta := NewTermMetadata()
	if meta.Terms == nil {
		t.Fatalf("expected non-nil Terms map")
	}
	if len(meta.Terms) != 0 {
		t.Fatalf("expected empty Terms map, got %d entries", len(meta.Terms))
	}
	meta.Terms["2026"] = TermOrder{AlphabeticalOrder: map[string]int{"Alpha": 0}}
	if len(meta.Terms) != 1 {
		t.Fatalf("expected upsert to stick")
	}
}

func TestNewLevelStateInitializesDiscoveredFiles(t *testing.T) {
	ls := NewLevelState()
	if ls.DiscoveredFiles == nil {
		t.Fatalf("expected non-nil DiscoveredFiles map")
	}
	ls.DiscoveredFiles["https://h/a.pdf"] = FileCandidate{URL: "https://h/a.pdf"}
	if len(ls.DiscoveredFiles) != 1 {
		t.Fatalf("expected insert to stick")
	}
}

func TestSourceObservationKeyDistinguishesByLevel(t *testing.T) {
	a := SourceObservation{URL: "https://h/a", SourcePageURL: "https://h/p", Level: 1}
	b := SourceObservation{URL: "https://h/a", SourcePageURL: "https://h/p", Level: 2}
	if a.Key() == b.Key() {
		t.Fatalf("expected distinct levels to produce distinct keys")
	}
}

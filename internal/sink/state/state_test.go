package state

import (
	"testing"

	"github.com/bfscrawl/sink/internal/sink/layout"
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

func TestLoadReturnsEmptyDomainWhenAbsent(t *testing.T) {
	roots := newRoots(t)
	d, err := Load(roots, "h")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Levels == nil || len(d.Levels) != 0 {
		t.Fatalf("expected empty initialized map, got %+v", d.Levels)
	}
}

func TestLevelCreatesEmptyStateOnFirstAccess(t *testing.T) {
	d := NewDomain()
	ls := d.Level(3)
	if ls == nil || ls.DiscoveredFiles == nil {
		t.Fatalf("expected initialized level state, got %+v", ls)
	}
	if _, ok := d.Levels[3]; !ok {
		t.Fatalf("expected level 3 stored in map")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	roots := newRoots(t)
	d := NewDomain()
	d.Level(1).Visited = []string{"https://h/a"}
	if err := Save(roots, "h", d); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(roots, "h")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Levels[1].Visited) != 1 || reloaded.Levels[1].Visited[0] != "https://h/a" {
		t.Fatalf("expected round-tripped visited urls, got %+v", reloaded.Levels[1])
	}
}

func TestSeenPriorToUnionsOnlyLowerLevels(t *testing.T) {
	d := NewDomain()
	d.Level(1).Visited = []string{"https://h/a"}
	d.Level(1).DiscoveredFiles = map[string]types.FileCandidate{"https://h/f1.pdf": {URL: "https://h/f1.pdf"}}
	d.Level(2).Visited = []string{"https://h/b"}
	d.Level(2).DiscoveredFiles = map[string]types.FileCandidate{"https://h/f2.pdf": {URL: "https://h/f2.pdf"}}

	pages, files := d.SeenPriorTo(2)
	if !pages["https://h/a"] || pages["https://h/b"] {
		t.Fatalf("expected only level-1 pages included, got %+v", pages)
	}
	if !files["https://h/f1.pdf"] || files["https://h/f2.pdf"] {
		t.Fatalf("expected only level-1 files included, got %+v", files)
	}
}

func TestSortedLevelsIsAscending(t *testing.T) {
	d := NewDomain()
	d.Level(3)
	d.Level(1)
	d.Level(2)

	got := d.SortedLevels()
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending levels %v, got %v", want, got)
		}
	}
}

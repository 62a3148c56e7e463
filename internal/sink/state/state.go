// Package state persists the per-domain state.json cache described in
// §4.2: a map of BFS level to the visited/discovered sets recorded at
// that level. It is a derived cache, not canonical truth — reconciliation
// can always rebuild it from the artifact files on disk.
package state

import (
	"sort"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Domain holds every level recorded for one domain, keyed by level number.
type Domain struct {
	Levels map[int]*types.LevelState `json:"levels"`
}

// NewDomain returns an empty Domain ready for level merges.
func NewDomain() *Domain {
	return &Domain{Levels: make(map[int]*types.LevelState)}
}

// Load reads the state.json cache for domain, returning an empty Domain if
// the file does not exist yet.
func Load(roots *layout.Roots, domain string) (*Domain, error) {
	d := NewDomain()
	if err := storage.ReadJSON(roots.StateFile(domain), d); err != nil {
		return nil, err
	}
	if d.Levels == nil {
		d.Levels = make(map[int]*types.LevelState)
	}
	return d, nil
}

// Save atomically persists d to the domain's state.json cache.
func Save(roots *layout.Roots, domain string, d *Domain) error {
	return storage.WriteJSONAtomic(roots.StateFile(domain), d)
}

// Level returns the LevelState for level, creating an empty one if absent.
func (d *Domain) Level(level int) *types.LevelState {
	ls, ok := d.Levels[level]
	if !ok {
		ls = types.NewLevelState()
		d.Levels[level] = ls
	}
	return ls
}

// SeenPriorTo computes the union of visited, discovered pages, and
// discovered-file URLs over every stored level strictly below level,
// i.e. seen_pages_prior and seen_files_prior from §4.3 step 1.
func (d *Domain) SeenPriorTo(level int) (seenPages map[string]bool, seenFiles map[string]bool) {
	seenPages = make(map[string]bool)
	seenFiles = make(map[string]bool)
	for l, ls := range d.Levels {
		if l >= level {
			continue
		}
		for _, u := range ls.Visited {
			seenPages[u] = true
		}
		for _, u := range ls.DiscoveredPages {
			seenPages[u] = true
		}
		for u := range ls.DiscoveredFiles {
			seenFiles[u] = true
		}
	}
	return seenPages, seenFiles
}

// SortedLevels returns the level numbers present in d, ascending.
func (d *Domain) SortedLevels() []int {
	levels := make([]int, 0, len(d.Levels))
	for l := range d.Levels {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

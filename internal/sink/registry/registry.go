// Package registry persists the content-hash registry and per-level
// download manifests of §3: the write-once, SHA-256-keyed HashRecord map
// and the ordered (sha, saved_to) lists that back §8's invariants U1-U3.
package registry

import (
	"sort"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Store is one domain's content-hash registry, keyed by lowercase hex
// SHA-256 (§3 HashRecord).
type Store struct {
	Records map[string]*types.HashRecord `json:"records"`
}

// NewStore returns an empty Store ready for inserts.
func NewStore() *Store {
	return &Store{Records: make(map[string]*types.HashRecord)}
}

// Load reads the domain's downloaded_hash_index.json, returning an empty
// Store if the file does not exist yet (§4.2 tolerant-read contract).
func Load(roots *layout.Roots, domain string) (*Store, error) {
	s := NewStore()
	if err := storage.ReadJSON(roots.HashIndexFile(domain), s); err != nil {
		return nil, err
	}
	if s.Records == nil {
		s.Records = make(map[string]*types.HashRecord)
	}
	return s, nil
}

// Save atomically persists s to the domain's downloaded_hash_index.json.
func Save(roots *layout.Roots, domain string, s *Store) error {
	return storage.WriteJSONAtomic(roots.HashIndexFile(domain), s)
}

// Get returns the record for sha, if any.
func (s *Store) Get(sha string) (*types.HashRecord, bool) {
	r, ok := s.Records[sha]
	return r, ok
}

// Put inserts or replaces the record for sha.
func (s *Store) Put(sha string, r *types.HashRecord) {
	s.Records[sha] = r
}

// Delete removes the record for sha, for a level reset's "records
// dropped with no remaining sources" path.
func (s *Store) Delete(sha string) {
	delete(s.Records, sha)
}

// BySavedTo returns the sha whose record currently claims savedTo, if
// any, enforcing invariant U1 (no two records share a saved_to path)
// during lookups that must reject a collision.
func (s *Store) BySavedTo(savedTo string) (string, *types.HashRecord, bool) {
	for sha, r := range s.Records {
		if r.SavedTo == savedTo {
			return sha, r, true
		}
	}
	return "", nil, false
}

// SortedSHAs returns every recorded SHA-256 in ascending order, for
// deterministic iteration during reconciliation's registry-driven walk.
func (s *Store) SortedSHAs() []string {
	out := make([]string, 0, len(s.Records))
	for sha := range s.Records {
		out = append(out, sha)
	}
	sort.Strings(out)
	return out
}

// Manifest is one (domain, level) download manifest: an ordered list of
// (sha, saved_to) entries with (sha, saved_to) uniqueness (§3
// LevelFileManifest).
type Manifest struct {
	Entries []types.LevelManifestEntry `json:"entries"`
}

// LoadManifest reads the manifest for (domain, level), returning an empty
// Manifest if absent.
func LoadManifest(roots *layout.Roots, domain string, level int) (*Manifest, error) {
	m := &Manifest{}
	if err := storage.ReadJSON(roots.LevelManifestFile(domain, level), m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveManifest atomically persists m for (domain, level).
func SaveManifest(roots *layout.Roots, domain string, level int, m *Manifest) error {
	return storage.WriteJSONAtomic(roots.LevelManifestFile(domain, level), m)
}

// Append adds entry to m if its (sha, saved_to) key is not already
// present, returning whether it was added.
func (m *Manifest) Append(entry types.LevelManifestEntry) bool {
	for _, e := range m.Entries {
		if e.Key() == entry.Key() {
			return false
		}
	}
	m.Entries = append(m.Entries, entry)
	return true
}

// ReplaceSavedTo rewrites every entry citing sha's old saved_to path to
// its new one in place, used by reconciliation when a record moves
// (§4.9's "rewrite per-level manifests in place").
func (m *Manifest) ReplaceSavedTo(sha, oldSavedTo, newSavedTo string) bool {
	changed := false
	for i := range m.Entries {
		if m.Entries[i].SHA256 == sha && m.Entries[i].SavedTo == oldSavedTo {
			m.Entries[i].SavedTo = newSavedTo
			changed = true
		}
	}
	return changed
}

// RemoveBySHA deletes every entry citing sha and returns how many it
// removed.
func (m *Manifest) RemoveBySHA(sha string) int {
	kept := m.Entries[:0]
	removed := 0
	for _, e := range m.Entries {
		if e.SHA256 == sha {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.Entries = kept
	return removed
}

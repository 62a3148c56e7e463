// Package artifact emits the per-level JSON artifacts of §4.6: whole
// artifacts in meta-first-row or legacy encoding, and chunked variants
// with a parts manifest.
package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/bfscrawl/sink/internal/sink/storage"
)

// Encoding selects how per-row metadata is carried in a written artifact.
type Encoding int

const (
	// MetaFirstRow merges {_meta:true, level, kind, ...} into the first
	// real row; subsequent rows carry only their own fields. Minimizes
	// duplication when millions of rows share metadata.
	MetaFirstRow Encoding = iota
	// Legacy carries level and kind explicitly on every row.
	Legacy
)

// Meta is the per-artifact metadata merged into rows.
type Meta struct {
	Level int    `json:"level"`
	Kind  string `json:"kind"`
}

// Row is one artifact row: a URL row ({"url": ...}) or a file row
// ({"url", "ext", "source_page_url"}), represented generically so the
// writer is agnostic to which.
type Row map[string]interface{}

// Write serializes rows to basePath as UTF-8 JSON with two-space
// indentation, using the requested Encoding. An empty rows slice removes
// any pre-existing artifact file at basePath, per §4.6.
func Write(basePath string, rows []Row, meta Meta, encoding Encoding) error {
	if len(rows) == 0 {
		return storage.RemoveIfExists(basePath)
	}

	out := make([]Row, len(rows))
	switch encoding {
	case MetaFirstRow:
		first := Row{"_meta": true, "level": meta.Level, "kind": meta.Kind}
		for k, v := range rows[0] {
			first[k] = v
		}
		out[0] = first
		copy(out[1:], rows[1:])
	default: // Legacy
		for i, r := range rows {
			row := Row{"level": meta.Level, "kind": meta.Kind}
			for k, v := range r {
				row[k] = v
			}
			out[i] = row
		}
	}

	return storage.WriteJSONAtomic(basePath, out)
}

// Read decodes the JSON array at basePath into Rows. Row 0 is returned
// as-is — including any _meta/kind/level keys a meta-first-row encoding
// merged into it — per the design note that reconciliation readers must
// never skip or special-case the first row.
func Read(basePath string) ([]Row, error) {
	var rows []Row
	if err := readJSONArray(basePath, &rows); err != nil {
		return nil, fmt.Errorf("artifact: read %q: %w", basePath, err)
	}
	return rows, nil
}

func readJSONArray(path string, v interface{}) error {
	return storage.ReadJSON(path, v)
}

// URLsOf extracts the "url" field from each row, skipping rows that carry
// no url (only possible for malformed input).
func URLsOf(rows []Row) []string {
	urls := make([]string, 0, len(rows))
	for _, r := range rows {
		if u, ok := r["url"].(string); ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// MarshalRow is a convenience for building a Row from a struct via its
// JSON tags.
func MarshalRow(v interface{}) (Row, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return row, nil
}

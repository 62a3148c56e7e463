// Package electorates persists the routing-policy-owned term/electorate
// metadata of §3 ("Term / bucket metadata") and implements the upsert and
// reset semantics behind POST/GET /meta/electorates.
package electorates

import (
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/routing"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Load reads the domain's electorates_by_term.json, returning an empty
// TermMetadata if absent.
func Load(roots *layout.Roots, domain string) (*types.TermMetadata, error) {
	meta := types.NewTermMetadata()
	if err := storage.ReadJSON(roots.ElectoratesFile(domain), meta); err != nil {
		return nil, err
	}
	if meta.Terms == nil {
		meta.Terms = make(map[string]types.TermOrder)
	}
	return meta, nil
}

// Save atomically persists meta for domain.
func Save(roots *layout.Roots, domain string, meta *types.TermMetadata) error {
	return storage.WriteJSONAtomic(roots.ElectoratesFile(domain), meta)
}

// UpsertRequest bundles one POST /meta/electorates call's input.
type UpsertRequest struct {
	TermKey       string
	OfficialOrder map[string]string
	Names         []string
}

// upsertLogRecord is the JSONL shape appended to electorates_by_term.jsonl,
// the raw append-only change log distinct from the reduced snapshot.
type upsertLogRecord struct {
	Ts      string              `json:"ts"`
	Domain  string              `json:"domain"`
	Action  string              `json:"action"`
	TermKey string              `json:"termKey,omitempty"`
	Term    *types.TermOrder    `json:"term,omitempty"`
}

// Upsert rebuilds one term's alphabetical_order from Names (per §6's "upsert
// routing policy metadata for one term; rebuilds alphabetical order from
// names"), stores OfficialOrder verbatim, and returns the full updated map.
func Upsert(roots *layout.Roots, domain string, req UpsertRequest, now string) (*types.TermMetadata, error) {
	meta, err := Load(roots, domain)
	if err != nil {
		return nil, err
	}

	order := types.TermOrder{
		OfficialOrder:     routing.OfficialOrderFromMap(req.OfficialOrder),
		AlphabeticalOrder: routing.SortElectorates(req.Names),
	}
	meta.Terms[req.TermKey] = order

	if err := Save(roots, domain, meta); err != nil {
		return nil, err
	}
	if err := storage.AppendJSONLine(roots.ElectoratesLogFile(domain), upsertLogRecord{
		Ts:      now,
		Domain:  domain,
		Action:  "upsert",
		TermKey: req.TermKey,
		Term:    &order,
	}); err != nil {
		return nil, err
	}

	return meta, nil
}

// Reset clears the domain's term map entirely.
func Reset(roots *layout.Roots, domain string, now string) (*types.TermMetadata, error) {
	meta := types.NewTermMetadata()
	if err := Save(roots, domain, meta); err != nil {
		return nil, err
	}
	if err := storage.AppendJSONLine(roots.ElectoratesLogFile(domain), upsertLogRecord{
		Ts:     now,
		Domain: domain,
		Action: "reset",
	}); err != nil {
		return nil, err
	}
	return meta, nil
}

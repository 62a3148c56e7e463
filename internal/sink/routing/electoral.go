package routing

import (
	"strconv"
	"strings"

	"github.com/bfscrawl/sink/pkg/pattern"
	"github.com/bfscrawl/sink/pkg/types"
)

// referendumPathPattern matches URL paths that indicate a referendum
// result page rather than a general election result, per the retrieval
// domain's own naming convention.
var referendumPathPattern = pattern.Pattern{} // set by init

// byElectionPathPattern matches URL paths that indicate an out-of-cycle
// by-election, read only from the URL/source page — never from global
// state, per §4.4.
var byElectionPathPattern = pattern.Pattern{} // set by init

func init() {
	mustCompile(&referendumPathPattern, `~*referend(um|a)`)
	mustCompile(&byElectionPathPattern, `~*by-?election`)
}

func mustCompile(dst *pattern.Pattern, expr string) {
	p, err := pattern.Compile(expr)
	if err != nil {
		panic(err)
	}
	*dst = *p
}

// ElectoralPolicy is the default, domain-specific Policy shipped by the
// sink for the original retrieval domain (election results). It buckets
// files by termKey, with an alphabetically-ranked electorate sub-bucket
// when policy_metadata resolves one, per §4.4a. Per spec.md's own Open
// Questions, it deliberately does not implement
// inferTermKeyFromEventYear's 3-year-cadence heuristic — that heuristic is
// specific to one deployment's sparse-metadata fallback and is omitted
// here rather than inherited (see DESIGN.md).
type ElectoralPolicy struct{}

// NewElectoralPolicy constructs the default routing policy.
func NewElectoralPolicy() *ElectoralPolicy { return &ElectoralPolicy{} }

func (p *ElectoralPolicy) Route(in types.RouteInput) types.RoutingResult {
	ext := ResolveExt(in.FileURL, in.Ext)
	filename := DeriveFilename(in.FileURL, in.FilenameOverride)

	if referendumPathPattern.Match(in.FileURL) || referendumPathPattern.Match(in.SourcePageURL) {
		return types.RoutingResult{
			Bucket:   "referenda",
			Filename: filename,
			Ext:      ext,
			TermKey:  "referenda",
			Resolved: true,
		}
	}

	if byElectionPathPattern.Match(in.FileURL) || byElectionPathPattern.Match(in.SourcePageURL) {
		return types.RoutingResult{
			Bucket:   "by-elections",
			Filename: filename,
			Ext:      ext,
			TermKey:  "by-elections",
			Resolved: true,
		}
	}

	termKey, electorate := resolveTermAndElectorate(in)
	if termKey == "" {
		return types.RoutingResult{
			Bucket:   UnresolvedBucket,
			Filename: filename,
			Ext:      ext,
			TermKey:  "unknown",
			Resolved: false,
		}
	}

	return types.RoutingResult{
		Bucket:    termKey,
		SubBucket: electorate,
		Filename:  filename,
		Ext:       ext,
		TermKey:   termKey,
		Resolved:  true,
	}
}

// resolveTermAndElectorate derives a bucket term key and, when resolvable,
// an electorate sub-bucket from policy_metadata's alphabetical_order map.
// It consults only path segments of the file/source URLs plus the
// metadata's own keys; it never consults global mutable state.
func resolveTermAndElectorate(in types.RouteInput) (termKey, electorate string) {
	if in.PolicyMetadata == nil || len(in.PolicyMetadata.Terms) == 0 {
		return "", ""
	}

	haystack := strings.ToLower(in.FileURL + " " + in.SourcePageURL)

	var matchingKeys []string
	for key := range in.PolicyMetadata.Terms {
		if strings.Contains(haystack, strings.ToLower(key)) {
			matchingKeys = append(matchingKeys, key)
		}
	}
	if len(matchingKeys) == 0 {
		return "", ""
	}
	sortByLengthThenLexicographic(matchingKeys)
	key := matchingKeys[0]

	order := in.PolicyMetadata.Terms[key]
	var matchingNames []string
	for name := range order.AlphabeticalOrder {
		if name != "" && strings.Contains(haystack, strings.ToLower(name)) {
			matchingNames = append(matchingNames, name)
		}
	}
	if len(matchingNames) > 0 {
		sortByLengthThenLexicographic(matchingNames)
		electorate = matchingNames[0]
	}

	return key, electorate
}

// sortByLengthThenLexicographic orders candidates longest-match-first, then
// lexicographically, so a scan over a Go map's randomized iteration order
// always yields the same winner across calls with identical inputs.
func sortByLengthThenLexicographic(candidates []string) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && less(candidates[j], candidates[j-1]); j-- {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}
}

func less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

// SortElectorates returns electorate names in ascending alphabetical rank,
// rebuilding the alphabetical_order map from a list of names — used by
// POST /meta/electorates to derive alphabetical_order from official_order
// names on upsert.
func SortElectorates(names []string) map[string]int {
	ranked := append([]string(nil), names...)
	// simple insertion sort: term metadata lists are small (dozens of
	// electorates), and this keeps behavior obviously stable/deterministic.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && strings.ToLower(ranked[j-1]) > strings.ToLower(ranked[j]); j-- {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
		}
	}
	out := make(map[string]int, len(ranked))
	for i, name := range ranked {
		out[name] = i
	}
	return out
}

// OfficialOrderFromMap converts an ordinal->name mapping's string keys to
// a normalized, zero-padding-free representation, tolerating either
// numeric-string or already-normalized keys.
func OfficialOrderFromMap(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if n, err := strconv.Atoi(k); err == nil {
			out[strconv.Itoa(n)] = v
		} else {
			out[k] = v
		}
	}
	return out
}

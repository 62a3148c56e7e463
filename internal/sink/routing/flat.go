package routing

import "github.com/bfscrawl/sink/pkg/types"

// FlatPolicy is the trivial alternate Policy: every file routes to
// downloads/<domain>/ with no sub-bucket, for deployments with no
// term/electorate structure at all (§4.4a).
type FlatPolicy struct{}

// NewFlatPolicy constructs the trivial flat routing policy.
func NewFlatPolicy() *FlatPolicy { return &FlatPolicy{} }

func (p *FlatPolicy) Route(in types.RouteInput) types.RoutingResult {
	return types.RoutingResult{
		Bucket:   UnresolvedBucket,
		Filename: DeriveFilename(in.FileURL, in.FilenameOverride),
		Ext:      ResolveExt(in.FileURL, in.Ext),
		TermKey:  "",
		Resolved: true,
	}
}

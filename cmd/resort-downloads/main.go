// Command resort-downloads runs the §4.9 reconciliation pass for one
// domain's download tree against its content-hash registry, standalone
// from the sink-server process. It follows the teacher's flag-driven,
// single-shot CLI convention (cmd/edge-gateway's -c/-t flags) rather than
// the long-lived server's config file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bfscrawl/sink/internal/sink/domainkey"
	"github.com/bfscrawl/sink/internal/sink/electorates"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/reconcile"
	"github.com/bfscrawl/sink/internal/sink/routing"
)

func main() {
	domainFlag := flag.String("domain", "", "domain key to resort (mutually exclusive with --crawl_root)")
	crawlRootFlag := flag.String("crawl_root", "", "crawl root URL to derive the domain key from")
	apply := flag.Bool("apply", false, "apply actions instead of a dry run")
	root := flag.String("root", ".", "project root directory")
	conflictFlag := flag.String("conflict", "suffix", "conflict policy: suffix|skip|overwrite")
	limit := flag.Int("limit", 0, "maximum actions to take (0 = unlimited)")
	policyFlag := flag.String("policy", "electoral", "routing policy: electoral|flat")
	flag.Parse()

	exitCode := run(*domainFlag, *crawlRootFlag, *apply, *root, *conflictFlag, *limit, *policyFlag)
	os.Exit(exitCode)
}

func run(domainArg, crawlRootArg string, apply bool, root, conflictArg string, limit int, policyArg string) int {
	domain, err := resolveDomainArg(domainArg, crawlRootArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	conflict, err := parseConflict(conflictArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	roots, err := layout.NewRoots(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resort-downloads:", err)
		return 1
	}

	var policy routing.Policy
	switch policyArg {
	case "flat":
		policy = routing.NewFlatPolicy()
	case "electoral":
		policy = routing.NewElectoralPolicy()
	default:
		fmt.Fprintf(os.Stderr, "resort-downloads: unknown --policy %q\n", policyArg)
		return 2
	}

	meta, err := electorates.Load(roots, domain)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resort-downloads:", err)
		return 1
	}

	mode := reconcile.DryRun
	if apply {
		mode = reconcile.Apply
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := reconcile.Run(roots, domain, policy, meta, reconcile.Options{
		Mode:     mode,
		Conflict: conflict,
		Limit:    limit,
	}, now, func(line string) { fmt.Fprintln(os.Stdout, line) })
	if err != nil {
		fmt.Fprintln(os.Stderr, "resort-downloads:", err)
		return 1
	}

	label := "dry-run"
	if apply {
		label = "applied"
	}
	fmt.Printf("resort-downloads: %s, %d actions\n", label, len(res.Actions))
	for action, count := range res.Counts {
		fmt.Printf("  %s: %d\n", action, count)
	}
	return 0
}

func resolveDomainArg(domainArg, crawlRootArg string) (string, error) {
	if domainArg != "" && crawlRootArg != "" {
		return "", fmt.Errorf("resort-downloads: --domain and --crawl_root are mutually exclusive")
	}
	if domainArg != "" {
		return domainkey.FromHost(domainArg), nil
	}
	if crawlRootArg != "" {
		return domainkey.FromURL(crawlRootArg), nil
	}
	return "", fmt.Errorf("resort-downloads: one of --domain or --crawl_root is required")
}

func parseConflict(s string) (reconcile.ConflictPolicy, error) {
	switch s {
	case "suffix":
		return reconcile.ConflictSuffix, nil
	case "skip":
		return reconcile.ConflictSkip, nil
	case "overwrite":
		return reconcile.ConflictOverwrite, nil
	default:
		return 0, fmt.Errorf("resort-downloads: unknown --conflict %q", s)
	}
}

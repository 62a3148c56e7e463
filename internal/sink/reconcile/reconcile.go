// Package reconcile implements the resort engine of §4.9: it repairs the
// download tree's physical placement against the canonical hash
// registry, handling same-content dedupe, canonical displacement of
// non-canonical occupants, and orphan promotion/adoption.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/internal/sink/routing"
	"github.com/bfscrawl/sink/internal/sink/sinkerr"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Mode selects whether actions are previewed or applied.
type Mode int

const (
	DryRun Mode = iota
	Apply
)

// ConflictPolicy governs residual name-collision handling (§6 CLI
// surface --conflict flag).
type ConflictPolicy int

const (
	// ConflictSuffix applies Rule A/B as specified in §4.9: the loser of
	// the canonical-naming contest is renamed with a __dupN suffix.
	ConflictSuffix ConflictPolicy = iota
	// ConflictSkip leaves any occupied-target conflict untouched and
	// records a conflict_skip action.
	ConflictSkip
	// ConflictOverwrite always lets the incoming (registry-driven) file
	// win, deleting the occupant outright instead of suffixing it.
	ConflictOverwrite
)

const maxDupSuffix = 999

// Options configures one resort run.
type Options struct {
	Mode     Mode
	Conflict ConflictPolicy
	Limit    int // 0 = unlimited
}

// Action is one audit-log entry emitted by the resort engine, reusing the
// shared AuditRecord shape per SPEC_FULL §3a.
type Action = types.AuditRecord

// Result summarizes one resort run.
type Result struct {
	Actions []Action
	Counts  map[string]int
}

func (r *Result) record(a Action) {
	r.Actions = append(r.Actions, a)
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[a.Action]++
}

// Trace receives one formatted console line per action, matching §4.9's
// fixed trace format. Callers typically wire this to stdout or a logger.
type Trace func(string)

// Run executes the full §4.9 algorithm (Phase A registry-driven walk,
// Phase B disk-driven sweep) against domain's registry and download tree.
// Callers must hold the process-wide mutation lock (§5).
func Run(roots *layout.Roots, domain string, policy routing.Policy, meta *types.TermMetadata, opts Options, now string, trace Trace) (*Result, error) {
	if trace == nil {
		trace = func(string) {}
	}
	res := &Result{Counts: make(map[string]int)}

	store, err := registry.Load(roots, domain)
	if err != nil {
		return nil, err
	}

	if err := runPhaseA(roots, domain, store, policy, meta, opts, now, trace, res); err != nil {
		return nil, err
	}
	if err := runPhaseB(roots, domain, store, opts, now, trace, res); err != nil {
		return nil, err
	}

	if opts.Mode == Apply {
		if err := registry.Save(roots, domain, store); err != nil {
			return nil, err
		}
		for _, a := range res.Actions {
			if err := storage.AppendJSONLine(roots.DedupeLogFile(domain), a); err != nil {
				return nil, err
			}
		}
	}

	return res, nil
}

func runPhaseA(roots *layout.Roots, domain string, store *registry.Store, policy routing.Policy, meta *types.TermMetadata, opts Options, now string, trace Trace, res *Result) error {
	shas := store.SortedSHAs()
	processed := 0
	for _, sha := range shas {
		if opts.Limit > 0 && processed >= opts.Limit {
			break
		}
		processed++

		rec, _ := store.Get(sha)
		if rec.SavedTo == "" || !storage.Exists(roots.AbsoluteFromRoot(rec.SavedTo)) {
			res.record(emit(trace, opts, now, "missing", domain, sha, "", rec.SavedTo, 0, ""))
			continue
		}

		desiredAbs, desiredRel, route, err := desiredPlacement(roots, domain, policy, meta, rec)
		if err != nil {
			return err
		}

		if desiredRel == rec.SavedTo {
			refreshRouteFields(store, sha, rec, route, opts)
			continue
		}

		currentAbs := roots.AbsoluteFromRoot(rec.SavedTo)

		if !storage.Exists(desiredAbs) {
			if err := applyMove(opts, currentAbs, desiredAbs); err != nil {
				return err
			}
			updateSavedTo(roots, domain, store, sha, rec, desiredRel, now, opts)
			res.record(emit(trace, opts, now, "move", domain, sha, "", desiredRel, 0, ""))
			continue
		}

		if err := resolveOccupied(roots, domain, store, policy, meta, opts, now, trace, res, sha, rec, currentAbs, desiredAbs, desiredRel); err != nil {
			return err
		}
	}
	return nil
}

func desiredPlacement(roots *layout.Roots, domain string, policy routing.Policy, meta *types.TermMetadata, rec *types.HashRecord) (abs, rel string, route types.RoutingResult, err error) {
	src, _ := rec.BestSource()
	route = policy.Route(types.RouteInput{
		FileURL:          src.URL,
		SourcePageURL:    src.SourcePageURL,
		Ext:              rec.Ext,
		FilenameOverride: filepath.Base(rec.SavedTo),
		PolicyMetadata:   meta,
	})
	abs = routing.BuildOutPath(roots.DownloadsDir(domain), route.Bucket, route.SubBucket, route.Filename)
	rel, err = roots.RelativeToRoot(abs)
	return abs, rel, route, err
}

// refreshRouteFields applies §4.9 step 3: when a record's desired
// placement already matches its current one, its termKey/electorateFolder/
// ext are still refreshed from the latest routing decision. A no-op in
// DryRun mode, matching updateSavedTo's preview discipline.
func refreshRouteFields(store *registry.Store, sha string, rec *types.HashRecord, route types.RoutingResult, opts Options) {
	if opts.Mode != Apply {
		return
	}
	rec.TermKey = route.TermKey
	rec.ElectorateFolder = route.SubBucket
	rec.Ext = route.Ext
	store.Put(sha, rec)
}

// resolveOccupied implements §4.9 step 5: hash the occupant and apply
// same-SHA dedupe or the Rule A/B canonical-naming contest.
func resolveOccupied(roots *layout.Roots, domain string, store *registry.Store, policy routing.Policy, meta *types.TermMetadata, opts Options, now string, trace Trace, res *Result, sha string, rec *types.HashRecord, currentAbs, desiredAbs, desiredRel string) error {
	occupantSHA, err := sha256File(desiredAbs)
	if err != nil {
		res.record(emit(trace, opts, now, "disk_hash_failure", domain, sha, "", desiredRel, 0, err.Error()))
		return nil
	}

	if occupantSHA == sha {
		if err := applyDelete(opts, currentAbs); err != nil {
			return err
		}
		updateSavedTo(roots, domain, store, sha, rec, desiredRel, now, opts)
		res.record(emit(trace, opts, now, "dedupe", domain, sha, "", desiredRel, 0, ""))
		return nil
	}

	switch opts.Conflict {
	case ConflictSkip:
		res.record(emit(trace, opts, now, "conflict_skip", domain, sha, "", desiredRel, 0, "occupied by different content"))
		return nil
	case ConflictOverwrite:
		if err := applyDelete(opts, desiredAbs); err != nil {
			return err
		}
		if opts.Mode == Apply {
			if _, occRec, ok := store.BySavedTo(desiredRel); ok {
				occRec.SavedTo = ""
			}
		}
		if err := applyMove(opts, currentAbs, desiredAbs); err != nil {
			return err
		}
		updateSavedTo(roots, domain, store, sha, rec, desiredRel, now, opts)
		res.record(emit(trace, opts, now, "move", domain, sha, "", desiredRel, 0, "overwrote occupant"))
		return nil
	}

	occupantSHAKey, occupantRec, occupantIndexed := store.BySavedTo(desiredRel)
	occupantWantsDesired := false
	if occupantIndexed {
		_, oRel, _, err := desiredPlacement(roots, domain, policy, meta, occupantRec)
		if err != nil {
			return err
		}
		occupantWantsDesired = oRel == desiredRel
	}

	if !occupantIndexed || !occupantWantsDesired {
		newOccupantAbs, err := suffixScan(desiredAbs)
		if err != nil {
			res.record(emit(trace, opts, now, "conflict_skip", domain, sha, "", desiredRel, 0, "dup suffix slots exhausted"))
			return nil
		}
		if err := applyMove(opts, desiredAbs, newOccupantAbs); err != nil {
			return err
		}
		if occupantIndexed {
			newOccupantRel, err := roots.RelativeToRoot(newOccupantAbs)
			if err != nil {
				return err
			}
			if opts.Mode == Apply {
				occupantRec.SavedTo = newOccupantRel
			}
		}
		if err := applyMove(opts, currentAbs, desiredAbs); err != nil {
			return err
		}
		updateSavedTo(roots, domain, store, sha, rec, desiredRel, now, opts)
		res.record(emit(trace, opts, now, "displace", domain, sha, "", desiredRel, 0, fmt.Sprintf("occupant moved to %s", newOccupantAbs)))
		_ = occupantSHAKey
		return nil
	}

	// Rule B: occupant wins; suffix the incoming file instead.
	newIncomingAbs, err := suffixScan(desiredAbs)
	if err != nil {
		res.record(emit(trace, opts, now, "conflict_skip", domain, sha, "", desiredRel, 0, "dup suffix slots exhausted"))
		return nil
	}
	if err := applyMove(opts, currentAbs, newIncomingAbs); err != nil {
		return err
	}
	newIncomingRel, err := roots.RelativeToRoot(newIncomingAbs)
	if err != nil {
		return err
	}
	updateSavedTo(roots, domain, store, sha, rec, newIncomingRel, now, opts)
	res.record(emit(trace, opts, now, "move", domain, sha, "", newIncomingRel, 0, "incoming suffixed, occupant retained"))
	return nil
}

// updateSavedTo applies step 6: update saved_to/timestamps and rewrite
// every per-level manifest that cites sha's old path. In DryRun mode this
// is a no-op, since mutating the in-memory registry would corrupt the
// placement decisions later SHAs in the same pass compute against it.
func updateSavedTo(roots *layout.Roots, domain string, store *registry.Store, sha string, rec *types.HashRecord, newRel string, now string, opts Options) {
	if opts.Mode != Apply {
		return
	}
	oldRel := rec.SavedTo
	rec.SavedTo = newRel
	rec.LastSeenTs = now
	if rec.FirstSeenTs == "" {
		rec.FirstSeenTs = now
	}
	store.Put(sha, rec)

	if oldRel == "" || oldRel == newRel {
		return
	}
	levels := map[int]bool{}
	for _, src := range rec.Sources {
		levels[src.Level] = true
	}
	for level := range levels {
		rewriteManifest(roots, domain, sha, oldRel, newRel, level)
	}
}

func rewriteManifest(roots *layout.Roots, domain, sha, oldRel, newRel string, level int) {
	manifest, err := registry.LoadManifest(roots, domain, level)
	if err != nil {
		return
	}
	if manifest.ReplaceSavedTo(sha, oldRel, newRel) {
		_ = registry.SaveManifest(roots, domain, level, manifest)
	}
}

func emit(trace Trace, opts Options, now, action, domain, sha, url, savedTo string, level int, note string) Action {
	tag := actionTag(opts, action)
	short := sha
	if len(short) > 8 {
		short = short[:8]
	}
	trace(fmt.Sprintf("[%s] %s %s… %s\n           -> %s", tag, action, short, url, savedTo))
	return Action{
		Ts:      now,
		Domain:  domain,
		Action:  action,
		SHA256:  sha,
		URL:     url,
		SavedTo: savedTo,
		Level:   level,
		Note:    note,
	}
}

func actionTag(opts Options, action string) string {
	if opts.Mode == DryRun {
		return "DRY"
	}
	switch action {
	case "move":
		return "MOVE"
	case "dedupe":
		return "DEDUPE"
	case "displace":
		return "DISPLACE"
	case "promote":
		return "PROMOTE"
	case "adopt":
		return "ADOPT"
	case "dup":
		return "DUP"
	default:
		return strings.ToUpper(action)
	}
}

func applyMove(opts Options, src, dst string) error {
	if opts.Mode == DryRun {
		return nil
	}
	if err := storage.MoveFile(src, dst); err != nil {
		return sinkerr.NewFilesystemTransient("reconcile: move", err)
	}
	return nil
}

func applyDelete(opts Options, path string) error {
	if opts.Mode == DryRun {
		return nil
	}
	if err := storage.RemoveIfExists(path); err != nil {
		return sinkerr.NewFilesystemTransient("reconcile: delete", err)
	}
	return nil
}

// suffixScan finds the first available "base__dupN.ext" sibling of
// target, scanning N from 1 to 999 per §4.9's termination rule.
func suffixScan(target string) (string, error) {
	dir := filepath.Dir(target)
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(filepath.Base(target), ext)
	for n := 1; n <= maxDupSuffix; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s__dup%d%s", base, n, ext))
		if !storage.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("reconcile: exhausted __dupN slots at %q", target)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", sinkerr.NewDiskHashFailure("reconcile: open for hash", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", sinkerr.NewDiskHashFailure("reconcile: read for hash", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// runPhaseB walks the physical download tree for files not referenced by
// any saved_to, applying disk dedupe/promote/adopt/twin-suffix per §4.9
// Phase B.
func runPhaseB(roots *layout.Roots, domain string, store *registry.Store, opts Options, now string, trace Trace, res *Result) error {
	root := roots.DownloadsDir(domain)
	if !dirExists(root) {
		return nil
	}

	referenced := make(map[string]bool)
	for _, sha := range store.SortedSHAs() {
		rec, _ := store.Get(sha)
		if rec.SavedTo != "" {
			referenced[rec.SavedTo] = true
		}
	}

	var strays []string
	byDir := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "_bad" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := roots.RelativeToRoot(path)
		if relErr != nil {
			return nil
		}
		byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], path)
		if referenced[rel] {
			return nil
		}
		strays = append(strays, path)
		return nil
	})
	if err != nil {
		return sinkerr.NewFilesystemTransient("reconcile: walk downloads tree", err)
	}

	for _, strayAbs := range strays {
		sha, err := sha256File(strayAbs)
		if err != nil {
			res.record(emit(trace, opts, now, "disk_hash_failure", domain, "", "", strayAbs, 0, err.Error()))
			continue
		}

		rec, indexed := store.Get(sha)
		strayRel, relErr := roots.RelativeToRoot(strayAbs)
		if relErr != nil {
			return relErr
		}

		if !indexed {
			if twin := findTwin(byDir[filepath.Dir(strayAbs)], strayAbs); twin != "" {
				newAbs, err := suffixScan(strayAbs)
				if err != nil {
					res.record(emit(trace, opts, now, "conflict_skip", domain, "", "", strayRel, 0, "twin dup suffix slots exhausted"))
					continue
				}
				if err := applyMove(opts, strayAbs, newAbs); err != nil {
					return err
				}
				res.record(emit(trace, opts, now, "dup", domain, sha, "", strayRel, 0, fmt.Sprintf("twin of %s", twin)))
			}
			continue
		}

		if rec.SavedTo == "" {
			if opts.Mode == Apply {
				rec.SavedTo = strayRel
				rec.LastSeenTs = now
				if rec.FirstSeenTs == "" {
					rec.FirstSeenTs = now
				}
				store.Put(sha, rec)
			}
			res.record(emit(trace, opts, now, "adopt", domain, sha, "", strayRel, 0, ""))
			continue
		}

		canonicalAbs := roots.AbsoluteFromRoot(rec.SavedTo)
		if storage.Exists(canonicalAbs) {
			if err := applyDelete(opts, strayAbs); err != nil {
				return err
			}
			res.record(emit(trace, opts, now, "dedupe", domain, sha, "", rec.SavedTo, 0, "stray duplicate of canonical"))
			continue
		}

		if err := applyMove(opts, strayAbs, canonicalAbs); err != nil {
			return err
		}
		res.record(emit(trace, opts, now, "promote", domain, sha, "", rec.SavedTo, 0, ""))
	}

	return nil
}

// findTwin returns the path of a sibling file in the same directory whose
// dup-suffix-stripped stem matches strayAbs's, if any (§4.9 Phase B's
// twin-suffix rule).
func findTwin(siblings []string, strayAbs string) string {
	wantStem := stripDupSuffix(strayAbs)
	for _, sib := range siblings {
		if sib == strayAbs {
			continue
		}
		if stripDupSuffix(sib) == wantStem {
			return sib
		}
	}
	return ""
}

const dupSuffixPattern = "__dup"

func stripDupSuffix(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	if idx := strings.LastIndex(base, dupSuffixPattern); idx >= 0 {
		rest := base[idx+len(dupSuffixPattern):]
		if isAllDigits(rest) {
			base = base[:idx]
		}
	}
	return filepath.Join(filepath.Dir(path), base+ext)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

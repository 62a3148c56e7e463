// Package upload implements the content-hash registry ingestion workflow
// of §4.5: hash, route, PDF-sniff, dedupe-by-SHA, and persist one
// downloaded file, updating the registry, the per-level manifest, and the
// file-save audit log.
package upload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/registry"
	"github.com/bfscrawl/sink/internal/sink/routing"
	"github.com/bfscrawl/sink/internal/sink/sinkerr"
	"github.com/bfscrawl/sink/internal/sink/storage"
	"github.com/bfscrawl/sink/pkg/types"
)

// Request bundles one POST /upload/file call's input, already normalized
// at the handler boundary.
type Request struct {
	FileURL          string
	Content          []byte
	Ext              string
	FilenameOverride string
	SourcePageURL    string
	BFSLevel         int
}

var pdfMagic = []byte("%PDF-")

// Upload runs the full §4.5 algorithm against the domain's persisted
// registry and manifests. Callers must hold the process-wide mutation
// lock (§5) for the duration of this call.
func Upload(roots *layout.Roots, domain string, policy routing.Policy, meta *types.TermMetadata, req Request, now string) (*types.UploadReceipt, error) {
	if req.FileURL == "" {
		return nil, sinkerr.NewValidationFailure("upload: url is required")
	}
	if req.BFSLevel <= 0 {
		return nil, sinkerr.NewValidationFailure("upload: bfs_level must be positive")
	}

	sum := sha256.Sum256(req.Content)
	sha := hex.EncodeToString(sum[:])

	route := policy.Route(types.RouteInput{
		FileURL:          req.FileURL,
		SourcePageURL:    req.SourcePageURL,
		Ext:              req.Ext,
		FilenameOverride: req.FilenameOverride,
		PolicyMetadata:   meta,
	})

	termKey := route.TermKey
	if termKey == "" {
		termKey = "unknown"
	}

	desiredAbs := routing.BuildOutPath(roots.DownloadsDir(domain), route.Bucket, route.SubBucket, route.Filename)
	note := ""

	expectsPDF := route.Ext == "pdf" || strings.HasSuffix(strings.ToLower(route.Filename), ".pdf")
	if expectsPDF && !bytes.HasPrefix(req.Content, pdfMagic) {
		reason := "bad_pdf_not_pdf"
		quarantineExt := route.Ext
		if looksLikeHTML(req.Content) {
			reason = "bad_pdf_got_html"
			quarantineExt = "html"
		}
		base := strings.TrimSuffix(route.Filename, filepath.Ext(route.Filename))
		quarantineName := fmt.Sprintf("%s__%s.%s", base, reason, quarantineExt)
		desiredAbs = filepath.Join(roots.QuarantineDir(domain, route.Bucket), quarantineName)
		note = reason
	}

	store, err := registry.Load(roots, domain)
	if err != nil {
		return nil, err
	}

	existing, hasExisting := store.Get(sha)

	var savedAbs string
	var skipped bool
	var finalNote = note

	switch {
	case hasExisting && storage.Exists(roots.AbsoluteFromRoot(existing.SavedTo)):
		existingAbs := roots.AbsoluteFromRoot(existing.SavedTo)
		savedAbs = existingAbs

		if moreSpecific(route, existing) {
			if err := storage.MoveFile(existingAbs, desiredAbs); err != nil {
				return nil, sinkerr.NewFilesystemTransient("upload: move to more specific placement", err)
			}
			savedAbs = desiredAbs
		}

		rel, err := roots.RelativeToRoot(savedAbs)
		if err != nil {
			return nil, sinkerr.NewInternalFailure("upload: relativize saved path", err)
		}
		existing.SavedTo = rel
		existing.Ext = route.Ext
		existing.TermKey = termKey
		existing.ElectorateFolder = route.SubBucket
		existing.LastSeenTs = now
		existing.AddSource(types.SourceObservation{
			URL:           req.FileURL,
			SourcePageURL: req.SourcePageURL,
			Level:         req.BFSLevel,
			Ts:            now,
		})
		skipped = true
		if finalNote == "" {
			finalNote = "duplicate_content_skipped"
		}

	case hasExisting:
		// Record exists but the file is missing on disk: treat as a new
		// save at the routed location, preserving identity and sources.
		if err := writeFile(desiredAbs, req.Content); err != nil {
			return nil, err
		}
		savedAbs = desiredAbs
		rel, err := roots.RelativeToRoot(savedAbs)
		if err != nil {
			return nil, sinkerr.NewInternalFailure("upload: relativize saved path", err)
		}
		existing.SavedTo = rel
		existing.Bytes = int64(len(req.Content))
		existing.Ext = route.Ext
		existing.TermKey = termKey
		existing.ElectorateFolder = route.SubBucket
		existing.LastSeenTs = now
		existing.Note = finalNote
		existing.AddSource(types.SourceObservation{
			URL:           req.FileURL,
			SourcePageURL: req.SourcePageURL,
			Level:         req.BFSLevel,
			Ts:            now,
		})

	default:
		if err := writeFile(desiredAbs, req.Content); err != nil {
			return nil, err
		}
		savedAbs = desiredAbs
		rel, err := roots.RelativeToRoot(savedAbs)
		if err != nil {
			return nil, sinkerr.NewInternalFailure("upload: relativize saved path", err)
		}
		rec := &types.HashRecord{
			SHA256:           sha,
			SavedTo:          rel,
			Bytes:            int64(len(req.Content)),
			Ext:              route.Ext,
			TermKey:          termKey,
			ElectorateFolder: route.SubBucket,
			FirstSeenTs:      now,
			LastSeenTs:       now,
			Note:             finalNote,
		}
		rec.AddSource(types.SourceObservation{
			URL:           req.FileURL,
			SourcePageURL: req.SourcePageURL,
			Level:         req.BFSLevel,
			Ts:            now,
		})
		store.Put(sha, rec)
	}

	if err := registry.Save(roots, domain, store); err != nil {
		return nil, err
	}

	savedRel, err := roots.RelativeToRoot(savedAbs)
	if err != nil {
		return nil, sinkerr.NewInternalFailure("upload: relativize final saved path", err)
	}

	manifest, err := registry.LoadManifest(roots, domain, req.BFSLevel)
	if err != nil {
		return nil, err
	}
	if manifest.Append(types.LevelManifestEntry{SHA256: sha, SavedTo: savedRel}) {
		if err := registry.SaveManifest(roots, domain, req.BFSLevel, manifest); err != nil {
			return nil, err
		}
	}

	action := "save"
	if skipped {
		action = "duplicate_content_skipped"
	} else if finalNote != "" {
		action = finalNote
	}
	if err := storage.AppendJSONLine(roots.FileSavesLogFile(domain), types.AuditRecord{
		Ts:      now,
		Domain:  domain,
		Action:  action,
		SHA256:  sha,
		URL:     req.FileURL,
		SavedTo: savedRel,
		Level:   req.BFSLevel,
		Note:    finalNote,
	}); err != nil {
		return nil, err
	}

	return &types.UploadReceipt{
		SHA256:  sha,
		SavedTo: savedRel,
		Skipped: skipped,
		Note:    finalNote,
		TermKey: termKey,
	}, nil
}

// moreSpecific reports whether route names a sub-bucket the existing
// record did not previously carry, per §4.5 step 4's "more specific
// sub-bucket than recorded" placement upgrade.
func moreSpecific(route types.RoutingResult, existing *types.HashRecord) bool {
	return route.SubBucket != "" && existing.ElectorateFolder == ""
}

func writeFile(absPath string, content []byte) error {
	if err := layout.EnsureDir(filepath.Dir(absPath)); err != nil {
		return sinkerr.NewInternalFailure("upload: create destination dir", err)
	}
	if err := storage.WriteFileAtomic(absPath, content); err != nil {
		return sinkerr.NewInternalFailure("upload: write file", err)
	}
	return nil
}

var htmlMarkers = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<HTML"),
	[]byte("<head"),
}

// looksLikeHTML is a cheap sniff distinguishing an HTML error page from
// arbitrary non-PDF bytes, used only to pick a quarantine reason label.
func looksLikeHTML(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	for _, m := range htmlMarkers {
		if bytes.Contains(lower, bytes.ToLower(m)) {
			return true
		}
	}
	return false
}

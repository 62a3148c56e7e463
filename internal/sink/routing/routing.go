// Package routing implements the pluggable placement interface of §4.4:
// (file URL, source URL, routing metadata) -> (bucket, sub_bucket,
// filename). internal/sink/routing/electoral.go ships the default,
// domain-specific policy; flat.go ships a trivial alternative, per §4.4a.
package routing

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bfscrawl/sink/internal/sink/urlnorm"
	"github.com/bfscrawl/sink/pkg/types"
)

// Policy is the pure routing interface: the same inputs always yield the
// same outputs (§4.4).
type Policy interface {
	Route(in types.RouteInput) types.RoutingResult
}

// UnresolvedBucket is the sentinel bucket value meaning "cannot infer",
// which causes the router to place the file directly under
// downloads/<domain>/ with no sub-bucket.
const UnresolvedBucket = ""

const maxFilenameCodeUnits = 240

var controlCharPattern = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// DeriveFilename resolves a filename in precedence order: explicit
// override, URL path basename (URL-decoded up to twice to recover
// double-encoded names), or "download.bin". The result is sanitized: path
// separators become '_', control characters are removed, and length is
// capped at maxFilenameCodeUnits.
func DeriveFilename(fileURL, override string) string {
	name := override
	if name == "" {
		name = basenameFromURL(fileURL)
	}
	if name == "" {
		name = "download.bin"
	}
	return sanitizeFilename(name)
}

func basenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	for i := 0; i < 2; i++ {
		decoded, err := url.QueryUnescape(base)
		if err != nil || decoded == base {
			break
		}
		base = decoded
	}
	return base
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = controlCharPattern.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return "download.bin"
	}

	runes := []rune(name)
	if len(runes) > maxFilenameCodeUnits {
		runes = runes[:maxFilenameCodeUnits]
	}
	return string(runes)
}

// ResolveExt picks the explicit ext when given, else derives it from the
// file URL via urlnorm.Extension.
func ResolveExt(fileURL, explicitExt string) string {
	if explicitExt != "" {
		return strings.ToLower(explicitExt)
	}
	return urlnorm.Extension(fileURL)
}

// BuildOutPath joins a downloads root layout per §6:
// downloads/<domain>/<bucket>[/<sub_bucket>]/<filename>. bucket=="" places
// the file directly under downloads/<domain>/.
func BuildOutPath(downloadsDir, bucket, subBucket, filename string) string {
	parts := []string{downloadsDir}
	if bucket != "" {
		parts = append(parts, bucket)
	}
	if subBucket != "" {
		parts = append(parts, subBucket)
	}
	parts = append(parts, filename)
	return filepath.Join(parts...)
}

package httpapi

import (
	"encoding/base64"
	"encoding/json"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/httputil"
	"github.com/bfscrawl/sink/internal/sink/domainkey"
	"github.com/bfscrawl/sink/internal/sink/electorates"
	"github.com/bfscrawl/sink/internal/sink/frontier"
	"github.com/bfscrawl/sink/internal/sink/probe"
	"github.com/bfscrawl/sink/internal/sink/sinkerr"
	"github.com/bfscrawl/sink/internal/sink/streaming"
	"github.com/bfscrawl/sink/internal/sink/upload"
	"github.com/bfscrawl/sink/pkg/types"
)

// domainHints is embedded in every decoded request body so §6's domain key
// resolution precedence applies uniformly, even on endpoints whose wire
// shape in the surface table only names their primary fields.
type domainHints struct {
	DomainKey string `json:"domain_key"`
	Domain    string `json:"domain"`
	CrawlRoot string `json:"crawl_root"`
	RootURL   string `json:"root_url"`
	BaseURL   string `json:"base_url"`
	URL       string `json:"url"`
}

func (h domainHints) explicit() bool {
	return h.DomainKey != "" || h.Domain != "" || h.CrawlRoot != "" || h.RootURL != "" || h.BaseURL != ""
}

func (h domainHints) toRequestHints(visited, pages []string, files []string) domainkey.RequestHints {
	return domainkey.RequestHints{
		DomainKey: h.DomainKey,
		Domain:    h.Domain,
		CrawlRoot: h.CrawlRoot,
		RootURL:   h.RootURL,
		BaseURL:   h.BaseURL,
		URL:       h.URL,
		Visited:   visited,
		Pages:     pages,
		Files:     files,
	}
}

func fileCandidateURLs(files []types.FileCandidate) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.URL
	}
	return out
}

func (s *Server) decodeBody(ctx *fasthttp.RequestCtx, logger *zap.Logger, v interface{}) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		logger.Warn("malformed request body", zap.Error(err))
		httputil.JSONErr(ctx, "malformed request body", fasthttp.StatusBadRequest)
		return false
	}
	return true
}

// writeErr maps any returned error to its sinkerr status code (or 500 for
// unclassified errors) and logs it.
func (s *Server) writeErr(ctx *fasthttp.RequestCtx, logger *zap.Logger, err error) {
	kind := sinkerr.KindOf(err)
	logger.Error("request failed", zap.String("kind", kind.String()), zap.Error(err))
	httputil.JSONErr(ctx, err.Error(), kind.StatusCode())
}

// handleElectorates branches on method itself, since /meta/electorates is
// not wrapped in requirePost: GET returns the full term map, POST upserts
// one term.
func (s *Server) handleElectorates(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	if ctx.IsGet() || ctx.IsHead() {
		domain := domainkey.Resolve(domainkey.RequestHints{DomainKey: string(ctx.QueryArgs().Peek("domain_key")), Domain: string(ctx.QueryArgs().Peek("domain"))})
		meta, err := s.coord.GetElectorates(domain)
		if err != nil {
			s.writeErr(ctx, logger, err)
			return
		}
		httputil.JSONOK(ctx, map[string]interface{}{"domain": domain, "terms": meta.Terms}, fasthttp.StatusOK)
		return
	}
	if !ctx.IsPost() {
		httputil.JSONErr(ctx, "method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	var req struct {
		domainHints
		TermKey           string            `json:"termKey"`
		OfficialOrder     map[string]string `json:"official_order"`
		AlphabeticalOrder map[string]int    `json:"alphabetical_order"`
		Names             []string          `json:"names"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.TermKey == "" {
		httputil.JSONErr(ctx, "termKey is required", fasthttp.StatusBadRequest)
		return
	}

	names := req.Names
	if len(names) == 0 {
		for name := range req.AlphabeticalOrder {
			names = append(names, name)
		}
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	meta, err := s.coord.UpsertElectorates(domain, electorates.UpsertRequest{
		TermKey:       req.TermKey,
		OfficialOrder: req.OfficialOrder,
		Names:         names,
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{"domain": domain, "terms": meta.Terms}, fasthttp.StatusOK)
}

func (s *Server) handleElectoratesReset(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req domainHints
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	meta, err := s.coord.ResetElectorates(domain)
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{"domain": domain, "terms": meta.Terms}, fasthttp.StatusOK)
}

func (s *Server) handleDedupeLevel(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level     int                    `json:"level"`
		Visited   []string               `json:"visited"`
		Pages     []string               `json:"pages"`
		Files     []types.FileCandidate  `json:"files"`
		Update    bool                   `json:"update"`
		Full      bool                   `json:"full"`
		Prune     bool                   `json:"prune"`
		Replace   bool                   `json:"replace"`
		ChunkSize int                    `json:"chunk_size"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 {
		httputil.JSONErr(ctx, "level must be positive", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(req.Visited, req.Pages, fileCandidateURLs(req.Files)))
	res, err := s.coord.DedupeLevel(domain, frontier.Request{
		Level:           req.Level,
		Visited:         req.Visited,
		DiscoveredPages: req.Pages,
		DiscoveredFiles: req.Files,
		UpdateMode:      req.Update,
		Patch:           req.Update && !req.Full,
		Replace:         req.Replace,
		ChunkSize:       req.ChunkSize,
		Encoding:        s.coord.Encoding(),
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":        domain,
		"next_frontier": res.NextFrontier,
		"new_files":     res.NewFiles,
		"files_level":   res.FilesLevel,
	}, fasthttp.StatusOK)
}

func (s *Server) handleRunsStartURLs(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level int    `json:"level"`
		RunID string `json:"run_id"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 || req.RunID == "" {
		httputil.JSONErr(ctx, "level and run_id are required", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	if err := s.coord.StartRun(domain, req.Level, req.RunID); err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{"domain": domain}, fasthttp.StatusOK)
}

func (s *Server) handleRunsAppendURLs(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level   int                   `json:"level"`
		RunID   string                `json:"run_id"`
		Visited []string              `json:"visited"`
		Pages   []string              `json:"pages"`
		Files   []types.FileCandidate `json:"files"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 || req.RunID == "" {
		httputil.JSONErr(ctx, "level and run_id are required", fasthttp.StatusBadRequest)
		return
	}

	domain := s.resolveRunDomain(req.domainHints, req.Level, req.RunID, req.Visited, req.Pages, fileCandidateURLs(req.Files))
	err := s.coord.AppendRun(domain, req.Level, req.RunID, types.StreamingRecord{
		Level:   req.Level,
		RunID:   req.RunID,
		Visited: req.Visited,
		Pages:   req.Pages,
		Files:   req.Files,
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{"domain": domain}, fasthttp.StatusOK)
}

func (s *Server) handleRunsFinalizeURLs(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level int    `json:"level"`
		RunID string `json:"run_id"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 || req.RunID == "" {
		httputil.JSONErr(ctx, "level and run_id are required", fasthttp.StatusBadRequest)
		return
	}

	domain := s.resolveRunDomain(req.domainHints, req.Level, req.RunID, nil, nil, nil)
	res, err := s.coord.FinalizeRun(domain, req.Level, req.RunID, streaming.FinalizeOptions{
		Encoding: s.coord.Encoding(),
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":       domain,
		"done_marker":  res.DoneMarker,
		"remaining":    res.Remaining,
		"already_done": res.AlreadyDone,
	}, fasthttp.StatusOK)
}

// resolveRunDomain resolves a run_id-plus-level request's domain. When the
// request carries no explicit domain hint, it consults the Coordinator's
// cross-domain bucket lookup (FindRunByFilename) before falling back to
// the default sentinel, per §4.7.
func (s *Server) resolveRunDomain(hints domainHints, level int, runID string, visited, pages, files []string) string {
	if hints.explicit() || hints.URL != "" {
		return domainkey.Resolve(hints.toRequestHints(visited, pages, files))
	}
	if domain, _, ok := s.coord.FindRunByFilename(level, runID); ok {
		return domain
	}
	return domainkey.Resolve(hints.toRequestHints(visited, pages, files))
}

func (s *Server) handleRunsChunkURLs(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level     int `json:"level"`
		ChunkSize int `json:"chunk_size"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 {
		httputil.JSONErr(ctx, "level must be positive", fasthttp.StatusBadRequest)
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.coord.DefaultChunkSize()
	}
	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	if err := s.coord.ChunkURLs(domain, req.Level, chunkSize); err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{"domain": domain}, fasthttp.StatusOK)
}

func (s *Server) handleRunsChunkFiles(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level     int `json:"level"`
		ChunkSize int `json:"chunk_size"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 {
		httputil.JSONErr(ctx, "level must be positive", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	res, err := s.coord.ChunkFiles(domain, req.Level, req.ChunkSize)
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":    domain,
		"level":     res.Level,
		"expected":  res.Expected,
		"remaining": res.Remaining,
	}, fasthttp.StatusOK)
}

func (s *Server) handleRunsChunkFilesIncomplete(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		ChunkSize int `json:"chunk_size"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	results, err := s.coord.ChunkFilesIncomplete(domain, req.ChunkSize)
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":  domain,
		"results": results,
	}, fasthttp.StatusOK)
}

func (s *Server) handleRunsStartFiles(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		Level int `json:"level"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.Level <= 0 {
		httputil.JSONErr(ctx, "level must be positive", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, nil))
	res, err := s.coord.ResetLevelFiles(domain, req.Level)
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":          domain,
		"files_deleted":   res.FilesDeleted,
		"sources_dropped": res.SourcesDropped,
		"records_dropped": res.RecordsDropped,
	}, fasthttp.StatusOK)
}

func (s *Server) handleUploadFile(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		FileURL       string `json:"url"`
		ContentB64    string `json:"content_base64"`
		Ext           string `json:"ext"`
		Filename      string `json:"filename"`
		SourcePageURL string `json:"source_page_url"`
		BFSLevel      int    `json:"bfs_level"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.FileURL == "" || req.ContentB64 == "" {
		httputil.JSONErr(ctx, "url and content_base64 are required", fasthttp.StatusBadRequest)
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.ContentB64)
	if err != nil {
		httputil.JSONErr(ctx, "content_base64 is not valid base64", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, []string{req.FileURL}))
	receipt, err := s.coord.UploadFile(domain, upload.Request{
		FileURL:          req.FileURL,
		Content:          content,
		Ext:              req.Ext,
		FilenameOverride: req.Filename,
		SourcePageURL:    req.SourcePageURL,
		BFSLevel:         req.BFSLevel,
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":   domain,
		"sha256":   receipt.SHA256,
		"saved_to": receipt.SavedTo,
		"skipped":  receipt.Skipped,
		"note":     receipt.Note,
		"termKey":  receipt.TermKey,
	}, fasthttp.StatusOK)
}

func (s *Server) handleProbeMeta(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req struct {
		domainHints
		URL      string           `json:"url"`
		Level    *int             `json:"level"`
		Head     *types.Signature `json:"head"`
		GetRange *types.Signature `json:"get_range"`
	}
	if !s.decodeBody(ctx, logger, &req) {
		return
	}
	if req.URL == "" {
		httputil.JSONErr(ctx, "url is required", fasthttp.StatusBadRequest)
		return
	}

	domain := domainkey.Resolve(req.toRequestHints(nil, nil, []string{req.URL}))
	res, err := s.coord.ProbeMeta(domain, probe.Request{
		URL:      req.URL,
		Level:    req.Level,
		Head:     req.Head,
		GetRange: req.GetRange,
	})
	if err != nil {
		s.writeErr(ctx, logger, err)
		return
	}
	httputil.JSONOK(ctx, map[string]interface{}{
		"domain":    domain,
		"changed":   res.Changed,
		"signature": res.Signature,
	}, fasthttp.StatusOK)
}

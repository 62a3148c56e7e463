// Package httpapi exposes the sink's HTTP surface of §6 over fasthttp,
// grounded on the teacher's internal/edge/server request-dispatch pattern:
// one fasthttp.RequestHandler entrypoint that assigns a request ID, then
// switches on path and method to a per-endpoint handler.
package httpapi

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/httputil"
	"github.com/bfscrawl/sink/internal/common/requestid"
	"github.com/bfscrawl/sink/internal/sink/coordinator"
	"github.com/bfscrawl/sink/internal/sink/domainkey"
	"github.com/bfscrawl/sink/internal/sink/metrics"
)

// Server dispatches §6's HTTP surface against a single Coordinator.
type Server struct {
	coord   *coordinator.Coordinator
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewServer constructs a Server bound to coord. collector may be nil, in
// which case per-request metrics are skipped.
func NewServer(coord *coordinator.Coordinator, logger *zap.Logger, collector *metrics.Collector) *Server {
	return &Server{coord: coord, logger: logger, metrics: collector}
}

// HandleRequest is the fasthttp.RequestHandler entrypoint.
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	customRequestID := string(ctx.Request.Header.Peek("X-Request-ID"))
	reqID := requestid.GenerateRequestID(customRequestID)
	ctx.Response.Header.Set("X-Request-ID", reqID)

	logger := s.logger.With(zap.String("request_id", reqID))
	path := string(ctx.Path())
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(path, ctx.Response.StatusCode(), time.Since(start))
		}
	}()

	switch path {
	case "/health":
		s.handleHealth(ctx, logger)
	case "/meta/electorates":
		s.handleElectorates(ctx, logger)
	case "/meta/electorates/reset":
		s.requirePost(ctx, logger, s.handleElectoratesReset)
	case "/dedupe/level":
		s.requirePost(ctx, logger, s.handleDedupeLevel)
	case "/runs/start/urls":
		s.requirePost(ctx, logger, s.handleRunsStartURLs)
	case "/runs/append/urls":
		s.requirePost(ctx, logger, s.handleRunsAppendURLs)
	case "/runs/finalize/urls":
		s.requirePost(ctx, logger, s.handleRunsFinalizeURLs)
	case "/runs/chunk/urls":
		s.requirePost(ctx, logger, s.handleRunsChunkURLs)
	case "/runs/chunk/files":
		s.requirePost(ctx, logger, s.handleRunsChunkFiles)
	case "/runs/chunk/files/incomplete":
		s.requirePost(ctx, logger, s.handleRunsChunkFilesIncomplete)
	case "/runs/start/files":
		s.requirePost(ctx, logger, s.handleRunsStartFiles)
	case "/upload/file":
		s.requirePost(ctx, logger, s.handleUploadFile)
	case "/probe/meta":
		s.requirePost(ctx, logger, s.handleProbeMeta)
	default:
		logger.Warn("not found", zap.String("path", path))
		httputil.JSONErr(ctx, "not found", fasthttp.StatusNotFound)
	}
}

// requirePost rejects any method other than POST before delegating to fn,
// matching §6's method column for every mutating endpoint.
func (s *Server) requirePost(ctx *fasthttp.RequestCtx, logger *zap.Logger, fn func(*fasthttp.RequestCtx, *zap.Logger)) {
	if !ctx.IsPost() {
		httputil.JSONErr(ctx, "method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	fn(ctx, logger)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	q := ctx.QueryArgs()
	domain := domainkey.Resolve(domainkey.RequestHints{
		DomainKey: string(q.Peek("domain_key")),
		Domain:    string(q.Peek("domain")),
		CrawlRoot: string(q.Peek("crawl_root")),
		RootURL:   string(q.Peek("root_url")),
		BaseURL:   string(q.Peek("base_url")),
		URL:       string(q.Peek("url")),
	})
	body := map[string]interface{}{
		"root":   s.coord.Roots().Root,
		"domain": domain,
	}

	if usage, err := disk.Usage(s.coord.Roots().Root); err != nil {
		logger.Warn("health: disk usage unavailable", zap.Error(err))
	} else {
		body["disk_free_bytes"] = usage.Free
		body["disk_total_bytes"] = usage.Total
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err != nil {
		logger.Warn("health: process lookup unavailable", zap.Error(err))
	} else if mem, err := proc.MemoryInfo(); err != nil {
		logger.Warn("health: rss unavailable", zap.Error(err))
	} else {
		body["rss_bytes"] = mem.RSS
	}

	httputil.JSONOK(ctx, body, fasthttp.StatusOK)
}

// Package coordinator defines the single process-wide value that owns the
// sink's mutation lock, per §5: "every exported method that performs a
// read-modify-write over persisted state acquires Coordinator.mu for the
// duration of the critical section." It is constructed once in main and
// passed into every HTTP handler and the background watchdog; there are no
// package-level singletons anywhere else in the tree.
package coordinator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/config"
	"github.com/bfscrawl/sink/internal/sink/artifact"
	"github.com/bfscrawl/sink/internal/sink/electorates"
	"github.com/bfscrawl/sink/internal/sink/filesreconcile"
	"github.com/bfscrawl/sink/internal/sink/frontier"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/levelreset"
	"github.com/bfscrawl/sink/internal/sink/metrics"
	"github.com/bfscrawl/sink/internal/sink/probe"
	"github.com/bfscrawl/sink/internal/sink/reconcile"
	"github.com/bfscrawl/sink/internal/sink/routing"
	"github.com/bfscrawl/sink/internal/sink/streaming"
	"github.com/bfscrawl/sink/internal/sink/upload"
	"github.com/bfscrawl/sink/pkg/types"
)

// AuditSink is the optional best-effort mirror a Coordinator forwards
// audit-shaped records to after a mutation commits (internal/sink/analytics'
// ClickHouse writer, internal/sink/mirror's MySQL writer, or both). A
// Coordinator with no sinks configured behaves identically to one with
// sinks that always succeed: mirroring is advisory, never load-bearing.
type AuditSink interface {
	MirrorAudit(domain string, record types.AuditRecord)
}

// Options configures a Coordinator at construction time.
type Options struct {
	Roots   *layout.Roots
	Config  config.Config
	Logger  *zap.Logger
	Sinks   []AuditSink
	Metrics *metrics.Collector
}

// Coordinator is the single explicit value holding the process-wide
// mutation mutex, the watchdog's lifecycle, and every reference a request
// handler needs to act on persisted state. It satisfies streaming.Locker.
type Coordinator struct {
	mu sync.Mutex

	roots  *layout.Roots
	cfg    config.Config
	logger *zap.Logger
	policy  routing.Policy
	sinks   []AuditSink
	metrics *metrics.Collector

	watchdog *streaming.Watchdog
}

// New constructs a Coordinator from opts, selecting the routing.Policy
// named by cfg.Routing.Policy (§4.4a).
func New(opts Options) *Coordinator {
	var policy routing.Policy
	switch opts.Config.Routing.Policy {
	case "flat":
		policy = routing.NewFlatPolicy()
	default:
		policy = routing.NewElectoralPolicy()
	}

	return &Coordinator{
		roots:   opts.Roots,
		cfg:     opts.Config,
		logger:  opts.Logger,
		policy:  policy,
		sinks:   opts.Sinks,
		metrics: opts.Metrics,
	}
}

// Lock and Unlock satisfy streaming.Locker, letting the watchdog share this
// Coordinator's mutex with every client-driven mutation.
func (c *Coordinator) Lock()   { c.mu.Lock() }
func (c *Coordinator) Unlock() { c.mu.Unlock() }

// lock acquires the mutation lock, recording how long the caller waited
// when a metrics collector is configured.
func (c *Coordinator) lock() {
	start := time.Now()
	c.mu.Lock()
	if c.metrics != nil {
		c.metrics.RecordLockWait(time.Since(start))
	}
}

// StartWatchdog constructs and starts the auto-finalize watchdog sharing
// this Coordinator's lock, per §4.7.
func (c *Coordinator) StartWatchdog() {
	opts := streaming.FinalizeOptions{
		ChunkSize: c.cfg.Artifact.DefaultChunkSize,
		Encoding:  c.encoding(),
	}
	c.watchdog = streaming.NewWatchdog(
		c.roots,
		c,
		time.Duration(c.cfg.Watchdog.IntervalMs)*time.Millisecond,
		time.Duration(c.cfg.Watchdog.IdleMs)*time.Millisecond,
		opts,
		c.logger,
	)
	if c.metrics != nil {
		c.watchdog.OnRun = c.metrics.RecordWatchdogRun
	}
	c.watchdog.Start()
}

// Shutdown stops the watchdog, waiting for any in-flight scan to finish.
func (c *Coordinator) Shutdown() {
	if c.watchdog != nil {
		c.watchdog.Shutdown()
	}
}

func (c *Coordinator) encoding() artifact.Encoding {
	return artifact.MetaFirstRow
}

// Encoding exposes the artifact encoding (always MetaFirstRow), for HTTP
// handlers that build a request struct before calling into the Coordinator.
func (c *Coordinator) Encoding() artifact.Encoding { return c.encoding() }

// DefaultChunkSize exposes the configured default chunk size.
func (c *Coordinator) DefaultChunkSize() int { return c.cfg.Artifact.DefaultChunkSize }

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (c *Coordinator) mirror(domain string, record types.AuditRecord) {
	for _, sink := range c.sinks {
		sink.MirrorAudit(domain, record)
	}
}

// UploadFile persists one downloaded file per §4.5.
func (c *Coordinator) UploadFile(domain string, req upload.Request) (*types.UploadReceipt, error) {
	c.lock()
	defer c.mu.Unlock()

	meta, err := electorates.Load(c.roots, domain)
	if err != nil {
		return nil, err
	}

	receipt, err := upload.Upload(c.roots, domain, c.policy, meta, req, now())
	if err != nil {
		return nil, err
	}

	action := "save"
	if receipt.Skipped {
		action = "duplicate_content_skipped"
	}
	c.mirror(domain, types.AuditRecord{
		Ts: now(), Domain: domain, Action: action, SHA256: receipt.SHA256,
		URL: req.FileURL, SavedTo: receipt.SavedTo, Level: req.BFSLevel, Note: receipt.Note,
	})
	if c.metrics != nil {
		c.metrics.RecordUpload(domain, action)
	}

	return receipt, nil
}

// ProbeMeta ingests one signature probe per §4.8.
func (c *Coordinator) ProbeMeta(domain string, req probe.Request) (*probe.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	return probe.Ingest(c.roots, domain, req, now(), c.encoding())
}

// DedupeLevel runs one non-streaming batch frontier merge per §4.3.
func (c *Coordinator) DedupeLevel(domain string, req frontier.Request) (*frontier.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	if req.ChunkSize == 0 {
		req.ChunkSize = c.cfg.Artifact.DefaultChunkSize
	}
	res, err := frontier.Merge(c.roots, domain, req)
	if err == nil && c.metrics != nil {
		skipped := len(req.DiscoveredPages) - len(res.NextFrontier)
		c.metrics.RecordDedupeSkips(domain, skipped)
	}
	return res, err
}

// StartRun truncates a streaming bucket per §4.7.
func (c *Coordinator) StartRun(domain string, level int, runID string) error {
	c.lock()
	defer c.mu.Unlock()

	return streaming.Start(c.roots, domain, level, runID)
}

// AppendRun appends one record to a streaming bucket per §4.7.
func (c *Coordinator) AppendRun(domain string, level int, runID string, record types.StreamingRecord) error {
	c.lock()
	defer c.mu.Unlock()

	record.Ts = now()
	return streaming.Append(c.roots, domain, level, runID, record)
}

// FinalizeRun reduces a streaming bucket and emits artifacts per §4.7.
func (c *Coordinator) FinalizeRun(domain string, level int, runID string, opts streaming.FinalizeOptions) (*streaming.FinalizeResult, error) {
	c.lock()
	defer c.mu.Unlock()

	if opts.ChunkSize == 0 {
		opts.ChunkSize = c.cfg.Artifact.DefaultChunkSize
	}
	return streaming.Finalize(c.roots, domain, level, runID, opts)
}

// FindRunByFilename resolves a run_id-plus-level pair to its owning domain
// when a request arrives without an explicit domain hint, per §4.7's
// cross-domain fallback. It only reads, so it does not take the lock.
func (c *Coordinator) FindRunByFilename(level int, runID string) (domain string, path string, ok bool) {
	return streaming.FindByFilename(c.roots, level, runID)
}

// ChunkURLs re-chunks an existing urls-level artifact to chunkSize.
func (c *Coordinator) ChunkURLs(domain string, level int, chunkSize int) error {
	c.lock()
	defer c.mu.Unlock()

	path := c.roots.UrlsLevelArtifact(domain, level)
	rows, err := artifact.Read(path)
	if err != nil {
		return err
	}
	meta := artifact.Meta{Level: level, Kind: "urls"}
	return artifact.WriteChunked(path, rows, meta, c.encoding(), chunkSize)
}

// ChunkFiles reconciles downloaded-vs-expected for one level per §6.
func (c *Coordinator) ChunkFiles(domain string, level int, chunkSize int) (*filesreconcile.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	if chunkSize == 0 {
		chunkSize = c.cfg.Artifact.DefaultChunkSize
	}
	return filesreconcile.ReconcileLevel(c.roots, domain, level, chunkSize, c.encoding())
}

// ChunkFilesIncomplete sweeps every level for domain, reconciling only the
// incomplete ones, per §6.
func (c *Coordinator) ChunkFilesIncomplete(domain string, chunkSize int) ([]*filesreconcile.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	if chunkSize == 0 {
		chunkSize = c.cfg.Artifact.DefaultChunkSize
	}
	return filesreconcile.ReconcileIncomplete(c.roots, domain, chunkSize, c.encoding())
}

// ResetLevelFiles performs the hard file-level reset of POST
// /runs/start/files.
func (c *Coordinator) ResetLevelFiles(domain string, level int) (*levelreset.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	return levelreset.Reset(c.roots, domain, level, now())
}

// UpsertElectorates upserts one term's routing metadata.
func (c *Coordinator) UpsertElectorates(domain string, req electorates.UpsertRequest) (*types.TermMetadata, error) {
	c.lock()
	defer c.mu.Unlock()

	return electorates.Upsert(c.roots, domain, req, now())
}

// GetElectorates returns the domain's full term map. It only reads, so it
// does not take the lock.
func (c *Coordinator) GetElectorates(domain string) (*types.TermMetadata, error) {
	return electorates.Load(c.roots, domain)
}

// ResetElectorates clears the domain's term map.
func (c *Coordinator) ResetElectorates(domain string) (*types.TermMetadata, error) {
	c.lock()
	defer c.mu.Unlock()

	return electorates.Reset(c.roots, domain, now())
}

// ResortDownloads runs the §4.9 reconciliation pass for domain. Exposed on
// Coordinator so an HTTP-triggered resort (as opposed to the standalone
// resort-downloads CLI) shares the same lock as every other mutation.
func (c *Coordinator) ResortDownloads(domain string, opts reconcile.Options, trace reconcile.Trace) (*reconcile.Result, error) {
	c.lock()
	defer c.mu.Unlock()

	meta, err := electorates.Load(c.roots, domain)
	if err != nil {
		return nil, err
	}

	res, err := reconcile.Run(c.roots, domain, c.policy, meta, opts, now(), trace)
	if err != nil {
		return nil, err
	}
	for _, a := range res.Actions {
		c.mirror(domain, a)
		if c.metrics != nil {
			c.metrics.RecordResortAction(domain, a.Action)
		}
	}
	return res, nil
}

// Policy exposes the routing.Policy resolved from the config's
// routing.policy setting.
func (c *Coordinator) Policy() routing.Policy { return c.policy }

// Roots exposes the resolved layout.Roots.
func (c *Coordinator) Roots() *layout.Roots { return c.roots }

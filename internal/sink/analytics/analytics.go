// Package analytics mirrors the sink's audit trail into ClickHouse for
// ad-hoc analysis, as the optional sink named by coordinator.AuditSink.
// Mirroring is best-effort and asynchronous: a dropped or delayed insert
// never blocks or fails the mutation that produced the audit record.
package analytics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/config"
	"github.com/bfscrawl/sink/pkg/types"
)

const queueCapacity = 4096

// entry pairs one audit record with the domain it belongs to, since
// types.AuditRecord's own Domain field is already populated by callers
// but is duplicated here for clarity at the queue boundary.
type entry struct {
	domain string
	record types.AuditRecord
}

// Writer batches audit records into ClickHouse inserts on a background
// goroutine.
type Writer struct {
	conn   clickhouse.Conn
	table  string
	logger *zap.Logger

	queue chan entry
	done  chan struct{}
}

// New dials ClickHouse per cfg and starts the background batching loop.
// Returns (nil, nil) if cfg is disabled.
func New(cfg config.ClickHouseConfig, logger *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	w := &Writer{
		conn:   conn,
		table:  cfg.Table,
		logger: logger,
		queue:  make(chan entry, queueCapacity),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// MirrorAudit enqueues record for async insert, dropping it (and logging)
// if the queue is full rather than applying backpressure to the caller
// holding the coordinator's mutation lock.
func (w *Writer) MirrorAudit(domain string, record types.AuditRecord) {
	select {
	case w.queue <- entry{domain: domain, record: record}:
	default:
		w.logger.Warn("analytics: queue full, dropping audit record",
			zap.String("domain", domain), zap.String("action", record.Action))
	}
}

// Close stops the batching loop and flushes any buffered records.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	return w.conn.Close()
}

func (w *Writer) run() {
	defer close(w.done)

	const flushInterval = 2 * time.Second
	const batchMax = 500

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]entry, 0, batchMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(batch); err != nil {
			w.logger.Warn("analytics: batch insert failed", zap.Error(err), zap.Int("rows", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(entries []entry) error {
	ctx := context.Background()
	b, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table+
		" (ts, domain, action, sha256, url, saved_to, level, note) VALUES")
	if err != nil {
		return err
	}
	for _, e := range entries {
		r := e.record
		if err := b.Append(r.Ts, e.domain, r.Action, r.SHA256, r.URL, r.SavedTo, int32(r.Level), r.Note); err != nil {
			return err
		}
	}
	return b.Send()
}

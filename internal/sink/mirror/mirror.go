// Package mirror replicates the sink's content-hash registry audit trail
// into a relational MySQL table for operators who'd rather join against
// it with ordinary SQL than replay JSONL logs. Like internal/sink/analytics
// it implements coordinator.AuditSink and is strictly best-effort.
package mirror

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/config"
	"github.com/bfscrawl/sink/pkg/types"
)

const queueCapacity = 4096

type entry struct {
	domain string
	record types.AuditRecord
}

// Writer writes audit records to MySQL on a background goroutine, one
// upsert per record.
type Writer struct {
	db     *sql.DB
	table  string
	logger *zap.Logger

	queue chan entry
	done  chan struct{}
}

// New opens the MySQL connection per cfg and starts the background
// writer. Returns (nil, nil) if cfg is disabled.
func New(cfg config.MySQLMirrorConfig, logger *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	w := &Writer{
		db:     db,
		table:  cfg.Table,
		logger: logger,
		queue:  make(chan entry, queueCapacity),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// MirrorAudit enqueues record for async write, dropping it (and logging)
// when the queue is saturated rather than blocking the caller.
func (w *Writer) MirrorAudit(domain string, record types.AuditRecord) {
	select {
	case w.queue <- entry{domain: domain, record: record}:
	default:
		w.logger.Warn("mirror: queue full, dropping audit record",
			zap.String("domain", domain), zap.String("action", record.Action))
	}
}

// Close stops the writer goroutine and closes the connection pool.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	return w.db.Close()
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		if e.record.SHA256 == "" {
			continue // table is keyed by sha256; non-upload audit lines have none to mirror
		}
		if err := w.upsert(e); err != nil {
			w.logger.Warn("mirror: upsert failed", zap.Error(err),
				zap.String("domain", e.domain), zap.String("sha256", e.record.SHA256))
		}
	}
}

func (w *Writer) upsert(e entry) error {
	r := e.record
	_, err := w.db.Exec(
		"INSERT INTO "+w.table+
			" (sha256, domain, url, saved_to, level, action, note, last_seen_ts) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE url = VALUES(url), saved_to = VALUES(saved_to), "+
			"level = VALUES(level), action = VALUES(action), note = VALUES(note), "+
			"last_seen_ts = VALUES(last_seen_ts)",
		r.SHA256, e.domain, r.URL, r.SavedTo, r.Level, r.Action, r.Note, r.Ts,
	)
	return err
}

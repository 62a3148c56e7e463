// Package sqlquery exposes the sink's content-hash registry and probe
// index as read-only SQL tables over the MySQL wire protocol, embedding
// dolthub/go-mysql-server rather than standing up a separate database.
// Tables are periodic snapshots, not live views: Refresh rebuilds them
// from the persisted JSON state.
package sqlquery

import (
	"fmt"
	"os"
	"path/filepath"

	sqle "github.com/dolthub/go-mysql-server"
	"github.com/dolthub/go-mysql-server/memory"
	"github.com/dolthub/go-mysql-server/server"
	gmssql "github.com/dolthub/go-mysql-server/sql"
	"github.com/dolthub/go-mysql-server/sql/types"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/config"
	"github.com/bfscrawl/sink/internal/sink/layout"
	"github.com/bfscrawl/sink/internal/sink/probe"
	"github.com/bfscrawl/sink/internal/sink/registry"
)

const dbName = "sink"

// Server is the embedded query server, holding the in-memory snapshot
// database it serves.
type Server struct {
	srv    *server.Server
	db     *memory.Database
	roots  *layout.Roots
	logger *zap.Logger
}

// New constructs and starts the embedded query server per cfg, building
// an initial snapshot with Refresh. Returns (nil, nil) if cfg is disabled.
func New(cfg config.SQLQueryConfig, roots *layout.Roots, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	db := memory.NewDatabase(dbName)
	db.EnablePrimaryKeyIndexes()
	provider := memory.NewDBProvider(db)
	engine := sqle.NewDefault(provider)

	srvCfg := server.Config{
		Protocol: "tcp",
		Address:  cfg.Listen,
	}
	srv, err := server.NewServer(srvCfg, engine, memory.NewSessionBuilder(provider), nil)
	if err != nil {
		return nil, err
	}

	s := &Server{srv: srv, db: db, roots: roots, logger: logger}
	if err := s.Refresh(); err != nil {
		logger.Warn("sqlquery: initial snapshot failed", zap.Error(err))
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("sqlquery: server stopped", zap.Error(err))
		}
	}()

	return s, nil
}

// Close stops the embedded server.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Refresh rescans every domain under the crawl root and rebuilds the
// registry and probes tables from their persisted JSON state. Per-level
// manifests are not exposed as a table.
func (s *Server) Refresh() error {
	domains, err := s.discoverDomains()
	if err != nil {
		return err
	}

	ctx := gmssql.NewEmptyContext()

	registryTable := newRegistryTable()
	probesTable := newProbesTable()

	for _, domain := range domains {
		store, err := registry.Load(s.roots, domain)
		if err != nil {
			s.logger.Warn("sqlquery: load registry failed", zap.String("domain", domain), zap.Error(err))
			continue
		}
		for _, sha := range store.SortedSHAs() {
			rec := store.Records[sha]
			row := gmssql.NewRow(domain, rec.SHA256, rec.SavedTo, rec.Bytes, rec.Ext, rec.TermKey,
				rec.ElectorateFolder, rec.FirstSeenTs, rec.LastSeenTs, rec.Note, int64(len(rec.Sources)))
			if err := registryTable.Insert(ctx, row); err != nil {
				return err
			}
		}

		idx, err := probe.LoadIndex(s.roots, domain)
		if err != nil {
			s.logger.Warn("sqlquery: load probe index failed", zap.String("domain", domain), zap.Error(err))
			continue
		}
		for url, entry := range idx.Entries {
			level := int64(-1)
			if entry.Level != nil {
				level = int64(*entry.Level)
			}
			row := gmssql.NewRow(domain, url, entry.LastSeenTs, level,
				entry.Signature.ETag, entry.Signature.LastModified, entry.Signature.ContentLength, entry.Signature.ContentType)
			if err := probesTable.Insert(ctx, row); err != nil {
				return err
			}
		}
	}

	s.db.AddTable("registry", registryTable)
	s.db.AddTable("probes", probesTable)
	return nil
}

func newRegistryTable() *memory.Table {
	schema := gmssql.NewPrimaryKeySchema(gmssql.Schema{
		{Name: "domain", Type: types.Text, Source: "registry"},
		{Name: "sha256", Type: types.Text, Source: "registry", PrimaryKey: true},
		{Name: "saved_to", Type: types.Text, Source: "registry"},
		{Name: "bytes", Type: types.Int64, Source: "registry"},
		{Name: "ext", Type: types.Text, Source: "registry"},
		{Name: "term_key", Type: types.Text, Source: "registry"},
		{Name: "electorate_folder", Type: types.Text, Source: "registry"},
		{Name: "first_seen_ts", Type: types.Text, Source: "registry"},
		{Name: "last_seen_ts", Type: types.Text, Source: "registry"},
		{Name: "note", Type: types.Text, Source: "registry"},
		{Name: "source_count", Type: types.Int64, Source: "registry"},
	})
	return memory.NewTable(nil, "registry", schema, nil)
}

func newProbesTable() *memory.Table {
	schema := gmssql.NewPrimaryKeySchema(gmssql.Schema{
		{Name: "domain", Type: types.Text, Source: "probes"},
		{Name: "url", Type: types.Text, Source: "probes", PrimaryKey: true},
		{Name: "last_seen_ts", Type: types.Text, Source: "probes"},
		{Name: "level", Type: types.Int64, Source: "probes"},
		{Name: "etag", Type: types.Text, Source: "probes"},
		{Name: "last_modified", Type: types.Text, Source: "probes"},
		{Name: "content_length", Type: types.Int64, Source: "probes"},
		{Name: "content_type", Type: types.Text, Source: "probes"},
	})
	return memory.NewTable(nil, "probes", schema, nil)
}

// discoverDomains lists every domain directory under BFS_crawl/_meta.
func (s *Server) discoverDomains() ([]string, error) {
	dir := filepath.Join(s.roots.Root, "BFS_crawl", "_meta")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlquery: list domains: %w", err)
	}
	var domains []string
	for _, e := range entries {
		if e.IsDir() {
			domains = append(domains, e.Name())
		}
	}
	return domains, nil
}

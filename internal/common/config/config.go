// Package config loads the sink's YAML configuration, ported from the
// teacher's strict-decoding convention (internal/common/yamlutil,
// KnownFields(true) so unknown keys fail fast) but covering the sink's own
// domain: crawl root, HTTP/metrics listen addresses, watchdog tuning, and
// the optional analytics/mirror/query sinks.
package config

import (
	"fmt"
	"os"

	"github.com/bfscrawl/sink/internal/common/logger"
	"github.com/bfscrawl/sink/internal/common/redis"
	"github.com/bfscrawl/sink/internal/common/yamlutil"
)

// ServerConfig configures the primary fasthttp server exposing §6's HTTP
// surface.
type ServerConfig struct {
	Listen             string `yaml:"listen"`
	ReadTimeoutSeconds  int   `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int   `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int   `yaml:"idle_timeout_seconds"`
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
}

// MetricsConfig configures the standalone Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// WatchdogConfig tunes the auto-finalize watchdog of §4.7.
type WatchdogConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	IdleMs     int `yaml:"idle_ms"`
}

// ArtifactConfig tunes artifact chunking and compression (§4.6).
type ArtifactConfig struct {
	DefaultChunkSize   int    `yaml:"default_chunk_size"`
	CompressAlgorithm  string `yaml:"compress_algorithm"`
	CompressThresholdBytes int64 `yaml:"compress_threshold_bytes"`
}

// UploadConfig bounds accepted upload payloads (§5 resource discipline).
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// RoutingConfig selects the routing.Policy implementation (§4.4a).
type RoutingConfig struct {
	Policy string `yaml:"policy"` // "electoral" (default) or "flat"
}

// ClickHouseConfig configures the optional analytics mirror
// (internal/sink/analytics).
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// MySQLMirrorConfig configures the optional relational mirror
// (internal/sink/mirror).
type MySQLMirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
}

// SQLQueryConfig configures the optional embedded MySQL-wire-protocol
// query server (internal/sink/sqlquery).
type SQLQueryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	User    string `yaml:"user"`
}

// Config is the top-level sink configuration, decoded from
// configs/sink.yaml.
type Config struct {
	CrawlRoot string         `yaml:"crawl_root"`
	Server    ServerConfig   `yaml:"server"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Watchdog  WatchdogConfig `yaml:"watchdog"`
	Artifact  ArtifactConfig `yaml:"artifact"`
	Upload    UploadConfig   `yaml:"upload"`
	Routing   RoutingConfig  `yaml:"routing"`
	Logging   logger.Config  `yaml:"logging"`

	Redis      *redis.Config      `yaml:"redis,omitempty"`
	ClickHouse ClickHouseConfig   `yaml:"clickhouse"`
	MySQL      MySQLMirrorConfig  `yaml:"mysql_mirror"`
	SQLQuery   SQLQueryConfig     `yaml:"sql_query"`
}

// Default returns a Config with the same conservative defaults the
// teacher applies before YAML overrides (bounded timeouts, a sane chunk
// size, metrics disabled unless explicitly turned on).
func Default() Config {
	return Config{
		CrawlRoot: "./BFS_crawl",
		Server: ServerConfig{
			Listen:              ":8090",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			IdleTimeoutSeconds:  120,
			MaxRequestBodyBytes: 750 * 1024 * 1024,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Watchdog: WatchdogConfig{
			IntervalMs: 30_000,
			IdleMs:     120_000,
		},
		Artifact: ArtifactConfig{
			DefaultChunkSize:       5000,
			CompressAlgorithm:      "none",
			CompressThresholdBytes: 1 * 1024 * 1024,
		},
		Upload: UploadConfig{
			MaxBytes: 750 * 1024 * 1024,
		},
		Routing: RoutingConfig{
			Policy: "electoral",
		},
		Logging: logger.Config{
			Level:   logger.LevelInfo,
			Console: logger.ConsoleLogConfig{Enabled: true, Format: logger.FormatConsole},
		},
	}
}

// Load reads and strictly decodes the YAML file at path, applying it on
// top of Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: validate %q: %w", path, err)
	}

	return cfg, nil
}

// Validate checks invariants that must hold before the server binds its
// listeners, matching the teacher's fail-fast-on-misconfiguration
// discipline (§7: "only startup misconfiguration is fatal").
func (c Config) Validate() error {
	if c.CrawlRoot == "" {
		return fmt.Errorf("crawl_root must be set")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must be set")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == c.Server.Listen {
		return fmt.Errorf("metrics.listen must differ from server.listen")
	}
	if c.Artifact.DefaultChunkSize <= 0 {
		return fmt.Errorf("artifact.default_chunk_size must be positive")
	}
	if c.Routing.Policy != "electoral" && c.Routing.Policy != "flat" {
		return fmt.Errorf("routing.policy must be \"electoral\" or \"flat\", got %q", c.Routing.Policy)
	}
	return nil
}

// Command sink-server runs the long-lived HTTP surface of §6: the
// frontier/dedupe engine, content-hash registry, streaming run buckets,
// and routing-policy metadata, all guarded by one process-wide mutation
// lock. Its startup/shutdown sequencing follows the teacher's
// cmd/edge-gateway/main.go: a console-only bootstrap logger, a
// startup-override logger that drops to the configured level once the
// server is accepting traffic, and a serverLifecycle wrapper around the
// fasthttp listener for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/common/config"
	"github.com/bfscrawl/sink/internal/common/logger"
	"github.com/bfscrawl/sink/internal/common/metricsserver"
	"github.com/bfscrawl/sink/internal/sink/analytics"
	"github.com/bfscrawl/sink/internal/sink/coordinator"
	"github.com/bfscrawl/sink/internal/sink/httpapi"
	"github.com/bfscrawl/sink/internal/sink/layout"
	sinkmetrics "github.com/bfscrawl/sink/internal/sink/metrics"
	"github.com/bfscrawl/sink/internal/sink/mirror"
	"github.com/bfscrawl/sink/internal/sink/sqlquery"
)

const serverName = "bfscrawl-sink/1.0"

func main() {
	configPath := flag.String("c", "configs/sink.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "validate configuration and exit")
	flag.Parse()

	if *testMode {
		if err := runConfigTest(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "configuration invalid:", err)
			os.Exit(1)
		}
		fmt.Println("configuration OK")
		os.Exit(0)
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	initialLogger.Info("starting sink-server", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("failed to load config", zap.Error(err))
	}

	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Logging)
	if err != nil {
		initialLogger.Fatal("failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	sinkLogger := dynamicLogger.Logger

	roots, err := layout.NewRoots(cfg.CrawlRoot)
	if err != nil {
		sinkLogger.Fatal("failed to resolve crawl root", zap.Error(err))
	}

	collector := sinkmetrics.New(sinkLogger)

	var sinks []coordinator.AuditSink
	analyticsWriter, err := analytics.New(cfg.ClickHouse, sinkLogger)
	if err != nil {
		sinkLogger.Error("failed to start analytics mirror, continuing without it", zap.Error(err))
	} else if analyticsWriter != nil {
		sinks = append(sinks, analyticsWriter)
		defer analyticsWriter.Close()
	}

	mirrorWriter, err := mirror.New(cfg.MySQL, sinkLogger)
	if err != nil {
		sinkLogger.Error("failed to start MySQL mirror, continuing without it", zap.Error(err))
	} else if mirrorWriter != nil {
		sinks = append(sinks, mirrorWriter)
		defer mirrorWriter.Close()
	}

	queryServer, err := sqlquery.New(cfg.SQLQuery, roots, sinkLogger)
	if err != nil {
		sinkLogger.Error("failed to start SQL query server, continuing without it", zap.Error(err))
	} else if queryServer != nil {
		defer queryServer.Close()
		go runQueryRefresh(queryServer, cfg, sinkLogger)
	}

	coord := coordinator.New(coordinator.Options{
		Roots:   roots,
		Config:  cfg,
		Logger:  sinkLogger,
		Sinks:   sinks,
		Metrics: collector,
	})
	coord.StartWatchdog()

	srv := httpapi.NewServer(coord, sinkLogger, collector)

	serverErrors := make(chan error, 1)
	httpLifecycle := &serverLifecycle{
		server:  newFastHTTPServer(srv.HandleRequest, cfg.Server),
		name:    "HTTP",
		address: cfg.Server.Listen,
		logger:  sinkLogger,
	}
	httpLifecycle.StartWithErrorChan(serverErrors)

	metricsServer, err := metricsserver.StartMetricsServer(cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, collector, sinkLogger)
	if err != nil {
		sinkLogger.Fatal("failed to start metrics server", zap.Error(err))
	}

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		sinkLogger.Fatal("server failed to start", zap.Error(err))
	default:
	}

	sinkLogger.Info("sink-server started", zap.String("http_addr", cfg.Server.Listen))
	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		sinkLogger.Info("shutting down sink-server...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		sinkLogger.Error("server failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coord.Shutdown()

	if metricsServer != nil {
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			sinkLogger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	httpLifecycle.Shutdown(shutdownCtx)

	sinkLogger.Info("sink-server stopped")
}

func newFastHTTPServer(handler fasthttp.RequestHandler, cfg config.ServerConfig) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:                 time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:                  time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		MaxRequestBodySize:           int(cfg.MaxRequestBodyBytes),
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}

type serverLifecycle struct {
	server  *fasthttp.Server
	name    string
	address string
	logger  *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		if err := s.server.ListenAndServe(s.address); err != nil {
			s.logger.Error("server error", zap.String("name", s.name), zap.Error(err))
			errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
		}
	}()
	s.logger.Info("server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) {
	s.logger.Info("shutting down server", zap.String("name", s.name))
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Error("server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
}

func runConfigTest(path string) error {
	_, err := config.Load(path)
	return err
}

// runQueryRefresh periodically rebuilds the SQL query server's snapshot
// tables, reusing the watchdog's sweep interval since both are driven by
// the same "how fresh does on-disk state need to be" tradeoff.
func runQueryRefresh(qs *sqlquery.Server, cfg config.Config, logger *zap.Logger) {
	interval := time.Duration(cfg.Watchdog.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := qs.Refresh(); err != nil {
			logger.Warn("sqlquery: refresh failed", zap.Error(err))
		}
	}
}

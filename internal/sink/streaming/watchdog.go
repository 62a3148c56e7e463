package streaming

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bfscrawl/sink/internal/sink/layout"
)

// Locker is the single mutation mutex the watchdog shares with every other
// writer, so an auto-finalize run never overlaps a client-driven one.
type Locker interface {
	Lock()
	Unlock()
}

// Watchdog periodically scans runs/<domain>/*.jsonl for idle, unfinalized
// buckets and finalizes them, grounded on the teacher's ticker-plus-context
// filesystem cleanup worker.
type Watchdog struct {
	roots    *layout.Roots
	lock     Locker
	interval time.Duration
	idle     time.Duration
	opts     FinalizeOptions
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnRun, if set, is called after every scan with the number of buckets
	// finalized in that sweep (0 on an idle sweep). Used to feed the
	// metrics collector without this package depending on it.
	OnRun func(finalized int)
}

// NewWatchdog constructs a Watchdog. It does nothing until Start is called.
func NewWatchdog(roots *layout.Roots, lock Locker, interval, idle time.Duration, opts FinalizeOptions, logger *zap.Logger) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watchdog{
		roots:    roots,
		lock:     lock,
		interval: interval,
		idle:     idle,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the scan loop in a background goroutine.
func (w *Watchdog) Start() {
	w.wg.Add(1)
	ticker := time.NewTicker(w.interval)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runOnce()
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the scan loop and waits for any in-flight scan to finish.
func (w *Watchdog) Shutdown() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watchdog) runOnce() {
	w.lock.Lock()
	defer w.lock.Unlock()

	pending, err := ListPendingBuckets(w.roots)
	if err != nil {
		w.logger.Warn("streaming watchdog: scan failed", zap.Error(err))
		return
	}

	finalized := 0
	defer func() {
		if w.OnRun != nil {
			w.OnRun(finalized)
		}
	}()

	cutoff := time.Now().Add(-w.idle)
	for _, bucket := range pending {
		if bucket.Size == 0 {
			continue
		}
		info, statErr := statMtime(bucket.Path)
		if statErr != nil || info.After(cutoff) {
			continue
		}

		domain := domainFromBucketPath(bucket.Path)
		res, err := Finalize(w.roots, domain, bucket.Level, bucket.RunID, w.opts)
		if err != nil {
			w.logger.Error("streaming watchdog: finalize failed",
				zap.String("domain", domain), zap.Int("level", bucket.Level),
				zap.String("run_id", bucket.RunID), zap.Error(err))
			continue
		}
		if !res.AlreadyDone {
			finalized++
			w.logger.Info("streaming watchdog: auto-finalized idle bucket",
				zap.String("domain", domain), zap.Int("level", bucket.Level),
				zap.String("run_id", bucket.RunID),
				zap.Int("visited", res.DoneMarker.Visited),
				zap.Int("pages", res.DoneMarker.Pages),
				zap.Int("files", res.DoneMarker.Files))
		}
	}
}

func statMtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// domainFromBucketPath recovers the domain component from a
// runs/<domain>/<bucket>.jsonl path, mirroring layout.Roots.RunsDir's
// layout without requiring the caller to track domain separately.
func domainFromBucketPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}

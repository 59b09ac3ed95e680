/*
scheduler.go - Automated due posting

PURPOSE:
  Periodically brings the ledger up to date: installments whose due date
  has arrived get their fee-due transaction, and active receipts are
  re-posted so that their transactions match the current lines.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each pass calls Service.SyncLedger for all active subjects
  - Posting is idempotent, so overlapping or repeated passes are safe
  - The last few runs are kept in memory for the admin endpoint

CONFIGURATION:
  - CheckInterval: How often to run (DUE_POSTING_INTERVAL, default 1 hour)
  - Enabled: Whether the scheduler runs (DUE_POSTING_ENABLED)

USAGE:
  scheduler := NewDuePostingScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncLedger endpoint (manual run)
  - fee/service.go: SyncLedger
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
)

const maxRunHistory = 20

// SyncRun records one scheduler pass.
type SyncRun struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	AsOf        string         `json:"as_of"`
	Report      fee.SyncReport `json:"report"`
	Error       string         `json:"error,omitempty"`
}

// DuePostingScheduler posts fee dues on a timer.
type DuePostingScheduler struct {
	Service       *fee.Service
	CheckInterval time.Duration
	Enabled       bool
	Clock         fee.Clock

	logger  *zap.Logger
	ticker  *time.Ticker
	started time.Time
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	runsMu sync.Mutex
	runs   []SyncRun
}

// NewDuePostingScheduler creates an enabled scheduler with a one hour interval.
func NewDuePostingScheduler(service *fee.Service, logger *zap.Logger) *DuePostingScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DuePostingScheduler{
		Service:       service,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logger.Named("scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler. It runs one pass immediately.
func (ds *DuePostingScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.logger.Info("due posting disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.started = time.Now()
	ds.wg.Add(1)
	go ds.run()

	ds.logger.Info("due posting started", zap.Duration("interval", ds.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (ds *DuePostingScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker == nil {
		return
	}
	ds.ticker.Stop()
	close(ds.stop)
	ds.wg.Wait()
	ds.ticker = nil
	ds.started = time.Time{}
	ds.logger.Info("due posting stopped")
}

func (ds *DuePostingScheduler) run() {
	defer ds.wg.Done()

	ds.RunNow(context.Background())

	for {
		select {
		case <-ds.ticker.C:
			ds.RunNow(context.Background())
		case <-ds.stop:
			return
		}
	}
}

// RunNow performs one synchronous pass and records it.
func (ds *DuePostingScheduler) RunNow(ctx context.Context) SyncRun {
	asOf := ds.Clock.Today()
	run := SyncRun{StartedAt: time.Now().UTC(), AsOf: fee.FormatDate(asOf)}

	report, err := ds.Service.SyncLedger(ctx, fee.SubjectFilter{ActiveOnly: true}, asOf)
	run.Report = report
	run.CompletedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
		ds.logger.Error("due posting failed", zap.Error(err))
	} else if report.DuesPosted > 0 || report.Failed > 0 {
		ds.logger.Info("due posting completed",
			zap.String("as_of", run.AsOf),
			zap.Int("subjects", report.Subjects),
			zap.Int("dues_posted", report.DuesPosted),
			zap.Int("receipts_posted", report.ReceiptsPosted),
			zap.Int("failed", report.Failed))
	}

	ds.record(run)
	return run
}

// Runs returns recorded passes, newest first.
func (ds *DuePostingScheduler) Runs() []SyncRun {
	ds.runsMu.Lock()
	defer ds.runsMu.Unlock()

	out := make([]SyncRun, len(ds.runs))
	for i, r := range ds.runs {
		out[len(ds.runs)-1-i] = r
	}
	return out
}

// NextRunTime returns the next tick of the running scheduler, or the zero
// time when it is not running. Manual RunNow passes do not move it.
func (ds *DuePostingScheduler) NextRunTime() time.Time {
	ds.mu.Lock()
	started := ds.started
	ds.mu.Unlock()
	return nextTick(started, ds.CheckInterval, time.Now())
}

// nextTick is the first tick after now of a ticker started at started.
func nextTick(started time.Time, interval time.Duration, now time.Time) time.Time {
	if started.IsZero() || interval <= 0 {
		return time.Time{}
	}
	elapsed := now.Sub(started)
	if elapsed < 0 {
		return started.Add(interval)
	}
	return started.Add(interval * (elapsed/interval + 1))
}

func (ds *DuePostingScheduler) record(run SyncRun) {
	ds.runsMu.Lock()
	defer ds.runsMu.Unlock()

	ds.runs = append(ds.runs, run)
	if len(ds.runs) > maxRunHistory {
		ds.runs = ds.runs[len(ds.runs)-maxRunHistory:]
	}
}

// Package daemon implements the supervisor loop (spec.md §4.7):
// fixed-cadence Scanner→reap→check_inactivity→spawn ticks, a 600s
// heartbeat counting live collectors, and graceful shutdown draining
// the queue and joining the reader and sender. Adapted from the
// teacher's internal/daemon/daemon.go Run-loop/PID-lock pattern, with
// the inbox-job machinery replaced by the collector-directory pipeline.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/config"
	"github.com/ppiankov/octopus/internal/pidfile"
	"github.com/ppiankov/octopus/internal/procmgr"
	"github.com/ppiankov/octopus/internal/queue"
	"github.com/ppiankov/octopus/internal/reader"
	"github.com/ppiankov/octopus/internal/registry"
	"github.com/ppiankov/octopus/internal/sender"
)

// heartbeatInterval matches spec.md §4.7's 600s heartbeat cadence.
const heartbeatInterval = 600 * time.Second

// shutdownGrace bounds how long shutdown waits for the queue to drain.
const shutdownGrace = 5 * time.Second

// Daemon is the supervisor: it owns the registry and process manager,
// and drives the reader/sender goroutines.
type Daemon struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	reg     *registry.Registry
	proc    *procmgr.Manager
	scanner *registry.Scanner
	q       *queue.Queue
	rdr     *reader.Reader
	snd     *sender.Sender
}

// New wires up a supervisor from cfg. targets is the already-built
// sink fan-out list (internal/sender.Target), constructed by the
// caller from cfg.Sinks so sink construction errors surface before the
// daemon starts.
func New(cfg config.Config, targets []*sender.Target, log *zap.SugaredLogger) *Daemon {
	reg := registry.New(log.Named("registry"))
	capacity := cfg.MaxReadQueueSize
	if capacity <= 0 {
		capacity = queue.DefaultCapacity
	}
	q := queue.New(capacity)

	return &Daemon{
		cfg: cfg,
		log: log,
		reg: reg,
		proc: procmgr.New(reg, procmgr.Config{
			AllowedInactivity:   cfg.AllowedInactivity,
			RemoveInactiveNames: cfg.RemoveInactiveSet(),
		}, log.Named("procmgr")),
		scanner: registry.NewScanner(cfg.CollectorDir(), log.Named("scanner")),
		q:       q,
		rdr: reader.New(reg, q, reader.Config{
			Dedupinterval: cfg.Dedupinterval,
			Evictinterval: cfg.Evictinterval,
			Deduponlyzero: cfg.Deduponlyzero,
		}, log.Named("reader")),
		snd: sender.New(q, targets, log.Named("sender")),
	}
}

// Run starts the supervisor. Blocks until ctx is cancelled, then shuts
// down gracefully: stop accepting spawns, shut down all descriptors,
// drain the queue for a grace period, join reader and sender, return.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("ensure base dir: %w", err)
	}
	if err := os.MkdirAll(d.cfg.CollectorDir(), 0o755); err != nil {
		return fmt.Errorf("ensure collector dir: %w", err)
	}

	if err := pidfile.Acquire(d.cfg.PIDPath()); err != nil {
		return fmt.Errorf("acquire pid lock: %w", err)
	}
	defer func() { _ = pidfile.Release(d.cfg.PIDPath()) }()

	readerCtx, cancelReader := context.WithCancel(context.Background())
	senderCtx, cancelSender := context.WithCancel(context.Background())
	scannerCtx, cancelScanner := context.WithCancel(context.Background())
	defer cancelReader()
	defer cancelSender()
	defer cancelScanner()

	readerDone := make(chan struct{})
	senderDone := make(chan struct{})
	scannerDone := make(chan struct{})
	go func() { d.rdr.Run(readerCtx); close(readerDone) }()
	go func() { d.snd.Run(senderCtx); close(senderDone) }()
	go func() { _ = d.scanner.Run(scannerCtx); close(scannerDone) }()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	nextHeartbeat := time.Now().Add(heartbeatInterval)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("shutting down")
			for _, desc := range d.reg.Snapshot() {
				_ = desc.Shutdown()
			}
			d.drainQueue(shutdownGrace)
			cancelReader()
			cancelSender()
			cancelScanner()
			<-readerDone
			<-senderDone
			<-scannerDone
			return d.snd.Close()

		case <-ticker.C:
			d.tick()
			if now := time.Now(); now.After(nextHeartbeat) {
				d.log.Infow("heartbeat", "live_collectors", len(d.reg.Living()))
				nextHeartbeat = now.Add(heartbeatInterval)
			}

		case <-d.scanner.Changed():
			// A filesystem change was observed between ticks; reconcile
			// now instead of waiting for the next fixed tick.
			d.tick()
		}
	}
}

// tick runs one supervisor pass: populate → reap → check_inactivity →
// spawn (spec.md §4.7). Each phase is isolated so a panic in one (a
// misbehaving descriptor, a bad file stat) can't take down the others
// or crash the whole supervisor.
func (d *Daemon) tick() {
	d.guarded("populate", func() {
		if err := d.reg.Populate(d.cfg.CollectorDir()); err != nil {
			d.log.Warnw("populate failed", "error", err)
		}
	})
	d.guarded("reap", d.proc.Reap)
	d.guarded("check_inactivity", d.proc.CheckInactivity)
	d.guarded("spawn", d.proc.Spawn)
}

// guarded runs fn, recovering from and logging any panic under phase's
// name instead of letting it propagate to process exit (spec.md §7).
func (d *Daemon) guarded(phase string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Errorw("recovered from panic in supervisor tick phase", "phase", phase, "panic", rec)
		}
	}()
	fn()
}

// drainQueue waits up to grace for the queue to empty, giving the
// sender a final window to flush pending lines during shutdown.
func (d *Daemon) drainQueue(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if d.q.Len() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

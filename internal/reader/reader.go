// Package reader implements the ReaderThread from spec.md §4.5,
// grounded on original_source/octopus/comm/gen_collector.py's
// ReaderThread.run/process_line: it drains every living collector's
// buffered stdout on a fixed cadence, applies the dedup filter, and
// hands surviving lines to the queue. It owns buffer, dedup_cache,
// last_datapoint and the per-collector counters — apart from Spawn
// initializing last_datapoint, no other worker mutates those fields
// (spec.md §5).
package reader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/collector"
	"github.com/ppiankov/octopus/internal/queue"
	"github.com/ppiankov/octopus/internal/registry"
)

// Config holds the dedup tunables from spec.md §6. Evictinterval must
// exceed Dedupinterval (enforced by New); Dedupinterval == 0 disables
// dedup entirely.
type Config struct {
	Dedupinterval time.Duration
	Evictinterval time.Duration
	Deduponlyzero bool
}

// Reader drains living collectors on a 1s cadence and pushes surviving
// lines onto q.
type Reader struct {
	reg *registry.Registry
	q   *queue.Queue
	cfg Config
	log *zap.SugaredLogger

	lastEvict time.Time
}

// New creates a reader. Panics if cfg.Evictinterval <= cfg.Dedupinterval
// and dedup is enabled, matching the original's assertion.
func New(reg *registry.Registry, q *queue.Queue, cfg Config, log *zap.SugaredLogger) *Reader {
	if cfg.Dedupinterval != 0 && cfg.Evictinterval <= cfg.Dedupinterval {
		panic("evictinterval must exceed dedupinterval")
	}
	return &Reader{reg: reg, q: q, cfg: cfg, log: log}
}

// Run loops every second draining living collectors until ctx is
// cancelled, matching gen_collector.py's ReaderThread.run cadence
// ("we loop every second for now").
func (r *Reader) Run(ctx context.Context) {
	r.log.Debug("reader up and running")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reader) tick() {
	now := time.Now()
	for _, d := range r.reg.Living() {
		r.collectOne(d, now)
	}

	if r.cfg.Dedupinterval == 0 {
		return
	}
	if now.Sub(r.lastEvict) <= r.cfg.Evictinterval {
		return
	}
	r.lastEvict = now
	cutoff := now.Add(-r.cfg.Evictinterval)
	for _, d := range r.reg.Snapshot() {
		d.EvictOldKeys(cutoff)
	}
}

// collectOne drains one collector, recovering from any panic in the
// per-collector body so one misbehaving collector or a malformed line
// can't bring down the whole reader loop.
func (r *Reader) collectOne(d *collector.Descriptor, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("recovered from panic collecting collector output", "collector", d.Name, "run_id", d.RunID, "panic", rec)
		}
	}()

	lines, stderrLines, err := d.Collect()
	if err != nil {
		r.log.Warnw("error reading collector output", "collector", d.Name, "error", err)
		return
	}
	for _, sl := range stderrLines {
		r.log.Warnw(sl.Line, "collector", d.Name, "run_id", d.RunID)
	}
	for _, line := range lines {
		r.processLine(d, line, now)
	}
}

// processLine applies the dedup filter and enqueues surviving lines,
// matching process_line's accounting (lines_sent / dropped).
func (r *Reader) processLine(d *collector.Descriptor, line string, now time.Time) {
	d.LinesSent++

	sample, ok := collector.ParseSample(line)
	if !ok {
		d.LinesInvalid++
		return
	}

	forward := line
	if r.cfg.Dedupinterval != 0 {
		decision, rewritten := d.Dedup.Filter(sample, now, r.cfg.Dedupinterval, r.cfg.Deduponlyzero)
		if decision == collector.DecisionSuppress {
			return
		}
		forward = rewritten
	}

	if !r.q.Put(forward) {
		if r.q.ShouldLogDrop(10 * time.Second) {
			r.log.Warnw("read queue full, dropping lines", "dropped_total", r.q.Dropped())
		}
	}
}

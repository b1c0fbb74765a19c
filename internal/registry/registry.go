// Package registry reconciles the on-disk collector directory tree with
// an in-memory set of collector descriptors (spec.md §2, §4.3), adapting
// the scan/register/garbage-collect algorithm from
// original_source/octopus/comm/gen_collector.py's populate_collectors,
// register_collector, all_valid_collectors and all_living_collectors.
//
// Registry is single-owner: only the supervisor goroutine that calls
// Populate/Reap/CheckInactivity/Spawn may mutate it. The reader is given
// read-only iteration via Snapshot.
package registry

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/collector"
)

// Registry owns the full set of known collector descriptors, keyed by
// name (invariant I1: name is unique).
type Registry struct {
	log *zap.SugaredLogger
	byName map[string]*collector.Descriptor
}

// New creates an empty registry.
func New(log *zap.SugaredLogger) *Registry {
	return &Registry{
		log:    log,
		byName: make(map[string]*collector.Descriptor),
	}
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (*collector.Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Snapshot returns the current descriptors. The slice and the
// descriptors it references must only be used for read-only iteration
// or for mutating the fields the reader owns (buffer, dedup cache,
// last-datapoint, counters); every other field belongs to the
// supervisor.
func (r *Registry) Snapshot() []*collector.Descriptor {
	out := make([]*collector.Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	return out
}

// Living returns descriptors with a live child process attached.
func (r *Registry) Living() []*collector.Descriptor {
	out := make([]*collector.Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		if d.Alive() {
			out = append(out, d)
		}
	}
	return out
}

// Valid returns descriptors eligible to be (re)spawned: those not
// marked dead, or dead long enough ago to be given another chance
// (invariant I5, the dead-quarantine window).
func (r *Registry) Valid(now time.Time) []*collector.Descriptor {
	out := make([]*collector.Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		if d.EligibleToSpawn(now) {
			out = append(out, d)
		}
	}
	return out
}

// register stores a descriptor, shutting down and replacing any prior
// descriptor of the same name that still has a live process.
func (r *Registry) register(d *collector.Descriptor) {
	if existing, ok := r.byName[d.Name]; ok && existing.Alive() {
		r.log.Errorw("collector still has a process and is being reset",
			"collector", existing.Name, "pid", existing.Pid())
		if err := existing.Shutdown(); err != nil {
			r.log.Warnw("error shutting down replaced collector", "collector", existing.Name, "error", err)
		}
	}
	r.byName[d.Name] = d
}

// remove deletes a descriptor from the registry outright (used once its
// backing file has been gone for more than 30s and its child, if any,
// has been shut down).
func (r *Registry) remove(name string) {
	delete(r.byName, name)
}

// candidate describes one eligible file found under collector_dir during
// a scan.
type candidate struct {
	name     string
	interval time.Duration
	path     string
	mtime    time.Time
}

// Populate walks collectorDir looking for immediate subdirectories whose
// names are non-negative decimal integers (an interval in seconds);
// within each, every plain, non-dotfile, executable file is a candidate
// collector (spec.md §4.3). It registers new candidates, refreshes the
// generation of ones already known, records a newer mtime (for a
// long-running collector it also shuts down the current child and
// registers a fresh, not yet spawned descriptor in its place), and
// forgets descriptors whose generation has not been refreshed in the
// last 30s.
func (r *Registry) Populate(collectorDir string) error {
	now := time.Now()

	entries, err := os.ReadDir(collectorDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, intervalEntry := range entries {
		if !intervalEntry.IsDir() {
			continue
		}
		interval, err := strconv.Atoi(intervalEntry.Name())
		if err != nil || interval < 0 {
			continue
		}
		intervalDir := filepath.Join(collectorDir, intervalEntry.Name())

		files, err := os.ReadDir(intervalDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if len(name) > 0 && name[0] == '.' {
				continue
			}
			path := filepath.Join(intervalDir, name)
			info, err := f.Info()
			if err != nil || info.IsDir() {
				continue
			}
			if info.Mode()&0o111 == 0 {
				continue
			}
			r.observe(candidate{
				name:     name,
				interval: time.Duration(interval) * time.Second,
				path:     path,
				mtime:    info.ModTime(),
			}, now)
		}
	}

	r.sweep(now)
	return nil
}

// observe handles one candidate sighting during a scan.
func (r *Registry) observe(c candidate, now time.Time) {
	existing, known := r.byName[c.name]
	if !known {
		d := collector.New(c.name, c.interval, c.path, now)
		d.MTime = c.mtime
		d.Generation = now
		r.register(d)
		return
	}

	if existing.Interval != c.interval {
		r.log.Errorw("two collectors with the same name and different intervals",
			"collector", c.name, "interval_seen", c.interval, "interval_registered", existing.Interval)
		return
	}

	existing.Generation = now
	if existing.MTime.Before(c.mtime) {
		r.log.Infow("collector has been updated on disk", "collector", c.name)
		existing.MTime = c.mtime

		if existing.Interval == 0 {
			_ = existing.Shutdown()
			r.log.Infow("respawning collector", "collector", c.name)
			d := collector.New(c.name, c.interval, c.path, now)
			d.MTime = c.mtime
			d.Generation = now
			r.register(d)
		}
	}
}

// sweep forgets descriptors whose generation has fallen more than 30s
// behind, shutting down their child first.
func (r *Registry) sweep(now time.Time) {
	cutoff := now.Add(-30 * time.Second)
	var toDelete []string
	for name, d := range r.byName {
		if d.Generation.Before(cutoff) {
			r.log.Infow("collector removed from the filesystem, forgetting", "collector", name)
			if err := d.Shutdown(); err != nil {
				r.log.Warnw("error shutting down removed collector", "collector", name, "error", err)
			}
			toDelete = append(toDelete, name)
		}
	}
	for _, name := range toDelete {
		r.remove(name)
	}
}

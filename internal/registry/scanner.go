package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// scanDebounce mirrors the teacher watcher's debounce window: a burst
// of filesystem events (a directory of collectors being deployed at
// once) collapses into a single wake-up signal.
const scanDebounce = 200 * time.Millisecond

// Scanner watches collectorDir with fsnotify and signals Changed
// whenever it looks like Populate should run sooner than the next
// fixed tick — adapting the debounced-single-timer pattern from the
// teacher's internal/daemon/watcher.go so a burst of creates/deletes
// produces one signal instead of one goroutine per event. Scanner
// never mutates the registry itself: populate() remains the
// supervisor's sole responsibility, preserving the single-writer
// invariant from spec.md §5.
type Scanner struct {
	collectorDir string
	log          *zap.SugaredLogger
	changed      chan struct{}
}

// NewScanner creates a scanner watching collectorDir.
func NewScanner(collectorDir string, log *zap.SugaredLogger) *Scanner {
	return &Scanner{
		collectorDir: collectorDir,
		log:          log,
		changed:      make(chan struct{}, 1),
	}
}

// Changed fires (non-blocking, coalesced) after a debounced burst of
// filesystem activity under collectorDir. The supervisor selects on it
// alongside its fixed ticker to react without waiting for the next tick.
func (s *Scanner) Changed() <-chan struct{} {
	return s.changed
}

// Run blocks until ctx is cancelled, watching collectorDir. If fsnotify
// cannot be set up (e.g. an NFS mount without inotify support), Run
// returns nil immediately and the supervisor falls back to its fixed
// tick cadence alone — Populate is idempotent and cheap enough for that
// to be correct, just less prompt.
func (s *Scanner) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warnw("fsnotify unavailable, relying on fixed tick cadence only", "error", err)
		return nil
	}
	defer func() { _ = watcher.Close() }()

	if err := s.watchTree(watcher); err != nil {
		s.log.Warnw("failed to watch collector directory, relying on fixed tick cadence only", "error", err)
		return nil
	}

	debounce := time.NewTimer(scanDebounce)
	debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounce.C:
			if pending {
				pending = false
				select {
				case s.changed <- struct{}{}:
				default:
				}
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				_ = watcher.Add(event.Name)
			}
			pending = true
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(scanDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnw("fsnotify error", "error", err)
		}
	}
}

// watchTree adds collectorDir and every immediate interval subdirectory
// to the watch set; new interval directories are picked up as Create
// events on collectorDir itself.
func (s *Scanner) watchTree(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(s.collectorDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.collectorDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(s.collectorDir, e.Name()))
		}
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

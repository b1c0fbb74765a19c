// Package sender implements the SenderThread side of spec.md §4.5/§4.9:
// it drains the hand-off queue and fans each line out to every
// configured sink, isolating one sink's failure from the others (P8).
package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/queue"
	"github.com/ppiankov/octopus/internal/ratelimit"
	"github.com/ppiankov/octopus/internal/sink"
)

// Target pairs a sink with its own rate limit and tracker, so a sink
// over its limit skips lines without blocking delivery to the others
// (spec.md §4.9).
type Target struct {
	Name    string
	Sink    sink.Sink
	Limit   ratelimit.Limit
	tracker *ratelimit.Tracker

	lastErrLog time.Time
}

// NewTarget wraps a sink with its rate limit.
func NewTarget(name string, s sink.Sink, limit ratelimit.Limit) *Target {
	return &Target{Name: name, Sink: s, Limit: limit, tracker: ratelimit.NewTracker()}
}

// Sender dequeues lines from q and delivers them to every target.
type Sender struct {
	q       *queue.Queue
	targets []*Target
	log     *zap.SugaredLogger
}

// New creates a sender fanning q out to targets.
func New(q *queue.Queue, targets []*Target, log *zap.SugaredLogger) *Sender {
	return &Sender{q: q, targets: targets, log: log}
}

// Run loops dequeuing lines until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) {
	s.log.Debug("sender up and running")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, ok := s.q.Get(time.Second)
		if !ok {
			continue
		}
		s.dispatch(line)
	}
}

// dispatch delivers line to every target, skipping any target currently
// over its rate limit (that target never receives this line; it is not
// retried later), and logging a delivery failure at most once per sink
// per rate-limit window (once per second for a sink without a limit)
// rather than once per line (P8).
func (s *Sender) dispatch(line string) {
	now := time.Now()
	for _, target := range s.targets {
		allowed, _ := ratelimit.Allow(target.tracker, target.Limit, now)
		if !allowed {
			continue
		}
		s.send(target, line, now)
	}
}

// send delivers line to one target, recovering from any panic raised
// inside the sink (a third-party client misbehaving on bad input)
// so one sink can't take down delivery to every other sink.
func (s *Sender) send(target *Target, line string, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorw("recovered from panic in sink", "sink", target.Name, "panic", rec)
		}
	}()
	if err := target.Sink.Send(line); err != nil {
		window := time.Second
		if target.Limit.Enabled() {
			window = target.Limit.Window
		}
		if now.Sub(target.lastErrLog) > window {
			target.lastErrLog = now
			s.log.Warnw("sink send failed", "sink", target.Name, "error", err)
		}
	}
}

// Close closes every target's sink, collecting but not stopping on
// individual errors.
func (s *Sender) Close() error {
	var first error
	for _, target := range s.targets {
		if err := target.Sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

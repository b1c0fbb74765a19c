package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/queue"
	"github.com/ppiankov/octopus/internal/ratelimit"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (r *recordingSink) Send(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.lines = append(r.lines, line)
	return nil
}
func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	return l.Sugar()
}

func TestDispatchFansOutAndIsolatesFailure(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("boom")}

	q := queue.New(10)
	s := New(q, []*Target{
		NewTarget("good", good, ratelimit.Limit{}),
		NewTarget("bad", bad, ratelimit.Limit{}),
	}, testLogger(t))

	s.dispatch("net.ping 1 1700000000")

	if got := good.snapshot(); len(got) != 1 || got[0] != "net.ping 1 1700000000" {
		t.Fatalf("good sink should have received the line, got %v", got)
	}
}

func TestRunDeliversQueuedLines(t *testing.T) {
	good := &recordingSink{}
	q := queue.New(10)
	q.Put("a")
	q.Put("b")

	s := New(q, []*Target{NewTarget("good", good, ratelimit.Limit{})}, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	got := good.snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b] delivered in order, got %v", got)
	}
}

func TestDispatchRespectsRateLimit(t *testing.T) {
	rec := &recordingSink{}
	q := queue.New(10)
	s := New(q, []*Target{NewTarget("limited", rec, ratelimit.Limit{MaxSends: 1, Window: time.Minute})}, testLogger(t))

	s.dispatch("one")
	s.dispatch("two")

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("expected only the first send to pass the limit, got %v", got)
	}
}

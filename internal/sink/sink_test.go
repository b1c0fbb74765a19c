package sink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	return l.Sugar()
}

func TestStdoutSend(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send("net.ping 1 1700000000 host=a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), "net.ping") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

type fakeCloudWatchAPI struct {
	calls int32
	data  []int
	err   error
}

func (f *fakeCloudWatchAPI) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	f.data = append(f.data, len(in.MetricData))
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchSendBuffersAndDropsMalformed(t *testing.T) {
	api := &fakeCloudWatchAPI{}
	cw := NewCloudWatch(api, "octopus-test", 0, testLogger(t))
	defer cw.Close()

	if err := cw.Send("net.ping 1 1700000000 host=a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := cw.Send("not a valid sample line ="); err != nil {
		t.Fatalf("Send malformed should not error: %v", err)
	}

	cw.flush()
	if atomic.LoadInt32(&api.calls) != 1 {
		t.Fatalf("expected exactly one PutMetricData call, got %d", api.calls)
	}
	if len(api.data) != 1 || api.data[0] != 1 {
		t.Fatalf("expected one metric datum published, got %v", api.data)
	}
}

func TestCloudWatchRespectsMaxSendq(t *testing.T) {
	api := &fakeCloudWatchAPI{}
	cw := NewCloudWatch(api, "octopus-test", 1, testLogger(t))
	defer cw.Close()

	if err := cw.Send("net.ping 1 1700000000 host=a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := cw.Send("net.ping 2 1700000001 host=b"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if cw.dropped != 1 {
		t.Fatalf("expected one dropped datum once max_sendq_size=1 is exceeded, got %d", cw.dropped)
	}
}

func TestCloudWatchFlushesAgainAfterPutError(t *testing.T) {
	api := &fakeCloudWatchAPI{err: fmt.Errorf("throttled")}
	cw := NewCloudWatch(api, "octopus-test", 0, testLogger(t))
	defer cw.Close()

	if err := cw.Send("net.ping 1 1700000000 host=a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cw.flush()
	cw.lastErrLog = time.Time{}
	if err := cw.Send("net.ping 2 1700000001 host=a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cw.flush()

	if atomic.LoadInt32(&api.calls) != 2 {
		t.Fatalf("expected both flushes to call PutMetricData, got %d", api.calls)
	}
}

func TestBuildUnknownSink(t *testing.T) {
	if _, err := Build("nonexistent", nil, testLogger(t)); err == nil {
		t.Fatal("expected error for unknown sink id")
	}
}

func TestBuildStdout(t *testing.T) {
	s, err := Build("stdout", nil, testLogger(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := s.Send("x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/ppiankov/octopus/internal/collector"
)

// defaultMaxSendqSize bounds the internal batch buffer (spec.md §6's
// MAX_SENDQ_SIZE) when the sink config doesn't override it. Overflow
// lines are dropped and counted.
const defaultMaxSendqSize = 10000

// errLogWindow throttles PutMetricData failure logging to at most once
// per sink per window (spec.md P8).
const errLogWindow = time.Minute

// cloudwatchBatchLimit is PutMetricData's hard cap on MetricData entries
// per call.
const cloudwatchBatchLimit = 1000

// flushInterval bounds API call volume regardless of arrival rate.
const flushInterval = 10 * time.Second

// cloudwatchAPI is the subset of *cloudwatch.Client this sink calls,
// narrowed for testability.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch batches parsed samples and publishes them as CloudWatch
// metric data (spec.md §4.9). Authentication follows
// aws-sdk-go-v2/config + aws-sdk-go-v2/credentials's standard default
// chain, optionally pinned to a static key pair from config.
type CloudWatch struct {
	client    cloudwatchAPI
	namespace string
	maxSendq  int
	log       *zap.SugaredLogger

	mu         sync.Mutex
	batch      []types.MetricDatum
	dropped    uint64
	lastErrLog time.Time

	stop chan struct{}
	done chan struct{}
}

func init() {
	Register("cloudwatch", func(raw map[string]any, log *zap.SugaredLogger) (Sink, error) {
		namespace, _ := raw["namespace"].(string)
		if namespace == "" {
			namespace = "octopus"
		}
		region, _ := raw["region"].(string)

		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		if accessKey, _ := raw["access_key_id"].(string); accessKey != "" {
			secretKey, _ := raw["secret_access_key"].(string)
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		maxSendq := defaultMaxSendqSize
		if v, ok := raw["max_sendq_size"].(int); ok && v > 0 {
			maxSendq = v
		}
		return NewCloudWatch(cloudwatch.NewFromConfig(cfg), namespace, maxSendq, log), nil
	})
}

// NewCloudWatch wires a cloudwatch sink against an already-constructed
// client (or a test double satisfying cloudwatchAPI). maxSendq <= 0
// falls back to defaultMaxSendqSize; log may be nil in tests that don't
// care about PutMetricData failure reporting.
func NewCloudWatch(client cloudwatchAPI, namespace string, maxSendq int, log *zap.SugaredLogger) *CloudWatch {
	if maxSendq <= 0 {
		maxSendq = defaultMaxSendqSize
	}
	c := &CloudWatch{
		client:    client,
		namespace: namespace,
		maxSendq:  maxSendq,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.flushLoop()
	return c
}

// Send parses line the same way the reader's dedup filter does and
// appends it to the pending batch. Lines that don't parse as samples
// are dropped and counted, same disposition as a reader-side malformed
// line (spec.md §7).
func (c *CloudWatch) Send(line string) error {
	sample, ok := collector.ParseSample(line)
	if !ok || !sample.HasValue {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return nil
	}

	datum := types.MetricDatum{
		MetricName: aws.String(sample.Metric),
		Value:      aws.Float64(sample.Value),
	}
	if sample.Timestamp != 0 {
		datum.Timestamp = aws.Time(time.Unix(sample.Timestamp, 0))
	}
	for k, v := range sample.Tags {
		datum.Dimensions = append(datum.Dimensions, types.Dimension{
			Name: aws.String(k), Value: aws.String(v),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batch) >= c.maxSendq {
		c.dropped++
		return nil
	}
	c.batch = append(c.batch, datum)
	return nil
}

// flushLoop publishes the accumulated batch on flushInterval, bounding
// API call volume independent of arrival rate.
func (c *CloudWatch) flushLoop() {
	defer close(c.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *CloudWatch) flush() {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return
	}
	pending := c.batch
	c.batch = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for len(pending) > 0 {
		n := cloudwatchBatchLimit
		if n > len(pending) {
			n = len(pending)
		}
		chunk := pending[:n]
		pending = pending[n:]
		if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: chunk,
		}); err != nil {
			c.logPutError(err)
		}
	}
}

// logPutError reports a PutMetricData failure at most once per
// errLogWindow, matching the sender's per-target throttle so a
// throttled or failing cloudwatch sink doesn't flood the log.
func (c *CloudWatch) logPutError(err error) {
	if c.log == nil {
		return
	}
	c.mu.Lock()
	now := time.Now()
	logIt := now.Sub(c.lastErrLog) > errLogWindow
	if logIt {
		c.lastErrLog = now
	}
	c.mu.Unlock()
	if logIt {
		c.log.Warnw("cloudwatch PutMetricData failed", "namespace", c.namespace, "error", err)
	}
}

// Close stops the flush loop after one final flush.
func (c *CloudWatch) Close() error {
	close(c.stop)
	<-c.done
	return nil
}

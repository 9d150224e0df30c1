package reminders

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cookalert/internal/queue"
	"cookalert/internal/types"
)

// Metrics records reminder pipeline telemetry. It doubles as the queue
// worker's Observer so retries and burials are counted in one place.
type Metrics interface {
	queue.Observer
	RecordScheduled(ctx context.Context)
	RecordCancelled(ctx context.Context)
	RecordOutcome(ctx context.Context, outcome Outcome)
	RecordPushLatency(ctx context.Context, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordScheduled(context.Context)                              {}
func (NopMetrics) RecordCancelled(context.Context)                              {}
func (NopMetrics) RecordOutcome(context.Context, Outcome)                       {}
func (NopMetrics) RecordPushLatency(context.Context, time.Duration)             {}
func (NopMetrics) JobRetried(context.Context, *queue.Job, time.Duration, error) {}
func (NopMetrics) JobBuried(context.Context, *queue.Job, string)                {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const (
	dimOutcome = "Outcome"

	// maxDatumsPerPut is the CloudWatch limit for one PutMetricData call.
	maxDatumsPerPut    = 1000
	metricBufferSize   = 1024
	defaultFlushPeriod = 10 * time.Second
	flushTimeout       = 5 * time.Second
)

// CloudWatchMetrics publishes reminder metrics to CloudWatch. Record calls
// only enqueue a datum; a background goroutine batches them into
// PutMetricData calls, so the API request path never waits on CloudWatch.
// When the buffer is full the datum is dropped. Publish failures are logged
// and never affect delivery. Close flushes what is buffered.
//
// Metrics emitted:
//   - RemindersScheduled, RemindersCancelled: Count
//   - ReminderOutcome: Count, Dims {Outcome}
//   - ReminderRetried: Count; ReminderBuried: Count
//   - PushGatewayLatency: Milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
	period    time.Duration

	datums    chan cwtypes.MetricDatum
	dropped   atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchOption customizes CloudWatchMetrics.
type CloudWatchOption func(*CloudWatchMetrics)

// WithFlushPeriod sets how often buffered datums are published.
func WithFlushPeriod(d time.Duration) CloudWatchOption {
	return func(m *CloudWatchMetrics) {
		if d > 0 {
			m.period = d
		}
	}
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace
// and starts its flush loop.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger, opts ...CloudWatchOption) *CloudWatchMetrics {
	if logger == nil {
		logger = types.NopLogger{}
	}
	m := &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		period:    defaultFlushPeriod,
		datums:    make(chan cwtypes.MetricDatum, metricBufferSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

func (m *CloudWatchMetrics) RecordScheduled(context.Context) {
	m.record(types.MetricRemindersScheduled, 1, cwtypes.StandardUnitCount)
}

func (m *CloudWatchMetrics) RecordCancelled(context.Context) {
	m.record(types.MetricRemindersCancelled, 1, cwtypes.StandardUnitCount)
}

// RecordOutcome emits ReminderOutcome with the Outcome dimension.
func (m *CloudWatchMetrics) RecordOutcome(_ context.Context, outcome Outcome) {
	m.record(types.MetricReminderOutcome, 1, cwtypes.StandardUnitCount, cwtypes.Dimension{
		Name:  aws.String(dimOutcome),
		Value: aws.String(string(outcome)),
	})
}

func (m *CloudWatchMetrics) RecordPushLatency(_ context.Context, d time.Duration) {
	m.record(types.MetricPushLatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds)
}

func (m *CloudWatchMetrics) JobRetried(context.Context, *queue.Job, time.Duration, error) {
	m.record(types.MetricReminderRetried, 1, cwtypes.StandardUnitCount)
}

func (m *CloudWatchMetrics) JobBuried(context.Context, *queue.Job, string) {
	m.record(types.MetricReminderBuried, 1, cwtypes.StandardUnitCount)
}

// Dropped reports how many datums were discarded because the buffer was full
// or the publisher was closed.
func (m *CloudWatchMetrics) Dropped() int64 { return m.dropped.Load() }

// Close stops the flush loop after publishing everything buffered.
func (m *CloudWatchMetrics) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	<-m.stopped
	return nil
}

func (m *CloudWatchMetrics) record(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
	}
	select {
	case <-m.done:
		m.dropped.Add(1)
		return
	default:
	}
	select {
	case m.datums <- datum:
	default:
		m.dropped.Add(1)
	}
}

func (m *CloudWatchMetrics) loop() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	var batch []cwtypes.MetricDatum
	for {
		select {
		case d := <-m.datums:
			batch = append(batch, d)
			if len(batch) == maxDatumsPerPut {
				m.publish(batch)
				batch = nil
			}
		case <-ticker.C:
			m.publish(batch)
			batch = nil
		case <-m.done:
			for {
				select {
				case d := <-m.datums:
					batch = append(batch, d)
					if len(batch) == maxDatumsPerPut {
						m.publish(batch)
						batch = nil
					}
				default:
					m.publish(batch)
					return
				}
			}
		}
	}
}

func (m *CloudWatchMetrics) publish(batch []cwtypes.MetricDatum) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		m.logger.Error("failed to record metrics", "datums", len(batch), "error", err.Error())
	}
}

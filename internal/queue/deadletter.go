package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"cookalert/internal/types"
)

// DeadLetterSink receives every job the worker buries.
type DeadLetterSink interface {
	Send(ctx context.Context, job *Job, reason string) error
}

// NopDeadLetter drops dead letters. Used when no DLQ is configured; the
// failed record stays in the backend either way.
type NopDeadLetter struct{}

func (NopDeadLetter) Send(context.Context, *Job, string) error { return nil }

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetterMessage is the JSON body published for a buried job.
type DeadLetterMessage struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload []byte          `json:"rawPayload,omitempty"`
	Attempts   int             `json:"attempts"`
	Generation int64           `json:"generation"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failedAt"`
}

// SQSDeadLetter publishes buried jobs to an SQS queue for inspection and
// manual replay.
type SQSDeadLetter struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewSQSDeadLetter creates a sink for queueURL.
func NewSQSDeadLetter(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *SQSDeadLetter {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SQSDeadLetter{client: client, queueURL: queueURL, clock: clock, logger: logger}
}

func (d *SQSDeadLetter) Send(ctx context.Context, job *Job, reason string) error {
	msg := DeadLetterMessage{
		Key:        job.Key,
		Attempts:   job.Attempt + 1,
		Generation: job.Generation,
		Reason:     reason,
		FailedAt:   d.clock.Now(),
	}
	if json.Valid(job.Payload) {
		msg.Payload = job.Payload
	} else {
		msg.RawPayload = job.Payload
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal dead letter: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"job_key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.Key),
			},
			"attempts": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(msg.Attempts)),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send dead letter to %s: %w", d.queueURL, err)
	}

	d.logger.Info("dead letter published",
		"queue_url", d.queueURL,
		"key", job.Key,
		"attempts", msg.Attempts,
		"reason", reason,
	)
	return nil
}

package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cookalert/internal/external"
	"cookalert/internal/queue"
	"cookalert/internal/types"
)

// Outcome is the result of handling one reminder job.
type Outcome string

const (
	// OutcomeNoDevice: the owner has no registered token. Terminal success.
	OutcomeNoDevice Outcome = "no_device"
	// OutcomeMockLogged: the token is not gateway-shaped (simulator, test
	// build); the message was logged instead of sent. Terminal success.
	OutcomeMockLogged Outcome = "mock_logged"
	// OutcomeSent: the gateway accepted the message.
	OutcomeSent Outcome = "sent"
	// OutcomeDeviceGone: the gateway reported the token as unregistered.
	// Terminal success.
	OutcomeDeviceGone Outcome = "device_gone"
	// OutcomeFailed: delivery failed and the error goes back to the queue.
	OutcomeFailed Outcome = "failed"
)

// Consumer delivers fired reminder jobs.
type Consumer struct {
	devices types.DeviceRepository
	gateway external.PushGateway
	format  MessageFormat
	clock   types.Clock
	logger  types.Logger
	metrics Metrics
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(l types.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConsumerMetrics sets the metrics sink.
func WithConsumerMetrics(m Metrics) ConsumerOption {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithConsumerClock sets the clock used for latency measurement.
func WithConsumerClock(clk types.Clock) ConsumerOption {
	return func(c *Consumer) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewConsumer creates a Consumer.
func NewConsumer(devices types.DeviceRepository, gateway external.PushGateway, format MessageFormat, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		devices: devices,
		gateway: gateway,
		format:  format,
		clock:   types.RealClock{},
		logger:  types.NopLogger{},
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "reminder_consumer")
	return c
}

// Handle adapts Consume to queue.Handler.
func (c *Consumer) Handle(ctx context.Context, job *queue.Job) error {
	_, err := c.Consume(ctx, job)
	return err
}

// Consume delivers the reminder carried by job.
//
// Missing, malformed or unregistered tokens end in a nil error so the job
// completes. Lookup and gateway failures are returned for the queue to
// retry; an undecodable payload is returned as a permanent error.
func (c *Consumer) Consume(ctx context.Context, job *queue.Job) (Outcome, error) {
	log := c.logger.With("job_key", job.Key, "attempt", job.Attempt+1)

	p, err := DecodePayload(job.Payload)
	if err != nil {
		log.Error("undeliverable reminder payload", "error", err)
		c.metrics.RecordOutcome(ctx, OutcomeFailed)
		return OutcomeFailed, queue.Permanent(err)
	}
	event := p.Event
	log = log.With("event_id", event.ID, "user_id", event.UserID)

	token, err := c.devices.GetDeviceToken(ctx, event.UserID)
	if err != nil {
		c.metrics.RecordOutcome(ctx, OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("look up device token for %s: %w", event.UserID, err)
	}

	if token == "" {
		log.Warn("no push token for user, reminder skipped")
		return c.done(ctx, OutcomeNoDevice), nil
	}

	msg := c.format.Message(token, event)

	if !external.IsExpoPushToken(token) {
		log.Info("mock notification",
			"to", msg.To,
			"title", msg.Title,
			"body", msg.Body,
			"url", msg.Data["url"],
		)
		return c.done(ctx, OutcomeMockLogged), nil
	}

	start := c.clock.Now()
	ticket, err := c.gateway.Send(ctx, msg)
	c.metrics.RecordPushLatency(ctx, c.clock.Now().Sub(start))

	if errors.Is(err, external.ErrDeviceNotRegistered) {
		log.Warn("push token no longer registered, reminder dropped")
		return c.done(ctx, OutcomeDeviceGone), nil
	}
	if err != nil {
		c.metrics.RecordOutcome(ctx, OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("send reminder for event %s: %w", event.ID, err)
	}

	ticketID := ""
	if ticket != nil {
		ticketID = ticket.ID
	}
	log.Info("reminder sent", "ticket_id", ticketID, "event_time", event.EventTime.Format(time.RFC3339))
	return c.done(ctx, OutcomeSent), nil
}

func (c *Consumer) done(ctx context.Context, o Outcome) Outcome {
	c.metrics.RecordOutcome(ctx, o)
	return o
}

// Package main is the entry point for the reminder worker.
//
// The worker claims due reminder jobs from the delay queue and delivers them
// to the Expo push gateway. It runs in one of two modes:
//
//   - Poll (default): WORKER_CONCURRENCY slots poll the queue until SIGINT or
//     SIGTERM, then finish their current job and exit.
//   - Lambda: each scheduled invocation drains every due job and returns,
//     stopping early when the invocation deadline approaches.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"cookalert/internal/app"
	"cookalert/internal/types"
)

// deadlineMargin is reserved at the end of a Lambda invocation so the last
// claimed job can finish before the runtime is frozen.
const deadlineMargin = 5 * time.Second

// drainer is the slice of queue.Worker used in Lambda mode.
type drainer interface {
	Drain(ctx context.Context, limit int) (int, error)
}

// DrainResult is returned from each Lambda invocation.
type DrainResult struct {
	Processed int `json:"processed"`
}

// Handler drains the queue once per scheduled invocation.
type Handler struct {
	worker drainer
	limit  int
	logger types.Logger
}

// Handle processes due jobs for a single EventBridge schedule tick.
func (h *Handler) Handle(ctx context.Context, tick events.CloudWatchEvent) (DrainResult, error) {
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-deadlineMargin))
		defer cancel()
	}

	n, err := h.worker.Drain(ctx, h.limit)
	if err != nil && ctx.Err() == nil {
		h.logger.Error("drain failed", "tick_id", tick.ID, "processed", n, "error", err)
		return DrainResult{Processed: n}, err
	}

	h.logger.Info("drain complete", "tick_id", tick.ID, "processed", n)
	return DrainResult{Processed: n}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel, cfg.Service).With("component", "reminder_worker")

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	c, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("building dependencies: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("resource shutdown error", "error", err)
		}
	}()

	hostname, _ := os.Hostname()
	worker := c.NewWorker(hostname)

	logger.Info("reminder worker starting",
		"worker_id", worker.ID(),
		"queue_backend", cfg.Queue.Backend,
		"concurrency", cfg.Queue.Concurrency,
		"lead_minutes", cfg.Reminder.LeadMinutes,
	)

	if isLambdaEnvironment() {
		h := &Handler{worker: worker, logger: app.NewSlogAdapter(logger)}
		lambda.Start(h.Handle)
		return nil
	}

	return runPoller(worker.RunPool, cfg.Queue.Concurrency, logger)
}

// runPoller runs the pool until SIGINT or SIGTERM. Slots stop claiming on
// the signal and return once their current job is settled.
func runPoller(runPool func(context.Context, int) error, slots int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := runPool(ctx, slots)
	logger.Info("reminder worker stopped")
	return err
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

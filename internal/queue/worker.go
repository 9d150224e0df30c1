package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cookalert/internal/types"
)

// Handler processes one claimed job. Returning nil completes the job; an
// error wrapped with Permanent buries it; any other error schedules a retry
// until the job's attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Observer is notified about retry and bury transitions.
type Observer interface {
	JobRetried(ctx context.Context, job *Job, delay time.Duration, err error)
	JobBuried(ctx context.Context, job *Job, reason string)
}

type nopObserver struct{}

func (nopObserver) JobRetried(context.Context, *Job, time.Duration, error) {}
func (nopObserver) JobBuried(context.Context, *Job, string)                {}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	// ID identifies the process in lease records. Defaults to a random UUID.
	ID           string
	PollInterval time.Duration
	LeaseTimeout time.Duration
}

// Worker claims due jobs from a Backend and runs them through a Handler.
type Worker struct {
	backend      Backend
	handler      Handler
	deadLetter   DeadLetterSink
	observer     Observer
	clock        types.Clock
	logger       types.Logger
	id           string
	pollInterval time.Duration
	leaseTimeout time.Duration
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithDeadLetter sets the sink for buried jobs.
func WithDeadLetter(sink DeadLetterSink) WorkerOption {
	return func(w *Worker) {
		if sink != nil {
			w.deadLetter = sink
		}
	}
}

// WithObserver sets the transition observer.
func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(c types.Clock) WorkerOption {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l types.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a Worker. Zero durations in cfg fall back to one second
// polling and a five minute lease.
func NewWorker(backend Backend, handler Handler, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	w := &Worker{
		backend:      backend,
		handler:      handler,
		deadLetter:   NopDeadLetter{},
		observer:     nopObserver{},
		clock:        types.RealClock{},
		logger:       types.NopLogger{},
		id:           cfg.ID,
		pollInterval: cfg.PollInterval,
		leaseTimeout: cfg.LeaseTimeout,
	}
	if w.id == "" {
		w.id = uuid.NewString()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.leaseTimeout <= 0 {
		w.leaseTimeout = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker identity used as lease owner prefix.
func (w *Worker) ID() string { return w.id }

// RunOnce claims and processes at most one job as owner. It reports whether a
// job was processed. Handler failures are not returned; only backend errors
// are.
func (w *Worker) RunOnce(ctx context.Context, owner string) (bool, error) {
	now := w.clock.Now()
	job, err := w.backend.Claim(ctx, owner, now, now.Add(-w.leaseTimeout))
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}

	w.process(ctx, job)
	return true, nil
}

// Run polls for jobs as a single slot until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.runSlot(ctx, w.id)
}

func (w *Worker) runSlot(ctx context.Context, owner string) error {
	log := w.logger.With("owner", owner)
	log.Info("worker slot started", "poll_interval", w.pollInterval.String())

	for {
		if ctx.Err() != nil {
			log.Info("worker slot stopped")
			return nil
		}

		processed, err := w.RunOnce(ctx, owner)
		if err != nil && ctx.Err() == nil {
			log.Error("worker claim failed", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.pollInterval):
		}
	}
}

// RunPool runs slots concurrent polling loops and blocks until ctx is
// cancelled and every slot has finished its current job.
func (w *Worker) RunPool(ctx context.Context, slots int) error {
	if slots < 1 {
		slots = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < slots; i++ {
		owner := w.id + "-" + strconv.Itoa(i)
		g.Go(func() error {
			return w.runSlot(gctx, owner)
		})
	}
	return g.Wait()
}

// Drain processes due jobs until none remain, ctx is done or limit jobs have
// been handled (limit <= 0 means no limit). Returns the number processed.
func (w *Worker) Drain(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		processed, err := w.RunOnce(ctx, w.id)
		if err != nil {
			return n, err
		}
		if !processed {
			break
		}
		n++
	}
	return n, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.logger.With("key", job.Key, "generation", job.Generation, "attempt", job.Attempt+1)

	// A claimed job is settled even when shutdown cancels ctx mid-send.
	// The lease timeout still bounds the handler.
	fctx := context.WithoutCancel(ctx)
	hctx, cancel := context.WithTimeout(fctx, w.leaseTimeout)
	err := w.invoke(hctx, job)
	cancel()

	switch {
	case err == nil:
		w.finish(fctx, log, "complete", w.backend.Complete(fctx, job))
		return

	case IsPermanent(err):
		log.Warn("job failed permanently", "error", err)
		w.bury(fctx, log, job, err.Error())
		return

	case Exhausted(job):
		log.Warn("job attempts exhausted", "error", err, "max_attempts", job.MaxAttempts)
		w.bury(fctx, log, job, err.Error())
		return
	}

	delay := CalculateNextRetry(PolicyFor(job), job.Attempt)
	now := w.clock.Now()
	if rerr := w.backend.Retry(fctx, job, now, now.Add(delay), err.Error()); rerr != nil {
		w.finish(fctx, log, "retry", rerr)
		return
	}
	w.observer.JobRetried(fctx, job, delay, err)
	log.Warn("job failed, retry scheduled", "error", err, "retry_in", delay.String())
}

func (w *Worker) bury(ctx context.Context, log types.Logger, job *Job, reason string) {
	if err := w.backend.Bury(ctx, job, w.clock.Now(), reason); err != nil {
		w.finish(ctx, log, "bury", err)
		return
	}
	w.observer.JobBuried(ctx, job, reason)
	if err := w.deadLetter.Send(ctx, job, reason); err != nil {
		log.Error("dead letter publish failed", "error", err)
	}
}

func (w *Worker) finish(_ context.Context, log types.Logger, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleJob):
		log.Info("job superseded while running, result dropped", "op", op)
	default:
		log.Error("job state transition failed", "op", op, "error", err)
	}
}

// invoke runs the handler, converting a panic into an error.
func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panic", "key", job.Key, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

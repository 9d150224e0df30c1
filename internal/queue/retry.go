package queue

import (
	"errors"
	"time"
)

// DefaultMaxRetryDelay caps backoff when a job carries no explicit maximum.
const DefaultMaxRetryDelay = time.Hour

// RetryPolicy defines the exponential backoff parameters for job retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFor derives the retry policy stored with a job.
func PolicyFor(job *Job) RetryPolicy {
	factor := 2.0
	if job.Backoff.Type == BackoffFixed {
		factor = 1.0
	}
	maxDelay := job.Backoff.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	return RetryPolicy{
		MaxAttempts:   job.MaxAttempts,
		BaseDelay:     job.Backoff.Delay,
		MaxDelay:      maxDelay,
		BackoffFactor: factor,
	}
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
// attempt is the number of retries already scheduled, so the first retry
// waits exactly BaseDelay.
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay > float64(policy.MaxDelay) {
			break
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// Exhausted reports whether a job that just failed its current attempt has
// no tries left.
func Exhausted(job *Job) bool {
	return job.Attempt+1 >= job.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the worker buries the job at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

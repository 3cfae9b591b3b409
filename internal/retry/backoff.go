// Package retry implements the exponential backoff policy shared by the
// exchange and ranking clients: up to 3 attempts, multiplier 1, min 2s,
// max 10s, used only for transient failures.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Default matches spec §4.4/§4.5: 3 attempts, min 2s, max 10s, multiplier 1
// (the first wait is Min and each later wait is the previous one times
// 1+Multiplier, capped at Max — with multiplier 1 the waits are 2s, then 4s).
var Default = Policy{
	MaxAttempts: 3,
	Min:         2 * time.Second,
	Max:         10 * time.Second,
	Multiplier:  1,
}

// IsRetryable classifies an error as worth retrying. Callers wrap transient
// network/API errors in a type satisfying this, or pass a plain function.
type IsRetryable func(error) bool

// Do runs fn up to Policy.MaxAttempts times, sleeping with exponential
// backoff between attempts, stopping early if retryable returns false or
// the context is cancelled. The final error (retryable or not) is returned
// if every attempt fails.
func Do(ctx context.Context, p Policy, retryable IsRetryable, fn func() error) error {
	var err error
	delay := p.Min
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * (1 + p.Multiplier))
			if delay > p.Max {
				delay = p.Max
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

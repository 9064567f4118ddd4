// Package retry implements a bounded retry policy with a fixed or growing
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is returned together with the last failure when all attempts
// have been used.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes the retry behavior.
type Policy struct {
	Attempts int           // maximum number of attempts; values below 1 mean 1
	Delay    time.Duration // delay after the first failure
	MaxDelay time.Duration // upper bound of the delay when Backoff is set
	Backoff  bool          // double the delay after every failure
	Jitter   float64       // random spread of the delay, 0.2 means ±20%
}

// Do calls op until it succeeds, the attempts are exhausted or the context
// is cancelled. On exhaustion the returned error matches both ErrExhausted
// and the last error returned by op.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var (
		zero     T
		attempts = p.Attempts
		delay    = p.Delay
		err      error
	)
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return zero, errors.Join(err, ctxErr)
			}
			return zero, ctxErr
		}
		var result T
		if result, err = op(ctx); err == nil {
			return result, nil
		}
		if attempt == attempts {
			break
		}
		if sleep := p.sleep(delay); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		if p.Backoff {
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

func (p Policy) sleep(delay time.Duration) time.Duration {
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter <= 0 || delay <= 0 {
		return delay
	}
	spread := int64(float64(delay) * p.Jitter)
	if spread <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(2*spread)-spread)
}

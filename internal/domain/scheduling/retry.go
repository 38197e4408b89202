package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebook/booking/internal/platform/clock"
)

// RetryPolicy re-runs an operation that failed with *TransientStoreError.
// Any other outcome, success included, is returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Clock       clock.Clock
	// OnRetry, if set, is called before each re-attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy allows three attempts starting at a 50ms backoff.
func DefaultRetryPolicy(clk clock.Clock) RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 50 * time.Millisecond, Clock: clk}
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// Exhaustion yields an error wrapping ErrServiceUnavailable.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if p.OnRetry != nil {
				p.OnRetry(i+1, last)
			}
			if err := clk.Sleep(ctx, p.BaseBackoff<<(i-1)); err != nil {
				return err
			}
		}
		err := fn(ctx)
		var transient *TransientStoreError
		if !errors.As(err, &transient) {
			return err
		}
		last = err
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrServiceUnavailable, attempts, last)
}

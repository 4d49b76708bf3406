package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn with a context that expires after timeout. When the
// deadline stopped fn, the returned error names the operation and wraps
// context.DeadlineExceeded. fn must return once its context is done. A
// non-positive timeout runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	expired := fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	tctx, cancel := context.WithTimeoutCause(ctx, timeout, expired)
	defer cancel()

	err := fn(tctx)
	if err != nil && ctx.Err() == nil && context.Cause(tctx) == expired {
		return fmt.Errorf("%w: %w", expired, err)
	}
	return err
}

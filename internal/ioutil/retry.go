package ioutil

import (
	"context"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy bounds the internal retries the ingestion pipeline
// performs for transient IOError and ConflictError classes.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy is a handful of attempts with exponential
// backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Retry runs fn up to p.MaxAttempts times, sleeping between attempts
// according to retryablehttp's exponential backoff curve, reused here
// standalone -- the backoff function needs no HTTP response to
// compute a delay from attempt number alone. fn reports whether an
// error is retryable; Retry stops early on a non-retryable error or
// on ctx cancellation.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) (retryable bool, err error)) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		retryable, err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := retryablehttp.DefaultBackoff(p.MinBackoff, p.MaxBackoff, attempt, nil)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

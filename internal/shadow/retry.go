package shadow

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

type retryWriter struct {
	inner      Writer
	maxRetries uint64
}

// WithRetry wraps a Writer with bounded exponential backoff so transient
// adapter failures do not surface to handlers immediately. Exhausted retries
// return the last error.
func WithRetry(inner Writer, maxRetries uint64) Writer {
	return &retryWriter{inner: inner, maxRetries: maxRetries}
}

func (r *retryWriter) Merge(ctx context.Context, deviceID string, patch map[string]interface{}) error {
	op := func() error {
		return r.inner.Merge(ctx, deviceID, patch)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	return backoff.Retry(op, bo)
}

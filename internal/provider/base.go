package provider

import (
	"context"
	"time"
)

// BaseAdapter holds the retry-with-backoff helper shared by every
// api-transport adapter, ported near-verbatim from the teacher's
// internal/agent/providers/base.go.
type BaseAdapter struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseAdapter creates a base adapter with sane retry defaults.
func NewBaseAdapter(name string, maxRetries int, retryDelay time.Duration) BaseAdapter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseAdapter{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Name returns the adapter name this base was constructed with.
func (b *BaseAdapter) Name() string { return b.name }

// Retry runs op, retrying with linear backoff while isRetryable(err) is
// true, up to maxRetries attempts.
func (b *BaseAdapter) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

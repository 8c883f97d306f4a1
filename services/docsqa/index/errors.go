// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// InfraError wraps failures of the embedding backend or the vector store.
// It is never converted into a grounding refusal: infrastructure being down
// is not an evidence gap, and handlers surface it as a request-level error.
type InfraError struct {
	// Op names the failing operation, e.g. "embed" or "weaviate.query".
	Op string
	// Retryable marks transient failures that were already retried with
	// backoff and still failed.
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *InfraError) Error() string {
	return fmt.Sprintf("index infrastructure error in %s (retryable=%t): %v", e.Op, e.Retryable, e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *InfraError) Unwrap() error { return e.Err }

// IsInfraError checks if an error is an *InfraError. Handlers use it to
// pick the HTTP status for a failed request.
func IsInfraError(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

// ErrStoreCorrupt marks an unreadable or inconsistent persistent store.
// Fatal for the request; not retried.
var ErrStoreCorrupt = errors.New("vector store is corrupt or unreadable")

// Retry configuration for transient embedding/store calls.
const (
	maxRetries        = 3
	initialRetryDelay = 1 * time.Second
)

// withRetry runs fn up to maxRetries+1 times with exponential backoff
// (1s, 2s, 4s). Context cancellation and non-retryable errors stop the
// loop immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	retryDelay := initialRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("Retrying index operation",
				"op", op,
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if errors.Is(err, ErrStoreCorrupt) {
			return err
		}
	}
	return &InfraError{Op: op, Retryable: true, Err: fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)}
}

package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/fluxcanvas/apperror"
	"github.com/zlnvch/fluxcanvas/store"
)

const (
	retryAttempts    = 3
	retryBaseBackoff = 50 * time.Millisecond
)

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	var appErr *apperror.AppError
	return errors.Is(err, store.ErrItemNotFound) ||
		errors.Is(err, store.ErrConditionFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &appErr)
}

// withRetry runs fn until it succeeds, fails permanently or exhausts the
// attempt budget. Exhaustion surfaces as apperror.Transient.
func withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := retryBaseBackoff
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || permanent(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}

		log.Printf("%s attempt %d failed, retrying in %v: %v", op, attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return apperror.Transient(op, ctx.Err())
		}
		backoff *= 2
	}
	return apperror.Transient(op, err)
}

// mapStoreError translates store sentinels into the service error taxonomy.
func mapStoreError(err error, resource, id string) error {
	var appErr *apperror.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrItemNotFound):
		return apperror.NotFound(resource, id)
	case errors.Is(err, store.ErrConditionFailed):
		return apperror.Conflict(resource, id)
	}
	return err
}

package resilience

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"

	"jobpilot/internal/errors"
)

// maxBackoff caps a single wait between attempts.
const maxBackoff = 30 * time.Second

// StatusError is returned by plain HTTP provider clients for non-2xx replies.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.Code, e.Body)
}

// Policy controls retries of one call site.
type Policy struct {
	MaxRetries int

	// BaseDelay is doubled per attempt; zero means one second.
	BaseDelay time.Duration
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retries are used up or ctx ends.
func Retry[T any](ctx context.Context, operation string, policy Policy, logger *errors.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	if logger == nil {
		logger = errors.NewNop()
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying external call",
				"operation", operation,
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"error", lastErr.Error())

			select {
			case <-time.After(Backoff(policy.BaseDelay, attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("External call succeeded after retry",
					"operation", operation,
					"successful_attempt", attempt+1)
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			logger.Debug("Error is not retryable, stopping retry attempts",
				"operation", operation,
				"error", err.Error())
			break
		}
	}

	return zero, fmt.Errorf("operation '%s' failed: %w", operation, lastErr)
}

// Backoff returns the exponential delay for attempt (1-based) with up to 10% jitter.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if jitterMax := int64(float64(delay) * 0.1); jitterMax > 0 {
		if jitter, err := rand.Int(rand.Reader, big.NewInt(jitterMax)); err == nil {
			delay += time.Duration(jitter.Int64())
		}
	}
	return min(delay, maxBackoff)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt: network errors,
// rate limiting and 5xx replies. Open breakers and cancelled contexts are not.
func IsRetryable(err error) bool {
	if err == nil || IsOpen(err) {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}

	var statusErr *StatusError
	if stderrors.As(err, &statusErr) {
		return retryableStatus(statusErr.Code)
	}
	return false
}

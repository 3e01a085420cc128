package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig holds retry settings for model calls.
type RetryConfig struct {
	MaxRetries  int           `json:"maxRetries"`  // max retry attempts (default 5)
	InitBackoff time.Duration `json:"initBackoff"` // initial backoff (default 1s)
	MaxBackoff  time.Duration `json:"maxBackoff"`  // max backoff (default 60s)
}

// Retry configuration defaults.
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// applyDefaults fills zero-valued fields with defaults.
func (c RetryConfig) applyDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = defaultInitBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// withRetry runs call with exponential backoff. Rate-limit and server
// errors are retried; billing errors are fatal immediately.
func withRetry(ctx context.Context, cfg RetryConfig, provider string, call func() error) error {
	cfg = cfg.applyDefaults()
	backoff := cfg.InitBackoff

	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}

		if isBillingError(err) {
			return fmt.Errorf("billing/payment error (fatal): %w", err)
		}
		if !isRetryableError(err) {
			return fmt.Errorf("%s request failed: %w", provider, err)
		}
		if attempt == cfg.MaxRetries {
			return fmt.Errorf("%s request failed after %d retries: %w", provider, cfg.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

// isRateLimitError checks if the error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity")
}

// isServerError checks if the error is a transient server error (5xx).
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// isRetryableError checks if the error is retryable.
func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks if the error is a billing/quota error (fatal).
func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "credits") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402")
}

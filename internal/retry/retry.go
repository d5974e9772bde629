// Package retry provides common retry logic with exponential backoff for country_sync.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for retry logic
type Config struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// PostgreSQLDefaults returns sensible defaults for PostgreSQL connection attempts
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxAttempts:   10,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// EtcdDefaults returns sensible defaults for etcd operations
func EtcdDefaults() *Config {
	return &Config{
		MaxAttempts:   15, // etcd can take longer to recover
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 15,
	}
}

// UpstreamDefaults returns the backoff used when a caller opts into retrying the
// country feed. MaxAttempts is the number of retries after the first call.
func UpstreamDefaults(retries uint64) *Config {
	return &Config{
		MaxAttempts:   retries,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		JitterPercent: 20,
	}
}

// WithOperation performs a general operation with retry logic, treating every error as retryable
func WithOperation(ctx context.Context, config *Config, operation func() error, operationName string) error {
	return Do(ctx, config, operationName, func(context.Context) error {
		return operation()
	}, nil)
}

// Do runs operation until it succeeds, the backoff is exhausted or ctx is done.
// Errors for which retryable returns false are returned immediately; a nil
// retryable retries everything.
func Do(ctx context.Context, config *Config, operationName string, operation func(context.Context) error, retryable func(error) bool) error {
	attempt := 0
	return retry.Do(ctx, config.CreateBackoff(), func(ctx context.Context) error {
		attempt++
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		logrus.WithError(err).
			WithFields(logrus.Fields{
				"operation": operationName,
				"attempt":   attempt,
			}).
			Warn("Operation failed, retrying...")
		return retry.RetryableError(err)
	})
}

// CreateBackoff creates a reusable backoff strategy from config
func (c *Config) CreateBackoff() retry.Backoff {
	backoff := retry.NewExponential(c.BaseDelay)
	backoff = retry.WithMaxRetries(c.MaxAttempts, backoff)
	backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	return backoff
}

package db

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/retry"
)

// NewWithRetry creates a new PostgreSQL connection pool, retrying until the
// server answers a ping or the backoff gives up
func NewWithRetry(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	var pool PgxPoolIface
	err := retry.WithOperation(ctx, retry.PostgreSQLDefaults(), func() error {
		var attemptErr error
		pool, attemptErr = New(ctx, connStr, callbacks...)
		if attemptErr != nil {
			return attemptErr
		}
		if pingErr := pool.Ping(ctx); pingErr != nil {
			pool.Close()
			return pingErr
		}
		return nil
	}, "Postgres connect")

	if err != nil {
		logrus.WithError(err).Error("Failed to establish PostgreSQL connection after all retries")
		return nil, err
	}

	return pool, nil
}

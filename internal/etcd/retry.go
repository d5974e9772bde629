package etcd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/retry"
)

// NewPublisherWithRetry creates a publisher and waits until etcd answers a read
func NewPublisherWithRetry(ctx context.Context, dsn string) (*Publisher, error) {
	var publisher *Publisher
	err := retry.WithOperation(ctx, retry.EtcdDefaults(), func() error {
		var attemptErr error
		publisher, attemptErr = NewPublisher(dsn)
		if attemptErr != nil {
			return attemptErr
		}

		if _, testErr := publisher.LastRun(ctx); testErr != nil {
			_ = publisher.Close()
			return testErr
		}
		return nil
	}, "etcd connect")

	if err != nil {
		logrus.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, err
	}

	return publisher, nil
}

package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/metrics"
)

// RunStatus is the summary of a run handed to a StatusPublisher
type RunStatus struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	BatchSize  int       `json:"batch_size"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Fetched    int       `json:"fetched"`
	Batches    int       `json:"batches"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Deleted    int64     `json:"deleted"`
}

// StatusPublisher makes the outcome of a run visible outside the process
type StatusPublisher interface {
	PublishRun(ctx context.Context, status RunStatus) error
}

// Service runs the reconciler once or on a fixed interval, one run at a time
type Service struct {
	reconciler *Reconciler
	batchSize  int
	interval   time.Duration
	metrics    *metrics.Metrics
	publisher  StatusPublisher
}

// NewService creates a runner; interval is only used by Start
func NewService(reconciler *Reconciler, batchSize int, interval time.Duration) *Service {
	return &Service{
		reconciler: reconciler,
		batchSize:  batchSize,
		interval:   interval,
	}
}

// WithMetrics records every run in m
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithPublisher publishes every run summary through p
func (s *Service) WithPublisher(p StatusPublisher) *Service {
	s.publisher = p
	return s
}

// RunOnce performs a single reconciliation. Failing to publish the status is
// logged but does not fail the run.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	result, err := s.reconciler.Sync(ctx, s.batchSize)

	status := RunStatus{
		StartedAt:  start,
		FinishedAt: time.Now(),
		BatchSize:  s.batchSize,
		Success:    err == nil,
	}
	if result != nil {
		status.Fetched = result.Fetched
		status.Batches = result.Batches
		status.Inserted = result.Inserted
		status.Updated = result.Updated
		status.Deleted = result.Deleted
	}
	if err != nil {
		status.Error = err.Error()
	}

	if s.metrics != nil {
		if err != nil {
			s.metrics.ObserveFailure(start)
		} else {
			s.metrics.ObserveSuccess(start, result.Inserted, result.Updated, result.Deleted)
		}
	}

	if s.publisher != nil {
		if pubErr := s.publisher.PublishRun(ctx, status); pubErr != nil {
			logrus.WithError(pubErr).Warn("Failed to publish sync status")
		}
	}

	return result, err
}

// Start runs immediately and then every interval until ctx is cancelled.
// Failed runs are logged and retried at the next tick. A non-positive interval
// disables the loop.
func (s *Service) Start(ctx context.Context) error {
	if s.interval <= 0 {
		logrus.Info("Periodic country sync disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	logrus.WithField("interval", s.interval).Info("Starting periodic country sync")
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Periodic country sync stopped due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Service) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("Country sync failed")
	}
}

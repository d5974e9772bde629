package feed

import (
	"context"
	"errors"
	"net/http"

	"github.com/cybertec-postgresql/country_sync/internal/retry"
)

// RetryingFetcher wraps a Fetcher and retries transient upstream failures.
// Decode errors are never retried.
type RetryingFetcher struct {
	next   Fetcher
	config *retry.Config
}

// WithRetries wraps next unless retries is zero, in which case next is returned as is
func WithRetries(next Fetcher, retries uint64) Fetcher {
	if retries == 0 {
		return next
	}
	return &RetryingFetcher{next: next, config: retry.UpstreamDefaults(retries)}
}

// FetchAll implements Fetcher
func (f *RetryingFetcher) FetchAll(ctx context.Context) ([]Country, error) {
	var countries []Country
	err := retry.Do(ctx, f.config, "country feed fetch", func(ctx context.Context) error {
		var err error
		countries, err = f.next.FetchAll(ctx)
		return err
	}, IsTransient)
	return countries, err
}

// IsTransient reports whether err is an upstream failure worth retrying:
// no response at all, 429 or a 5xx status
func IsTransient(err error) bool {
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		return false
	}
	return upErr.StatusCode == 0 ||
		upErr.StatusCode == http.StatusTooManyRequests ||
		upErr.StatusCode >= http.StatusInternalServerError
}

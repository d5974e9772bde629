// Package sync reconciles the local countries table with the upstream feed.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/db"
	"github.com/cybertec-postgresql/country_sync/internal/feed"
)

// DefaultBatchSize is the number of feed records persisted per transaction
const DefaultBatchSize = 30

// Store is the part of local storage the reconciler needs
type Store interface {
	FindByFlags(ctx context.Context, flags []string) ([]db.Country, error)
	SaveBatch(ctx context.Context, records []*db.Country) error
	DeleteWhereFlagNotIn(ctx context.Context, flags []string) (int64, error)
}

// Result summarizes one reconciliation run
type Result struct {
	Fetched  int
	Batches  int
	Inserted int
	Updated  int
	Deleted  int64
	Duration time.Duration
}

// Reconciler makes the set of local flags equal to the set of feed cca2 codes.
// Runs must not overlap: lookups and the final delete are not guarded.
type Reconciler struct {
	fetcher feed.Fetcher
	store   Store
}

// NewReconciler creates a reconciler
func NewReconciler(fetcher feed.Fetcher, store Store) *Reconciler {
	return &Reconciler{fetcher: fetcher, store: store}
}

// Sync fetches the feed once, upserts it in batches of batchSize and finally
// deletes local countries missing from the feed. Committed batches are never
// rolled back; if any batch fails the deletion pass does not run. The returned
// Result is non-nil whenever the fetch succeeded.
func (r *Reconciler) Sync(ctx context.Context, batchSize int) (*Result, error) {
	if batchSize < 1 {
		return nil, &ConfigurationError{BatchSize: batchSize}
	}
	start := time.Now()

	countries, err := r.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s stage failed: %w", StageFetch, err)
	}
	allKeys := naturalKeys(countries)

	result := &Result{Fetched: len(countries)}
	logrus.WithFields(logrus.Fields{
		"count":      len(countries),
		"unique":     len(allKeys),
		"batch_size": batchSize,
	}).Info("Starting country reconciliation")

	for lo, n := 0, 1; lo < len(countries); lo, n = lo+batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("sync interrupted before batch %d: %w", n, err)
		}
		hi := min(lo+batchSize, len(countries))
		inserted, updated, err := r.upsertBatch(ctx, n, countries[lo:hi])
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Inserted += inserted
		result.Updated += updated
	}

	deleted, err := r.store.DeleteWhereFlagNotIn(ctx, allKeys)
	if err != nil {
		return result, &PersistenceError{Stage: StageDelete, Err: err}
	}
	result.Deleted = deleted
	result.Duration = time.Since(start)

	logrus.WithFields(logrus.Fields{
		"batches":  result.Batches,
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"deleted":  result.Deleted,
		"elapsed":  result.Duration,
	}).Info("Country reconciliation completed")
	return result, nil
}

// upsertBatch loads the existing rows for the batch, applies the feed on top
// and writes everything back in one transaction. A flag repeated inside the
// batch maps onto a single record, the later feed entry winning.
func (r *Reconciler) upsertBatch(ctx context.Context, n int, batch []feed.Country) (inserted, updated int, err error) {
	flags := make([]string, 0, len(batch))
	for _, c := range batch {
		flags = append(flags, c.CCA2)
	}

	existing, err := r.store.FindByFlags(ctx, flags)
	if err != nil {
		return 0, 0, &PersistenceError{Stage: StageUpsert, Batch: n, Err: fmt.Errorf("lookup of existing countries: %w", err)}
	}
	byFlag := make(map[string]*db.Country, len(batch))
	for i := range existing {
		byFlag[existing[i].Flag] = &existing[i]
	}

	records := make([]*db.Country, 0, len(batch))
	queued := make(map[string]struct{}, len(batch))
	for _, ext := range batch {
		rec, found := byFlag[ext.CCA2]
		if !found {
			rec = db.NewCountry(ext.CCA2)
			byFlag[ext.CCA2] = rec
		}
		if _, ok := queued[ext.CCA2]; !ok {
			queued[ext.CCA2] = struct{}{}
			records = append(records, rec)
			if found {
				updated++
			} else {
				inserted++
			}
		}
		applyFeed(rec, ext)
	}

	if err := r.store.SaveBatch(ctx, records); err != nil {
		return 0, 0, &PersistenceError{Stage: StageUpsert, Batch: n, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"batch":    n,
		"records":  len(records),
		"inserted": inserted,
		"updated":  updated,
	}).Debug("Persisted country batch")
	return inserted, updated, nil
}

// naturalKeys returns the distinct cca2 codes in feed order. The result is
// never nil so that an empty feed still produces an empty key set.
func naturalKeys(countries []feed.Country) []string {
	seen := make(map[string]struct{}, len(countries))
	keys := make([]string, 0, len(countries))
	for _, c := range countries {
		if _, ok := seen[c.CCA2]; ok {
			continue
		}
		seen[c.CCA2] = struct{}{}
		keys = append(keys, c.CCA2)
	}
	return keys
}

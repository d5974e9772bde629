package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/country_sync/internal/db"
	"github.com/cybertec-postgresql/country_sync/internal/feed"
)

type staticFetcher struct {
	countries []feed.Country
	err       error
	calls     int
}

func (f *staticFetcher) FetchAll(context.Context) ([]feed.Country, error) {
	f.calls++
	return f.countries, f.err
}

// memStore mimics the countries table including the unique flag constraint
type memStore struct {
	rows        map[string]db.Country // by id
	saves       int
	failSaveOn  int
	failFind    error
	failDelete  error
	deleteCalls int
	batchSizes  []int
	afterSave   func(n int)
}

func newMemStore(seed ...db.Country) *memStore {
	m := &memStore{rows: map[string]db.Country{}}
	for _, c := range seed {
		m.rows[c.ID] = c
	}
	return m
}

func (m *memStore) FindByFlags(_ context.Context, flags []string) ([]db.Country, error) {
	if m.failFind != nil {
		return nil, m.failFind
	}
	want := map[string]bool{}
	for _, f := range flags {
		want[f] = true
	}
	var out []db.Country
	for _, c := range m.rows {
		if want[c.Flag] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) SaveBatch(_ context.Context, records []*db.Country) error {
	m.saves++
	if m.saves == m.failSaveOn {
		return errors.New("deadlock detected")
	}
	staged := map[string]db.Country{}
	for id, c := range m.rows {
		staged[id] = c
	}
	for _, r := range records {
		for id, c := range staged {
			if c.Flag == r.Flag && id != r.ID {
				return fmt.Errorf("duplicate flag %s", r.Flag)
			}
		}
		staged[r.ID] = *r
	}
	m.rows = staged
	m.batchSizes = append(m.batchSizes, len(records))
	if m.afterSave != nil {
		m.afterSave(m.saves)
	}
	return nil
}

func (m *memStore) DeleteWhereFlagNotIn(_ context.Context, flags []string) (int64, error) {
	m.deleteCalls++
	if m.failDelete != nil {
		return 0, m.failDelete
	}
	keep := map[string]bool{}
	for _, f := range flags {
		keep[f] = true
	}
	var deleted int64
	for id, c := range m.rows {
		if !keep[c.Flag] {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) flags() []string {
	out := []string{}
	for _, c := range m.rows {
		out = append(out, c.Flag)
	}
	sort.Strings(out)
	return out
}

func (m *memStore) get(t *testing.T, flag string) db.Country {
	t.Helper()
	for _, c := range m.rows {
		if c.Flag == flag {
			return c
		}
	}
	t.Fatalf("country %s not stored", flag)
	return db.Country{}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func feedCountry(code, name string) feed.Country {
	return feed.Country{
		CCA2:        code,
		Name:        feed.Name{Common: name, Official: "Republic of " + name},
		Region:      "Europe",
		Subregion:   strPtr("Western Europe"),
		Population:  1000,
		Independent: boolPtr(true),
		Currencies: feed.Currencies{
			{Code: "EUR", Name: strPtr("Euro"), Symbol: strPtr("€")},
		},
	}
}

func localCountry(id, flag string) db.Country {
	return db.Country{ID: id, Flag: flag, Name: "old " + flag, Region: "old", Subregion: "old",
		Demonym: "old", Population: 1, CurrencyName: "old", CurrencySymbol: "old"}
}

func sampleFeed() []feed.Country {
	return []feed.Country{
		feedCountry("AT", "Austria"), feedCountry("BE", "Belgium"), feedCountry("CH", "Switzerland"),
		feedCountry("DE", "Germany"), feedCountry("ES", "Spain"), feedCountry("FR", "France"),
		feedCountry("IT", "Italy"),
	}
}

func TestSyncBatchSizeInvariance(t *testing.T) {
	for _, batchSize := range []int{1, 2, 3, 6, 7, 30} {
		t.Run(fmt.Sprintf("batch_%d", batchSize), func(t *testing.T) {
			store := newMemStore(localCountry("id-de", "DE"), localCountry("id-xx", "XX"))
			r := NewReconciler(&staticFetcher{countries: sampleFeed()}, store)

			result, err := r.Sync(context.Background(), batchSize)
			require.NoError(t, err)

			assert.Equal(t, []string{"AT", "BE", "CH", "DE", "ES", "FR", "IT"}, store.flags())
			assert.Equal(t, (7+batchSize-1)/batchSize, result.Batches)
			assert.Equal(t, 6, result.Inserted)
			assert.Equal(t, 1, result.Updated)
			assert.Equal(t, int64(1), result.Deleted)
			for _, n := range store.batchSizes {
				assert.LessOrEqual(t, n, batchSize)
			}
		})
	}
}

func TestSyncIdempotent(t *testing.T) {
	store := newMemStore(localCountry("id-zz", "ZZ"))
	r := NewReconciler(&staticFetcher{countries: sampleFeed()}, store)

	_, err := r.Sync(context.Background(), 3)
	require.NoError(t, err)
	first := map[string]db.Country{}
	for id, c := range store.rows {
		first[id] = c
	}

	result, err := r.Sync(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, first, store.rows)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 7, result.Updated)
	assert.Equal(t, int64(0), result.Deleted)
}

func TestSyncUpdatesInPlace(t *testing.T) {
	store := newMemStore(localCountry("id-de", "DE"))
	r := NewReconciler(&staticFetcher{countries: []feed.Country{feedCountry("DE", "Germany")}}, store)

	_, err := r.Sync(context.Background(), DefaultBatchSize)
	require.NoError(t, err)

	require.Len(t, store.rows, 1)
	de := store.get(t, "DE")
	assert.Equal(t, "id-de", de.ID, "storage identity must survive the upsert")
	assert.Equal(t, db.Country{
		ID: "id-de", Flag: "DE", Name: "Germany", Region: "Europe", Subregion: "Western Europe",
		Demonym: "Republic of Germany", Population: 1000, Independent: true,
		CurrencyName: "Euro", CurrencySymbol: "€",
	}, de)
}

func TestSyncDefaults(t *testing.T) {
	antarctica := feed.Country{
		CCA2:       "AQ",
		Name:       feed.Name{Common: "Antarctica", Official: "Antarctica"},
		Region:     "Antarctic",
		Population: 1000,
	}
	store := newMemStore()
	r := NewReconciler(&staticFetcher{countries: []feed.Country{antarctica}}, store)

	_, err := r.Sync(context.Background(), DefaultBatchSize)
	require.NoError(t, err)

	aq := store.get(t, "AQ")
	assert.NotEmpty(t, aq.ID)
	assert.Equal(t, NotFound, aq.Subregion)
	assert.Equal(t, NotFound, aq.CurrencyName)
	assert.Equal(t, NotFound, aq.CurrencySymbol)
	assert.False(t, aq.Independent)
}

func TestSyncUsesFirstCurrency(t *testing.T) {
	zw := feedCountry("ZW", "Zimbabwe")
	zw.Currencies = feed.Currencies{
		{Code: "ZWL", Name: strPtr("Zimbabwean dollar"), Symbol: strPtr("$")},
		{Code: "BWP", Name: strPtr("Botswana pula"), Symbol: strPtr("P")},
	}
	zw.Independent = boolPtr(false)
	noSymbol := feedCountry("XK", "Kosovo")
	noSymbol.Currencies = feed.Currencies{{Code: "EUR", Name: strPtr("Euro")}}

	store := newMemStore()
	r := NewReconciler(&staticFetcher{countries: []feed.Country{zw, noSymbol}}, store)

	_, err := r.Sync(context.Background(), DefaultBatchSize)
	require.NoError(t, err)

	got := store.get(t, "ZW")
	assert.Equal(t, "Zimbabwean dollar", got.CurrencyName)
	assert.Equal(t, "$", got.CurrencySymbol)
	assert.False(t, got.Independent)

	xk := store.get(t, "XK")
	assert.Equal(t, "Euro", xk.CurrencyName)
	assert.Equal(t, NotFound, xk.CurrencySymbol)
}

func TestSyncDeletesStale(t *testing.T) {
	store := newMemStore(localCountry("a", "AA"), localCountry("b", "BB"), localCountry("c", "CC"))
	r := NewReconciler(&staticFetcher{countries: []feed.Country{feedCountry("AA", "A"), feedCountry("CC", "C")}}, store)

	result, err := r.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"AA", "CC"}, store.flags())
	assert.Equal(t, int64(1), result.Deleted)
	assert.Equal(t, "a", store.get(t, "AA").ID)
	assert.Equal(t, "c", store.get(t, "CC").ID)
}

func TestSyncEmptyFeedDeletesEverything(t *testing.T) {
	store := newMemStore(localCountry("a", "AA"), localCountry("b", "BB"))
	r := NewReconciler(&staticFetcher{countries: []feed.Country{}}, store)

	result, err := r.Sync(context.Background(), DefaultBatchSize)
	require.NoError(t, err)
	assert.Empty(t, store.rows)
	assert.Equal(t, 0, result.Batches)
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, int64(2), result.Deleted)
}

func TestSyncFailureIsolation(t *testing.T) {
	store := newMemStore(localCountry("stale", "ZZ"))
	store.failSaveOn = 2
	countries := sampleFeed()[:6] // three batches of two
	r := NewReconciler(&staticFetcher{countries: countries}, store)

	result, err := r.Sync(context.Background(), 2)

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StageUpsert, pErr.Stage)
	assert.Equal(t, 2, pErr.Batch)
	assert.Contains(t, err.Error(), "batch 2 upsert failed")

	assert.Equal(t, []string{"AT", "BE", "ZZ"}, store.flags(), "batch 1 stays committed, nothing else is written")
	assert.Equal(t, 0, store.deleteCalls, "deletion pass must not run")
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Batches)
}

func TestSyncDuplicateFlagsLastWins(t *testing.T) {
	first := feedCountry("XX", "First")
	second := feedCountry("XX", "Second")
	second.Population = 42

	for _, batchSize := range []int{1, 5} {
		t.Run(fmt.Sprintf("batch_%d", batchSize), func(t *testing.T) {
			store := newMemStore()
			r := NewReconciler(&staticFetcher{countries: []feed.Country{first, feedCountry("YY", "Y"), second}}, store)

			_, err := r.Sync(context.Background(), batchSize)
			require.NoError(t, err)

			assert.Equal(t, []string{"XX", "YY"}, store.flags())
			xx := store.get(t, "XX")
			assert.Equal(t, "Second", xx.Name)
			assert.Equal(t, int64(42), xx.Population)
		})
	}
}

func TestSyncInvalidBatchSize(t *testing.T) {
	for _, batchSize := range []int{0, -5} {
		fetcher := &staticFetcher{countries: sampleFeed()}
		store := newMemStore(localCountry("a", "AA"))

		_, err := NewReconciler(fetcher, store).Sync(context.Background(), batchSize)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, batchSize, cfgErr.BatchSize)
		assert.Equal(t, 0, fetcher.calls)
		assert.Len(t, store.rows, 1)
	}
}

func TestSyncFetchErrorPropagates(t *testing.T) {
	upstream := &feed.UpstreamError{URL: "http://feed", StatusCode: 502}
	store := newMemStore(localCountry("a", "AA"))

	result, err := NewReconciler(&staticFetcher{err: upstream}, store).Sync(context.Background(), 10)

	var upErr *feed.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Contains(t, err.Error(), "fetch stage failed")
	assert.Nil(t, result)
	assert.Equal(t, 0, store.deleteCalls)
	assert.Len(t, store.rows, 1)
}

func TestSyncLookupFailure(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("relation \"countries\" does not exist")

	_, err := NewReconciler(&staticFetcher{countries: sampleFeed()}, store).Sync(context.Background(), 10)

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 1, pErr.Batch)
	assert.Contains(t, err.Error(), "lookup of existing countries")
}

func TestSyncDeleteFailureKeepsUpserts(t *testing.T) {
	store := newMemStore(localCountry("stale", "ZZ"))
	store.failDelete = errors.New("lock timeout")

	_, err := NewReconciler(&staticFetcher{countries: sampleFeed()}, store).Sync(context.Background(), 4)

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StageDelete, pErr.Stage)
	assert.Len(t, store.rows, 8, "all upserts plus the stale row remain")
}

func TestSyncCancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore()
	store.afterSave = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	result, err := NewReconciler(&staticFetcher{countries: sampleFeed()}, store).Sync(ctx, 3)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, []string{"AT", "BE", "CH"}, store.flags())
	assert.Equal(t, 0, store.deleteCalls)
}

func TestNaturalKeys(t *testing.T) {
	assert.Equal(t, []string{}, naturalKeys(nil))
	keys := naturalKeys([]feed.Country{{CCA2: "B"}, {CCA2: "A"}, {CCA2: "B"}})
	assert.Equal(t, []string{"B", "A"}, keys)
}

// TestSyncWithCountryStore drives the reconciler against the SQL store
func TestSyncWithCountryStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing := localCountry("id-ch", "CH")
	mock.ExpectQuery(`SELECT .* FROM countries WHERE flag = ANY\(\$1\)`).
		WithArgs([]string{"CH", "ZW"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "region", "subregion", "demonym",
			"population", "independent", "flag", "currency_name", "currency_symbol"}).
			AddRow(existing.ID, existing.Name, existing.Region, existing.Subregion, existing.Demonym,
				existing.Population, existing.Independent, existing.Flag, existing.CurrencyName, existing.CurrencySymbol))
	mock.ExpectBegin()
	b := mock.ExpectBatch()
	b.ExpectExec("INSERT INTO countries").
		WithArgs("id-ch", "Switzerland", "Europe", "Western Europe", "Republic of Switzerland",
			int64(1000), true, "CH", "Euro", "€").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	b.ExpectExec("INSERT INTO countries").
		WithArgs(pgxmock.AnyArg(), "Zimbabwe", "Europe", "Western Europe", "Republic of Zimbabwe",
			int64(1000), true, "ZW", "Euro", "€").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM countries WHERE NOT \(flag = ANY\(\$1\)\)`).
		WithArgs([]string{"CH", "ZW"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	fetcher := &staticFetcher{countries: []feed.Country{feedCountry("CH", "Switzerland"), feedCountry("ZW", "Zimbabwe")}}
	result, err := NewReconciler(fetcher, db.NewCountryStore(mock)).Sync(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, int64(3), result.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCountryNotFound is returned when no country matches the given id
	ErrCountryNotFound = errors.New("country not found")
	// ErrDuplicateFlag is returned when a write would create a second country with the same flag
	ErrDuplicateFlag = errors.New("country with this flag already exists")
)

// Country is a persisted country record. ID is the storage identity, Flag is
// the natural key (ISO 3166-1 alpha-2 code) that external data is matched on.
type Country struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Region         string `json:"region"`
	Subregion      string `json:"subRegion"`
	Demonym        string `json:"demonym"`
	Population     int64  `json:"population"`
	Independent    bool   `json:"independent"`
	Flag           string `json:"flag"`
	CurrencyName   string `json:"currencyName"`
	CurrencySymbol string `json:"currencySymbol"`
}

// NewCountry returns a country with a fresh storage identity
func NewCountry(flag string) *Country {
	return &Country{ID: uuid.NewString(), Flag: flag}
}

// Page is one page of the country listing
type Page struct {
	Items       []Country `json:"items"`
	CurrentPage int       `json:"current_page"`
	LastPage    int       `json:"last_page"`
	Total       int       `json:"total"`
}

const countryColumns = `id, name, region, subregion, demonym, population, independent, flag, currency_name, currency_symbol`

const upsertCountrySQL = `INSERT INTO countries (` + countryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name, region = EXCLUDED.region, subregion = EXCLUDED.subregion,
	demonym = EXCLUDED.demonym, population = EXCLUDED.population, independent = EXCLUDED.independent,
	flag = EXCLUDED.flag, currency_name = EXCLUDED.currency_name, currency_symbol = EXCLUDED.currency_symbol`

// CountryStore reads and writes the countries table
type CountryStore struct {
	pool PgxIface
}

// NewCountryStore creates a store on top of a pool, connection or transaction
func NewCountryStore(pool PgxIface) *CountryStore {
	return &CountryStore{pool: pool}
}

func scanCountry(row pgx.Row, c *Country) error {
	return row.Scan(&c.ID, &c.Name, &c.Region, &c.Subregion, &c.Demonym,
		&c.Population, &c.Independent, &c.Flag, &c.CurrencyName, &c.CurrencySymbol)
}

func countryArgs(c *Country) []any {
	return []any{c.ID, c.Name, c.Region, c.Subregion, c.Demonym,
		c.Population, c.Independent, c.Flag, c.CurrencyName, c.CurrencySymbol}
}

func collectCountries(rows pgx.Rows) ([]Country, error) {
	defer rows.Close()
	var countries []Country
	for rows.Next() {
		var c Country
		if err := scanCountry(rows, &c); err != nil {
			return nil, fmt.Errorf("error scanning country: %w", err)
		}
		countries = append(countries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating countries: %w", err)
	}
	return countries, nil
}

// FindByFlags returns the countries whose flag is one of flags
func (s *CountryStore) FindByFlags(ctx context.Context, flags []string) ([]Country, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+countryColumns+` FROM countries WHERE flag = ANY($1)`, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries by flag: %w", err)
	}
	return collectCountries(rows)
}

// SaveBatch upserts all records by storage identity in a single transaction
func (s *CountryStore) SaveBatch(ctx context.Context, records []*Country) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("failed to commit batch: %w", err)
		}
	}()

	batch := &pgx.Batch{}
	for _, c := range records {
		batch.Queue(upsertCountrySQL, countryArgs(c)...)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to execute batch upsert: %w", wrapConstraintError(err))
	}

	logrus.WithField("count", len(records)).Debug("Upserted country batch")
	return nil
}

// DeleteWhereFlagNotIn removes every country whose flag is not in flags with a
// single statement. An empty flags slice removes all countries.
func (s *CountryStore) DeleteWhereFlagNotIn(ctx context.Context, flags []string) (int64, error) {
	if flags == nil {
		// a nil slice is sent as NULL, and NOT (flag = ANY(NULL)) matches nothing
		flags = []string{}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM countries WHERE NOT (flag = ANY($1))`, flags)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale countries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns the country with the given storage identity
func (s *CountryStore) Get(ctx context.Context, id string) (*Country, error) {
	var c Country
	err := scanCountry(s.pool.QueryRow(ctx, `SELECT `+countryColumns+` FROM countries WHERE id = $1`, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCountryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get country: %w", err)
	}
	return &c, nil
}

// Create inserts a new country, generating its identity when empty
func (s *CountryStore) Create(ctx context.Context, c *Country) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO countries (`+countryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, countryArgs(c)...)
	if err != nil {
		return fmt.Errorf("failed to create country: %w", wrapConstraintError(err))
	}
	return nil
}

// Update overwrites every attribute of an existing country
func (s *CountryStore) Update(ctx context.Context, c *Country) error {
	tag, err := s.pool.Exec(ctx, `UPDATE countries SET
		name = $2, region = $3, subregion = $4, demonym = $5, population = $6,
		independent = $7, flag = $8, currency_name = $9, currency_symbol = $10
		WHERE id = $1`, countryArgs(c)...)
	if err != nil {
		return fmt.Errorf("failed to update country: %w", wrapConstraintError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrCountryNotFound
	}
	return nil
}

// Delete removes the country with the given storage identity
func (s *CountryStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM countries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete country: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCountryNotFound
	}
	return nil
}

// List returns one page of countries ordered by name. page and limit below 1
// fall back to 1 and 10.
func (s *CountryStore) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM countries`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count countries: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+countryColumns+` FROM countries
		ORDER BY name, flag LIMIT $1 OFFSET $2`, limit, limit*(page-1))
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	items, err := collectCountries(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Country{}
	}

	return &Page{
		Items:       items,
		CurrentPage: page,
		LastPage:    (total + limit - 1) / limit,
		Total:       total,
	}, nil
}

func wrapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "countries_flag_key" {
		return fmt.Errorf("%w: %s", ErrDuplicateFlag, pgErr.Detail)
	}
	return err
}

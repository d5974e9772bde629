// Package migrations contains the countries schema and its migration machinery.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// TableName is the bookkeeping table used by the migrator
const TableName = "country_sync_migrations"

const createCountriesSQL = `
	CREATE TABLE countries (
		id varchar(100) PRIMARY KEY,
		name varchar(200) NOT NULL,
		region varchar(200) NOT NULL,
		subregion varchar(200) NOT NULL,
		demonym varchar(200) NOT NULL,
		population bigint NOT NULL CHECK (population >= 0),
		independent boolean NOT NULL DEFAULT false,
		flag varchar(8) NOT NULL,
		currency_name varchar(100) NOT NULL,
		currency_symbol varchar(100) NOT NULL,
		CONSTRAINT countries_flag_key UNIQUE (flag)
	);`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_countries",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createCountriesSQL)
				return err
			},
		},
		&migrator.Migration{
			Name: "002_countries_listing_index",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				// list endpoint orders by name, flag
				_, err := tx.Exec(ctx, `CREATE INDEX idx_countries_name_flag ON countries(name, flag)`)
				return err
			},
		},
		// adding new migration here
	)
}

var (
	migratorInstance *migrator.Migrator
	migratorErr      error
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	once.Do(func() {
		migratorInstance, migratorErr = migrator.New(
			migrations(),
			migrator.TableName(TableName),
		)
	})
	return migratorInstance, migratorErr
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}
	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return needUpgrade, nil
}

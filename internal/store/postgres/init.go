package postgres

import (
	"database/sql"
	"fmt"

	"fieldsync/internal/constants"
	"fieldsync/internal/lock"
)

const schema = "fieldsync_schema"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS fieldsync_schema.mutation_records (
		id              UUID PRIMARY KEY,
		seq             BIGSERIAL,
		operation       TEXT        NOT NULL,
		method          TEXT        NOT NULL,
		path            TEXT        NOT NULL,
		payload         JSONB,
		status          TEXT        NOT NULL DEFAULT 'pending',
		attempts        INT         NOT NULL DEFAULT 0,
		max_attempts    INT         NOT NULL DEFAULT 3,
		last_error      TEXT,
		next_attempt_at TIMESTAMPTZ,
		locked_by       TEXT,
		locked_at       TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS mutation_records_status_idx
		ON fieldsync_schema.mutation_records (status)`,
	`CREATE INDEX IF NOT EXISTS mutation_records_order_idx
		ON fieldsync_schema.mutation_records (created_at, seq)`,
}

// Init opens the shared queue database and runs schema migrations. A
// distributed lock keeps concurrent clients from racing the migration.
func Init(postgresURL string, distributedLock lock.DispatchLockManager) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, distributedLock); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema and tables on an already open connection.
func Migrate(db *sql.DB, distributedLock lock.DispatchLockManager) error {
	if err := distributedLock.Acquire(constants.MigrationLock); err != nil {
		return err
	}
	defer distributedLock.Release(constants.MigrationLock)

	if err := db.Ping(); err != nil {
		return err
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return err
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

package telemetry

import (
	"database/sql"

	"codeberg.org/sverin/daqctl/internal/errors"
)

const (
	createTablesSQL = `
    CREATE TABLE IF NOT EXISTS telemetry (
        timestamp        INTEGER PRIMARY KEY,
        acquisitions     INTEGER NOT NULL,
        timeouts         INTEGER NOT NULL,
        dispatches       INTEGER NOT NULL,
        skips            INTEGER NOT NULL,
        drops            INTEGER NOT NULL,
        yields           INTEGER NOT NULL,
        period_us        INTEGER NOT NULL
    )`

	insertSnapshotSQL = `
    INSERT INTO telemetry (
        timestamp,
        acquisitions, timeouts,
        dispatches, skips, drops, yields,
        period_us
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(timestamp) DO UPDATE SET
        acquisitions = excluded.acquisitions,
        timeouts = excluded.timeouts,
        dispatches = excluded.dispatches,
        skips = excluded.skips,
        drops = excluded.drops,
        yields = excluded.yields,
        period_us = excluded.period_us`
)

// initSchema initializes the database schema for telemetry data
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(createTablesSQL); err != nil {
		return errors.New().Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}

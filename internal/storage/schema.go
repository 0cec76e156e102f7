package storage

import (
	"database/sql"
)

// Schema version tracking
const currentSchemaVersion = 2

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createBaselineBlocksTable(tx); err != nil {
			return err
		}
		if err := createScoreSnapshotsTable(tx); err != nil {
			return err
		}
		if err := createRunsTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion)

	return db.WithTx(func(tx *sql.Tx) error {
		if version < 1 {
			if err := createSchemaVersionTable(tx); err != nil {
				return err
			}
			if err := createBaselineBlocksTable(tx); err != nil {
				return err
			}
			if err := createScoreSnapshotsTable(tx); err != nil {
				return err
			}
		}
		// v2 records run metadata next to snapshots.
		if version < 2 {
			if err := createRunsTable(tx); err != nil {
				return err
			}
		}
		return setSchemaVersion(tx, currentSchemaVersion)
	})
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createBaselineBlocksTable holds one approved state per block id and version.
func createBaselineBlocksTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS baseline_blocks (
			block_id TEXT NOT NULL,
			version TEXT NOT NULL,
			tolerance TEXT NOT NULL,
			hash TEXT NOT NULL,
			normalized TEXT NOT NULL,
			path TEXT,
			start_line INTEGER,
			end_line INTEGER,
			registered_at TEXT NOT NULL,
			PRIMARY KEY (block_id, version)
		)
	`)
	return err
}

func createScoreSnapshotsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS score_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			path TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			score REAL NOT NULL,
			severity TEXT NOT NULL CHECK(severity IN ('ok', 'warning', 'critical')),
			complexity INTEGER NOT NULL,
			indirection INTEGER NOT NULL,
			context_switches INTEGER NOT NULL,
			lines INTEGER NOT NULL,
			fan_in INTEGER NOT NULL,
			fan_out INTEGER NOT NULL,
			instability REAL NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_score_snapshots_path ON score_snapshots(path, taken_at)`)
	return err
}

func createRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			root TEXT NOT NULL,
			files INTEGER NOT NULL,
			passed INTEGER NOT NULL
		)
	`)
	return err
}

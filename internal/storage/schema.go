package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		steps := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createFilesTable,
			createConnectionTables,
			createConnectionMappingsTable,
			createCheckpointsTable,
			createRunsTable,
		}
		for _, step := range steps {
			if err := step(tx); err != nil {
				return err
			}
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}
		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations upgrades an existing database to currentSchemaVersion.
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}
	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version == 0 {
		// Created by an interrupted Open: the first transaction never committed.
		return db.initializeSchema()
	}
	db.logger.Info("Running database migrations", "from_version", version, "to_version", currentSchemaVersion)
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	ctx := context.Background()

	var tableName string
	err := db.QueryRowContext(ctx, `
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
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
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

// createFilesTable holds the last reconciled content of every indexed file.
func createFilesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			path TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			UNIQUE(project_id, path)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id)",
	})
}

// createConnectionTables creates incoming_connections and
// outgoing_connections with identical columns.
func createConnectionTables(tx *sql.Tx) error {
	for _, table := range []string{incomingTable, outgoingTable} {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS ` + table + ` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				description TEXT NOT NULL DEFAULT '',
				snippet_lines TEXT NOT NULL DEFAULT '[]',
				technology_name TEXT NOT NULL DEFAULT '',
				code_snippet TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`)
		if err != nil {
			return fmt.Errorf("failed to create %s table: %w", table, err)
		}
		err = createIndexes(tx, []string{
			"CREATE INDEX IF NOT EXISTS idx_" + table + "_file ON " + table + "(file_id)",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// createConnectionMappingsTable links outgoing senders to incoming receivers.
func createConnectionMappingsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS connection_mappings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			connection_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			match_confidence REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create connection_mappings table: %w", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_connection_mappings_sender ON connection_mappings(sender_id)",
		"CREATE INDEX IF NOT EXISTS idx_connection_mappings_receiver ON connection_mappings(receiver_id)",
	})
}

// createCheckpointsTable holds append-only pending-change rows. Code
// columns are zstd blobs; NULL means absent.
func createCheckpointsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			change_type TEXT NOT NULL,
			old_code BLOB,
			new_code BLOB,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_key ON checkpoints(project_id, file_path, id)",
	})
}

// createRunsTable records one row per incremental run.
func createRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			success INTEGER NOT NULL,
			stats_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return createIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_project_started ON runs(project_id, started_at)",
	})
}

func createIndexes(tx *sql.Tx, indexes []string) error {
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

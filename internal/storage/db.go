package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultDataDir is used when Open is given an empty dataDir.
const DefaultDataDir = ".connidx"

// DBFileName is the database file inside the data directory.
const DBFileName = "connidx.db"

// Querier is satisfied by *sql.DB and *sql.Tx so repositories work
// inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite handle shared by every project.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"cache_size(-64000)",
	"temp_store(MEMORY)",
}

// Open opens or creates <root>/<dataDir>/connidx.db and brings the
// schema up to date.
func Open(root, dataDir string, logger *slog.Logger) (*DB, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	dir := filepath.Join(root, dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dir, DBFileName), logger)
}

// OpenPath opens the database file at dbPath.
func OpenPath(dbPath string, logger *slog.Logger) (*DB, error) {
	dbExists := fileExists(dbPath)

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	// Writers take the lock at BEGIN so concurrent projects queue on
	// busy_timeout instead of failing on lock upgrade.
	q.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, logger: logger, dbPath: dbPath}

	if !dbExists {
		logger.Info("Creating new database", "path", dbPath)
		if err := db.initializeSchema(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		logger.Debug("Running database migrations", "path", dbPath)
		if err := db.runMigrations(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.dbPath
}

// WithTx runs fn in a transaction, rolling back on error or panic.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	return db.WithTxContext(context.Background(), fn)
}

// WithTxContext is WithTx bound to ctx.
func (db *DB) WithTxContext(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

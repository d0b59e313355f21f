// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package metadb implements the metadata index on SQLite.
package metadb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/marcv81/tempstore/meta"
)

var (
	// Error is the default metadb error class.
	Error = errs.Class("metadb")

	mon = monkit.Package()

	_ meta.DB = (*DB)(nil)
)

// DatabaseFile is the name of the SQLite file inside the database
// directory. WAL sidecars appear next to it.
const DatabaseFile = "packages.db"

// DB is a SQLite-backed metadata index. The connection pool is the
// scoped-acquisition equivalent of open-per-call: each operation's
// connection lifetime is bounded by the call and released on every exit
// path.
type DB struct {
	log *zap.Logger
	dir string

	mu   sync.Mutex
	pool *sql.DB
}

// Open returns a metadata index stored under dir. No I/O happens until
// the first operation; Init creates the schema.
func Open(log *zap.Logger, dir string) *DB {
	return &DB{
		log: log,
		dir: dir,
	}
}

// dsn configures the substrate the way the index requires: foreign keys
// enforced, WAL journaling for concurrent readers alongside one writer,
// a 10 s busy timeout on lock contention, and immediate transactions so
// writers claim the write lock up front instead of deadlocking on a
// read-then-upgrade.
func (db *DB) dsn() string {
	return "file:" + filepath.Join(db.dir, DatabaseFile) +
		"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
}

// conn returns the shared connection pool, creating it on first use.
func (db *DB) conn() (*sql.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.pool == nil {
		pool, err := sql.Open("sqlite3", db.dsn())
		if err != nil {
			return nil, Error.Wrap(err)
		}
		db.pool = pool
	}
	return db.pool, nil
}

// Init creates an empty index, destroying any previous contents.
func (db *DB) Init(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := db.Destroy(); err != nil {
		return err
	}
	if err := os.MkdirAll(db.dir, 0o755); err != nil {
		return Error.Wrap(err)
	}
	return db.createSchema(ctx)
}

// Destroy closes the pool and removes the database directory.
func (db *DB) Destroy() error {
	return errs.Combine(db.Close(), Error.Wrap(os.RemoveAll(db.dir)))
}

// Close releases the connection pool.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.pool == nil {
		return nil
	}
	err := db.pool.Close()
	db.pool = nil
	return Error.Wrap(err)
}

func (db *DB) createSchema(ctx context.Context) error {
	pool, err := db.conn()
	if err != nil {
		return err
	}
	_, err = pool.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			CONSTRAINT unique_project UNIQUE (name)
		);
		CREATE TABLE IF NOT EXISTS versions(
			id INTEGER PRIMARY KEY,
			project_id INTEGER,
			name TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			star BOOLEAN DEFAULT 0,
			FOREIGN KEY(project_id) REFERENCES projects(id),
			CONSTRAINT unique_version UNIQUE (project_id, name)
		);
		CREATE TABLE IF NOT EXISTS files(
			id INTEGER PRIMARY KEY,
			version_id INTEGER,
			name TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			FOREIGN KEY(version_id) REFERENCES versions(id)
				ON DELETE CASCADE,
			CONSTRAINT unique_file UNIQUE (version_id, name)
		);
	`)
	return Error.Wrap(err)
}

// withTx runs fn inside a transaction, committing on success and
// rolling back on failure. With the immediate txlock every transaction
// claims the writer slot at BEGIN.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	pool, err := db.conn()
	if err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(tx.Rollback()))
		} else {
			err = Error.Wrap(tx.Commit())
		}
	}()
	return fn(tx)
}

// isConstraintViolation reports whether err is a SQLite uniqueness or
// other constraint failure.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

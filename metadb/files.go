// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package metadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"github.com/marcv81/tempstore/meta"
	"github.com/marcv81/tempstore/validate"
)

// CreateFile records a file under (project, version), creating the
// project and version rows if needed. The whole upsert-upsert-insert
// sequence runs in one transaction so intermediate rows are never
// observable. An existing version keeps its original timestamp.
func (db *DB) CreateFile(ctx context.Context, project, version, file, sha256 string, age time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.Name(project); err != nil {
		return err
	}
	if err := validate.Name(version); err != nil {
		return err
	}
	if err := validate.Name(file); err != nil {
		return err
	}
	if err := validate.SHA256(sha256); err != nil {
		return err
	}

	timestamp := time.Now().Add(-age).Unix()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO projects(name) VALUES(?)`, project)
		if err != nil {
			return Error.Wrap(err)
		}
		var projectID int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM projects WHERE name=?`, project).Scan(&projectID)
		if err != nil {
			return Error.Wrap(err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO versions(project_id, name, timestamp) VALUES(?, ?, ?)`,
			projectID, version, timestamp)
		if err != nil {
			return Error.Wrap(err)
		}
		var versionID int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM versions WHERE project_id=? AND name=?`,
			projectID, version).Scan(&versionID)
		if err != nil {
			return Error.Wrap(err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO files(version_id, name, sha256) VALUES(?, ?, ?)`,
			versionID, file, sha256)
		if err != nil {
			if isConstraintViolation(err) {
				return meta.ErrDuplicateFile.New("%s/%s/%s", project, version, file)
			}
			return Error.Wrap(err)
		}
		return nil
	})
}

// FileSHA256 resolves a file to the digest of the blob holding its bytes.
func (db *DB) FileSHA256(ctx context.Context, project, version, file string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.Name(project); err != nil {
		return "", err
	}
	if err := validate.Name(version); err != nil {
		return "", err
	}
	if err := validate.Name(file); err != nil {
		return "", err
	}

	pool, err := db.conn()
	if err != nil {
		return "", err
	}
	var sha256 string
	err = pool.QueryRowContext(ctx, `
		SELECT files.sha256 FROM projects
		INNER JOIN versions ON projects.id=versions.project_id
		INNER JOIN files ON versions.id=files.version_id
		WHERE projects.name=? AND versions.name=? AND files.name=?
	`, project, version, file).Scan(&sha256)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", meta.ErrNotFound.New("file %s/%s/%s", project, version, file)
		}
		return "", Error.Wrap(err)
	}
	return sha256, nil
}

// Projects lists all projects, ascending by name.
func (db *DB) Projects(ctx context.Context) (_ []meta.Project, err error) {
	defer mon.Task()(&ctx)(&err)

	pool, err := db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.QueryContext(ctx,
		`SELECT name FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var projects []meta.Project
	for rows.Next() {
		var project meta.Project
		if err := rows.Scan(&project.Name); err != nil {
			return nil, Error.Wrap(err)
		}
		projects = append(projects, project)
	}
	return projects, Error.Wrap(rows.Err())
}

// Versions lists a project's versions, descending by timestamp. The
// project lookup and the listing share a transaction for a consistent
// snapshot.
func (db *DB) Versions(ctx context.Context, project string) (_ []meta.Version, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.Name(project); err != nil {
		return nil, err
	}

	var versions []meta.Version
	err = db.withTx(ctx, func(tx *sql.Tx) (err error) {
		var projectID int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM projects WHERE name=?`, project).Scan(&projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return meta.ErrNotFound.New("project %s", project)
			}
			return Error.Wrap(err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT name, timestamp, star FROM versions
			WHERE project_id=? ORDER BY timestamp DESC
		`, projectID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

		for rows.Next() {
			var version meta.Version
			if err := rows.Scan(&version.Name, &version.Timestamp, &version.Star); err != nil {
				return Error.Wrap(err)
			}
			versions = append(versions, version)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Files lists a version's files, ascending by name, within a
// transaction for a consistent snapshot.
func (db *DB) Files(ctx context.Context, project, version string) (_ []meta.FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.Name(project); err != nil {
		return nil, err
	}
	if err := validate.Name(version); err != nil {
		return nil, err
	}

	var files []meta.FileInfo
	err = db.withTx(ctx, func(tx *sql.Tx) (err error) {
		versionID, err := lookupVersionID(ctx, tx, project, version)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT name, sha256 FROM files
			WHERE version_id=? ORDER BY name ASC
		`, versionID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

		for rows.Next() {
			var file meta.FileInfo
			if err := rows.Scan(&file.Name, &file.SHA256); err != nil {
				return Error.Wrap(err)
			}
			files = append(files, file)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SHA256Sums returns the distinct digests referenced by any file.
func (db *DB) SHA256Sums(ctx context.Context) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	pool, err := db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.QueryContext(ctx, `SELECT DISTINCT sha256 FROM files`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var sums []string
	for rows.Next() {
		var sum string
		if err := rows.Scan(&sum); err != nil {
			return nil, Error.Wrap(err)
		}
		sums = append(sums, sum)
	}
	return sums, Error.Wrap(rows.Err())
}

// UpdateStar pins or unpins a version. The transaction is immediate
// (txlock), so the read-then-update sequence cannot deadlock against
// another writer. Setting the current value again succeeds.
func (db *DB) UpdateStar(ctx context.Context, project, version string, star bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.Name(project); err != nil {
		return err
	}
	if err := validate.Name(version); err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		versionID, err := lookupVersionID(ctx, tx, project, version)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE versions SET star=? WHERE id=?`, star, versionID)
		return Error.Wrap(err)
	})
}

// DeleteObsoleteVersions removes every unstarred version at least age
// old. The statement is atomic on its own; files cascade with their
// version.
func (db *DB) DeleteObsoleteVersions(ctx context.Context, age time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)

	pool, err := db.conn()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-age).Unix()
	_, err = pool.ExecContext(ctx,
		`DELETE FROM versions WHERE star=0 AND timestamp<=?`, cutoff)
	return Error.Wrap(err)
}

func lookupVersionID(ctx context.Context, tx *sql.Tx, project, version string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT versions.id FROM versions
		INNER JOIN projects ON projects.id=versions.project_id
		WHERE projects.name=? AND versions.name=?
	`, project, version).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, meta.ErrNotFound.New("version %s/%s", project, version)
		}
		return 0, Error.Wrap(err)
	}
	return id, nil
}

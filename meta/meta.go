// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package meta defines the metadata index contract: projects own
// versions, versions own named files, and files reference blobs by
// their SHA-256 digest.
package meta

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound is returned when a project, version, or file is absent.
	ErrNotFound = errs.Class("not found")
	// ErrDuplicateFile is returned when a file already exists under its
	// version.
	ErrDuplicateFile = errs.Class("duplicate file")
)

// Project is a named container of versions. Projects are created
// implicitly on first upload and are never deleted by cleanup.
type Project struct {
	Name string
}

// Version is a named, timestamped container of files. The timestamp is
// set at creation and never changes; the star pin exempts the version
// from obsolescence.
type Version struct {
	Name      string
	Timestamp int64
	Star      bool
}

// FileInfo names a file within a version and the blob holding its bytes.
type FileInfo struct {
	Name   string
	SHA256 string
}

// DB is the transactional metadata index. Implementations validate all
// externally supplied strings before touching storage, and report every
// failure as one of the typed error classes without leaking substrate
// errors.
type DB interface {
	// CreateFile records a file under (project, version), creating both
	// implicitly if needed. An existing version keeps its original
	// timestamp. A duplicate (version, file) pair fails with
	// ErrDuplicateFile and leaves no state change. A non-zero age
	// backdates the version timestamp; it exists for tests.
	CreateFile(ctx context.Context, project, version, file, sha256 string, age time.Duration) error

	// FileSHA256 resolves a file to its blob digest.
	FileSHA256(ctx context.Context, project, version, file string) (string, error)

	// Projects lists all projects, ascending by name.
	Projects(ctx context.Context) ([]Project, error)

	// Versions lists a project's versions, descending by timestamp.
	Versions(ctx context.Context, project string) ([]Version, error)

	// Files lists a version's files, ascending by name.
	Files(ctx context.Context, project, version string) ([]FileInfo, error)

	// SHA256Sums returns the distinct digests referenced by any file.
	SHA256Sums(ctx context.Context) ([]string, error)

	// UpdateStar pins or unpins a version. Idempotent.
	UpdateStar(ctx context.Context, project, version string, star bool) error

	// DeleteObsoleteVersions removes every unstarred version at least
	// age old, cascading to its files.
	DeleteObsoleteVersions(ctx context.Context, age time.Duration) error

	// Init creates an empty index, destroying any previous contents.
	Init(ctx context.Context) error

	// Destroy removes the index and everything in it.
	Destroy() error

	// Close releases the underlying connections.
	Close() error
}

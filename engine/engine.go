// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package engine coordinates the metadata index and the blob store.
// Writes flow blob first, then metadata; reads resolve metadata first,
// then open the blob. Cleanup deletes obsolete metadata before taking
// the live-hash snapshot that drives blob garbage collection.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/marcv81/tempstore/blobstore"
	"github.com/marcv81/tempstore/meta"
)

var (
	// Error is the default engine error class. It also marks internal
	// inconsistencies such as a live file row whose blob is missing.
	Error = errs.Class("engine")

	mon = monkit.Package()
)

// Config holds the engine parameters.
type Config struct {
	// ObsoleteAge is how old an unstarred version must be before
	// cleanup removes it.
	ObsoleteAge time.Duration
}

// DefaultConfig is the default value for Config.
var DefaultConfig = Config{
	ObsoleteAge: 30 * 24 * time.Hour,
}

// VersionInfo is a version annotated with its presentation date: the
// local YYYY-MM-DD creation day, followed by the time until expiry for
// unstarred versions.
type VersionInfo struct {
	meta.Version
	Date string
}

// Engine composes the blob store and the metadata index.
type Engine struct {
	log    *zap.Logger
	blobs  blobstore.Blobs
	db     meta.DB
	config Config
}

// New creates an engine over the given substrates.
func New(log *zap.Logger, blobs blobstore.Blobs, db meta.DB, config Config) *Engine {
	if config.ObsoleteAge <= 0 {
		config.ObsoleteAge = DefaultConfig.ObsoleteAge
	}
	return &Engine{
		log:    log,
		blobs:  blobs,
		db:     db,
		config: config,
	}
}

// Init creates or resets both substrates. Destructive: any previous
// contents are gone afterwards. Bootstrap only.
func (engine *Engine) Init(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := engine.blobs.Init(ctx); err != nil {
		return err
	}
	return engine.db.Init(ctx)
}

// Destroy removes both substrates.
func (engine *Engine) Destroy() error {
	return errs.Combine(engine.blobs.Destroy(), engine.db.Destroy())
}

// Close releases the metadata index connections.
func (engine *Engine) Close() error {
	return engine.db.Close()
}

// ListProjects lists all projects.
func (engine *Engine) ListProjects(ctx context.Context) (_ []meta.Project, err error) {
	defer mon.Task()(&ctx)(&err)
	return engine.db.Projects(ctx)
}

// ListVersions lists a project's versions with their presentation dates.
func (engine *Engine) ListVersions(ctx context.Context, project string) (_ []VersionInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	versions, err := engine.db.Versions(ctx, project)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	infos := make([]VersionInfo, 0, len(versions))
	for _, version := range versions {
		date := time.Unix(version.Timestamp, 0).Format("2006-01-02")
		if !version.Star {
			expiry := version.Timestamp + int64(engine.config.ObsoleteAge/time.Second) - now
			date += ", " + FormatExpiry(expiry)
		}
		infos = append(infos, VersionInfo{Version: version, Date: date})
	}
	return infos, nil
}

// ListFiles lists a version's files.
func (engine *Engine) ListFiles(ctx context.Context, project, version string) (_ []meta.FileInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	return engine.db.Files(ctx, project, version)
}

// Upload stores the stream as a blob and records the file under
// (project, version). The blob lands before the file row; if recording
// fails the orphan blob stays behind for the next cleanup.
func (engine *Engine) Upload(ctx context.Context, project, version, file string, r io.ReadSeeker, age time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)

	sum, err := engine.blobs.Create(ctx, r, age)
	if err != nil {
		return err
	}
	return engine.db.CreateFile(ctx, project, version, file, sum, age)
}

// Download resolves a file to its blob and returns a reader over the
// bytes. The caller closes the reader. A file row whose blob is missing
// is an internal inconsistency, not a not-found.
func (engine *Engine) Download(ctx context.Context, project, version, file string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	sum, err := engine.db.FileSHA256(ctx, project, version, file)
	if err != nil {
		return nil, err
	}
	rc, err := engine.blobs.Open(ctx, sum)
	if err != nil {
		if blobstore.ErrNotFound.Has(err) {
			return nil, Error.New("blob %s missing for file %s/%s/%s", sum, project, version, file)
		}
		return nil, err
	}
	return rc, nil
}

// StarVersion pins a version, exempting it from obsolescence.
func (engine *Engine) StarVersion(ctx context.Context, project, version string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return engine.db.UpdateStar(ctx, project, version, true)
}

// UnstarVersion unpins a version.
func (engine *Engine) UnstarVersion(ctx context.Context, project, version string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return engine.db.UpdateStar(ctx, project, version, false)
}

// Cleanup prunes obsolete versions, then garbage-collects blobs no
// remaining file references. Metadata deletion runs before the
// live-hash snapshot so newly orphaned digests are absent from it; the
// blob store's grace window protects blobs whose file row is not yet
// committed.
func (engine *Engine) Cleanup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := engine.db.DeleteObsoleteVersions(ctx, engine.config.ObsoleteAge); err != nil {
		return err
	}
	sums, err := engine.db.SHA256Sums(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(sums))
	for _, sum := range sums {
		live[sum] = struct{}{}
	}
	return engine.blobs.DeleteUnreferenced(ctx, live)
}

// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package engine_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"github.com/marcv81/tempstore/blobstore"
	"github.com/marcv81/tempstore/blobstore/filestore"
	"github.com/marcv81/tempstore/engine"
	"github.com/marcv81/tempstore/meta"
	"github.com/marcv81/tempstore/metadb"
)

func newTestEngine(t *testing.T, ctx *testcontext.Context, config engine.Config) *engine.Engine {
	log := zaptest.NewLogger(t)
	blobs := filestore.New(log.Named("filestore"), ctx.Dir("datastore"), filestore.DefaultConfig)
	db := metadb.Open(log.Named("metadb"), ctx.Dir("database"))
	eng := engine.New(log.Named("engine"), blobs, db, config)
	require.NoError(t, eng.Init(ctx))
	return eng
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.DefaultConfig)
	defer ctx.Check(eng.Close)

	data := testrand.Bytes(64 * memory.KiB)
	require.NoError(t, eng.Upload(ctx, "ProjectX", "1.0", "fileA", bytes.NewReader(data), 0))

	rc, err := eng.Download(ctx, "ProjectX", "1.0", "fileA")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, data, got)

	projects, err := eng.ListProjects(ctx)
	require.NoError(t, err)
	require.Equal(t, []meta.Project{{Name: "ProjectX"}}, projects)

	files, err := eng.ListFiles(ctx, "ProjectX", "1.0")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "fileA", files[0].Name)
}

func TestDownloadNotFound(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.DefaultConfig)
	defer ctx.Check(eng.Close)

	_, err := eng.Download(ctx, "nope", "1.0", "fileA")
	require.Error(t, err)
	require.True(t, meta.ErrNotFound.Has(err))
}

func TestDownloadMissingBlobIsInternal(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.DefaultConfig)
	defer ctx.Check(eng.Close)

	data := []byte("soon to vanish")
	require.NoError(t, eng.Upload(ctx, "p", "1.0", "f", bytes.NewReader(data), 0))

	// Out-of-policy manual deletion of the blob behind a live file row.
	files, err := eng.ListFiles(ctx, "p", "1.0")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(ctx.Dir("datastore"), files[0].SHA256)))

	_, err = eng.Download(ctx, "p", "1.0", "f")
	require.Error(t, err)
	require.False(t, meta.ErrNotFound.Has(err))
	require.False(t, blobstore.ErrNotFound.Has(err))
	require.True(t, engine.Error.Has(err))
}

func TestListVersionsDate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.Config{ObsoleteAge: time.Hour})
	defer ctx.Check(eng.Close)

	require.NoError(t, eng.Upload(ctx, "p", "1.0", "f", bytes.NewReader([]byte("x")), 0))

	versions, err := eng.ListVersions(ctx, "p")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	today := time.Now().Format("2006-01-02")
	require.Equal(t, today+", expires in 1 hour", versions[0].Date)

	require.NoError(t, eng.StarVersion(ctx, "p", "1.0"))
	versions, err = eng.ListVersions(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, today, versions[0].Date)

	require.NoError(t, eng.UnstarVersion(ctx, "p", "1.0"))
	versions, err = eng.ListVersions(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, today+", expires in 1 hour", versions[0].Date)
}

func TestCleanup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.Config{ObsoleteAge: time.Hour})
	defer ctx.Check(eng.Close)

	// Old enough to prune, and its blob is past the grace window.
	stale := []byte("stale artifact")
	require.NoError(t, eng.Upload(ctx, "p", "old", "f", bytes.NewReader(stale), 2*time.Hour))
	// Same age, but pinned.
	pinned := []byte("pinned artifact")
	require.NoError(t, eng.Upload(ctx, "p", "keep", "f", bytes.NewReader(pinned), 2*time.Hour))
	require.NoError(t, eng.StarVersion(ctx, "p", "keep"))
	// Fresh.
	fresh := []byte("fresh artifact")
	require.NoError(t, eng.Upload(ctx, "p", "new", "f", bytes.NewReader(fresh), 0))

	require.NoError(t, eng.Cleanup(ctx))

	versions, err := eng.ListVersions(ctx, "p")
	require.NoError(t, err)
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		names = append(names, v.Name)
	}
	require.ElementsMatch(t, []string{"keep", "new"}, names)

	// The stale blob is gone, the pinned and fresh ones remain readable.
	_, err = eng.Download(ctx, "p", "old", "f")
	require.True(t, meta.ErrNotFound.Has(err))
	rc, err := eng.Download(ctx, "p", "keep", "f")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, pinned, got)
	rc, err = eng.Download(ctx, "p", "new", "f")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// After cleanup every remaining blob is either younger than the
	// grace window or referenced by a file row.
	entries, err := os.ReadDir(ctx.Dir("datastore"))
	require.NoError(t, err)
	sums := map[string]struct{}{}
	for _, f := range []string{"keep", "new"} {
		files, err := eng.ListFiles(ctx, "p", f)
		require.NoError(t, err)
		for _, file := range files {
			sums[file.SHA256] = struct{}{}
		}
	}
	for _, entry := range entries {
		info, err := entry.Info()
		require.NoError(t, err)
		if time.Since(info.ModTime()) < filestore.GraceWindow {
			continue
		}
		_, ok := sums[entry.Name()]
		require.True(t, ok, entry.Name())
	}

	// The project survives even if all its versions are pruned.
	projects, err := eng.ListProjects(ctx)
	require.NoError(t, err)
	require.Equal(t, []meta.Project{{Name: "p"}}, projects)
}

func TestUploadOrphanBlobReclaimed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	eng := newTestEngine(t, ctx, engine.Config{ObsoleteAge: time.Hour})
	defer ctx.Check(eng.Close)

	data := []byte("orphan")
	// An upload whose metadata step fails leaves the blob behind.
	err := eng.Upload(ctx, "bad name", "1.0", "f", bytes.NewReader(data), 2*time.Hour)
	require.Error(t, err)

	entries, err := os.ReadDir(ctx.Dir("datastore"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The next cleanup reclaims it: it is unreferenced and old.
	require.NoError(t, eng.Cleanup(ctx))
	entries, err = os.ReadDir(ctx.Dir("datastore"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

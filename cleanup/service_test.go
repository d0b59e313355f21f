// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package cleanup_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/errs2"
	"storj.io/common/testcontext"

	"github.com/marcv81/tempstore/blobstore/filestore"
	"github.com/marcv81/tempstore/cleanup"
	"github.com/marcv81/tempstore/engine"
	"github.com/marcv81/tempstore/metadb"
)

func TestServiceRunsCleanup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	blobs := filestore.New(log.Named("filestore"), ctx.Dir("datastore"), filestore.DefaultConfig)
	db := metadb.Open(log.Named("metadb"), ctx.Dir("database"))
	eng := engine.New(log.Named("engine"), blobs, db, engine.Config{ObsoleteAge: time.Hour})
	require.NoError(t, eng.Init(ctx))
	defer ctx.Check(eng.Close)

	require.NoError(t, eng.Upload(ctx, "p", "old", "f", bytes.NewReader([]byte("stale")), 2*time.Hour))

	service := cleanup.NewService(log.Named("cleanup"), eng, cleanup.Config{Interval: 10 * time.Millisecond})

	runCtx, cancel := context.WithCancel(ctx)
	ctx.Go(func() error {
		return errs2.IgnoreCanceled(service.Run(runCtx))
	})
	defer func() {
		cancel()
		ctx.Check(service.Close)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		versions, err := eng.ListVersions(ctx, "p")
		require.NoError(t, err)
		if len(versions) == 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "cleanup never pruned the obsolete version")
		time.Sleep(10 * time.Millisecond)
	}
}

// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package blobstore defines the contract for content-addressed storage
// of immutable byte sequences.
package blobstore

import (
	"context"
	"io"
	"time"

	"github.com/zeebo/errs"
)

// ErrNotFound is returned when a requested blob does not exist.
var ErrNotFound = errs.Class("blob not found")

// Blobs is a content-addressed blob store. A blob is named by the
// lowercase hex SHA-256 digest of its own content; equal content
// deduplicates automatically.
type Blobs interface {
	// Create stores the bytes read from r and returns their hex digest.
	// The digest is always computed from the bytes themselves; callers
	// cannot supply it. A non-zero age backdates the stored blob's
	// mtime and exists for tests exercising garbage collection.
	Create(ctx context.Context, r io.ReadSeeker, age time.Duration) (sha256 string, err error)

	// Open returns a reader over the blob named by sha256. The caller
	// is responsible for closing the reader. Absent blobs fail with
	// ErrNotFound.
	Open(ctx context.Context, sha256 string) (io.ReadCloser, error)

	// DeleteUnreferenced removes every blob whose digest is absent from
	// live, except blobs written more recently than the grace window.
	// live holds plain hex digests.
	DeleteUnreferenced(ctx context.Context, live map[string]struct{}) error

	// Init creates an empty store, destroying any previous contents.
	Init(ctx context.Context) error

	// Destroy removes the store and everything in it.
	Destroy() error
}

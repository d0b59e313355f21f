// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package filestore implements a content-addressed blob store on a
// single flat directory, one regular file per blob, filename equal to
// the blob's hex SHA-256 digest.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"

	"github.com/marcv81/tempstore/blobstore"
	"github.com/marcv81/tempstore/validate"
)

var (
	// Error is the default filestore error class.
	Error = errs.Class("filestore")

	mon = monkit.Package()

	_ blobstore.Blobs = (*Store)(nil)
)

// GraceWindow is how recently a blob must have been written for garbage
// collection to leave it alone regardless of references. It bridges the
// gap between a blob write and the commit of the file row referencing it.
const GraceWindow = 60 * time.Second

// Config is configuration for the blob store.
type Config struct {
	WriteBufferSize memory.Size
}

// DefaultConfig is the default value for Config.
var DefaultConfig = Config{
	WriteBufferSize: 128 * memory.KiB,
}

// Store stores blobs as files in a flat directory.
type Store struct {
	log    *zap.Logger
	dir    string
	config Config
}

// New creates a blob store rooted at dir. The directory is not touched
// until the first operation; Init creates it.
func New(log *zap.Logger, dir string, config Config) *Store {
	if config.WriteBufferSize.Int() < 4*memory.KiB.Int() {
		config.WriteBufferSize = DefaultConfig.WriteBufferSize
	}
	return &Store{
		log:    log,
		dir:    dir,
		config: config,
	}
}

// Init creates an empty store, destroying any previous contents.
func (store *Store) Init(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.Destroy(); err != nil {
		return err
	}
	return Error.Wrap(os.MkdirAll(store.dir, 0o755))
}

// Destroy removes the store directory and everything in it.
func (store *Store) Destroy() error {
	return Error.Wrap(os.RemoveAll(store.dir))
}

// Create stores the bytes read from r and returns their hex digest.
//
// The stream is hashed first, then rewound and written to a uniquely
// named sibling temp file which is fsynced and atomically renamed over
// the canonical name. Two concurrent writers of the same content race
// on the rename, but both temp files hold identical bytes so the last
// rename winning is indistinguishable from either. Readers observe the
// canonical name either absent or complete, never partial.
func (store *Store) Create(ctx context.Context, r io.ReadSeeker, age time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	sum, err := store.digest(r)
	if err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", Error.Wrap(err)
	}

	writer, err := newBlobWriter(store.dir, sum, store.config.WriteBufferSize.Int())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(writer, r); err != nil {
		return "", errs.Combine(Error.Wrap(err), writer.Cancel())
	}
	mtime := time.Now().Add(-age)
	if err := writer.Commit(mtime); err != nil {
		return "", err
	}

	store.log.Debug("blob written", zap.String("sha256", sum))
	return sum, nil
}

// Open returns a reader over the blob named by sum.
func (store *Store) Open(ctx context.Context, sum string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validate.SHA256(sum); err != nil {
		return nil, err
	}
	fh, err := os.Open(filepath.Join(store.dir, sum))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blobstore.ErrNotFound.New("%s", sum)
		}
		return nil, Error.Wrap(err)
	}
	return fh, nil
}

// DeleteUnreferenced removes every blob absent from live, skipping
// entries written within the grace window. Failures on individual
// entries are logged and do not abort the scan; a directory entry may
// disappear underneath us when a concurrent pass runs.
func (store *Store) DeleteUnreferenced(ctx context.Context, live map[string]struct{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		return Error.Wrap(err)
	}

	cutoff := time.Now().Add(-GraceWindow)
	var removed int
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			store.log.Warn("unable to stat blob", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		if info.ModTime().After(cutoff) {
			// may not be referenced yet
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(store.dir, entry.Name())); err != nil {
			store.log.Warn("unable to delete blob", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		store.log.Info("deleted unreferenced blobs", zap.Int("count", removed))
	}
	return nil
}

// digest hashes the whole stream without retaining it.
func (store *Store) digest(r io.Reader) (string, error) {
	hasher := sha256.New()
	buffer := make([]byte, store.config.WriteBufferSize.Int())
	if _, err := io.CopyBuffer(hasher, r, buffer); err != nil {
		return "", Error.Wrap(err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

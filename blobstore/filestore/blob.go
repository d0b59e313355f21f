// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package filestore

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
)

// blobWriter writes a blob to a uniquely named temp file next to its
// canonical location. Commit publishes it atomically; Cancel discards
// it. The temp name embeds the digest so leftovers from crashed writers
// are recognizable, and the random suffix keeps concurrent writers of
// the same content apart.
type blobWriter struct {
	fh     *os.File
	buffer *bufio.Writer
	final  string
	closed bool
}

func newBlobWriter(dir, sum string, bufferSize int) (*blobWriter, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, Error.Wrap(err)
	}
	temp := filepath.Join(dir, sum+"-"+hex.EncodeToString(suffix))

	// O_EXCL: fail if the temp name collides.
	fh, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &blobWriter{
		fh:     fh,
		buffer: bufio.NewWriterSize(fh, bufferSize),
		final:  filepath.Join(dir, sum),
	}, nil
}

// Write adds data to the blob.
func (blob *blobWriter) Write(p []byte) (int, error) {
	return blob.buffer.Write(p)
}

// Commit flushes and syncs the temp file, sets its mtime, and renames
// it over the canonical name. The rename replaces an existing blob of
// the same name without error.
func (blob *blobWriter) Commit(mtime time.Time) (err error) {
	if blob.closed {
		return Error.New("already closed")
	}
	blob.closed = true

	if err := blob.buffer.Flush(); err != nil {
		return errs.Combine(Error.Wrap(err), blob.discard())
	}
	if err := blob.fh.Sync(); err != nil {
		return errs.Combine(Error.Wrap(err), blob.discard())
	}
	if err := blob.fh.Close(); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(os.Remove(blob.fh.Name())))
	}
	if err := os.Chtimes(blob.fh.Name(), mtime, mtime); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(os.Remove(blob.fh.Name())))
	}
	if err := os.Rename(blob.fh.Name(), blob.final); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(os.Remove(blob.fh.Name())))
	}
	return nil
}

// Cancel discards the blob.
func (blob *blobWriter) Cancel() error {
	if blob.closed {
		return nil
	}
	blob.closed = true
	return blob.discard()
}

func (blob *blobWriter) discard() error {
	return Error.Wrap(errs.Combine(blob.fh.Close(), os.Remove(blob.fh.Name())))
}

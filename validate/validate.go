// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

// Package validate checks externally supplied identifiers before any
// storage I/O happens on their behalf.
package validate

import (
	"regexp"

	"github.com/zeebo/errs"
)

var (
	// ErrName is returned for malformed project, version, or file names.
	ErrName = errs.Class("invalid name")
	// ErrSHA256 is returned for malformed SHA-256 hex digests.
	ErrSHA256 = errs.Class("invalid SHA-256 hash")
	// ErrStarState is returned for star values other than the literals
	// "true" and "false".
	ErrStarState = errs.Class("invalid star state")

	nameRegexp   = regexp.MustCompile(`^[0-9a-zA-Z_.-]+$`)
	sha256Regexp = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Name checks that s is usable as a project, version, or file name.
// "." and ".." are rejected so a validated name can never traverse out
// of the directory it is joined to.
func Name(s string) error {
	if s == "." || s == ".." {
		return ErrName.New("%q", s)
	}
	if !nameRegexp.MatchString(s) {
		return ErrName.New("%q", s)
	}
	return nil
}

// SHA256 checks that s is a lowercase hex SHA-256 digest.
func SHA256(s string) error {
	if !sha256Regexp.MatchString(s) {
		return ErrSHA256.New("%q", s)
	}
	return nil
}

// StarState parses a star value arriving from an untyped boundary such
// as an HTML form or a URL. Only the exact literals "true" and "false"
// are accepted; truthy spellings like "1" or "yes" fail.
func StarState(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, ErrStarState.New("%q", s)
}

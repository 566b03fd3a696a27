// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fs holds the errors and small types shared by every layer of the compound file
// engine. Lower layers return these errors unchanged so callers can test them with errors.Is
// and errors.As no matter which layer detected the problem.
package fs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a path or name lookup did not match any entry.
	ErrNotFound = errors.New("cfb: entry not found")

	// ErrNotEmpty indicates an attempt to delete a storage which still has children.
	ErrNotEmpty = errors.New("cfb: storage not empty")

	// ErrExist indicates a sibling with the same (case-insensitive) name already exists.
	ErrExist = errors.New("cfb: entry already exists")

	// ErrInvalidName indicates a name which cannot be stored in a directory entry.
	ErrInvalidName = errors.New("cfb: invalid entry name")

	// ErrNotStorage indicates an operation which requires a storage was given a stream.
	ErrNotStorage = errors.New("cfb: not a storage")

	// ErrNotStream indicates an operation which requires a stream was given a storage.
	ErrNotStream = errors.New("cfb: not a stream")

	// ErrRoot indicates an operation which cannot be applied to the root entry.
	ErrRoot = errors.New("cfb: operation not permitted on the root entry")

	// ErrClosed indicates the container (or a stream belonging to it) was already closed.
	ErrClosed = errors.New("cfb: container closed")

	// ErrBusy indicates the container is in the middle of a save.
	ErrBusy = errors.New("cfb: container is being saved")

	// ErrInvalidArgs indicates a negative offset, size or an unknown whence value.
	ErrInvalidArgs = errors.New("cfb: invalid argument")

	// ErrCorruptHeader is the sentinel wrapped by every CorruptHeaderError.
	ErrCorruptHeader = errors.New("cfb: corrupt header")

	// ErrCorruptChain is the sentinel wrapped by every CorruptChainError.
	ErrCorruptChain = errors.New("cfb: corrupt allocation chain")

	// ErrCorruptDirectory is the sentinel wrapped by every CorruptDirectoryError.
	ErrCorruptDirectory = errors.New("cfb: corrupt directory")

	// ErrUnsupportedVersion is the sentinel wrapped by every UnsupportedVersionError.
	ErrUnsupportedVersion = errors.New("cfb: unsupported version")
)

// CorruptHeaderError reports a header which failed validation. It is always fatal to Open.
type CorruptHeaderError struct {
	Field  string
	Reason string
}

func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("cfb: corrupt header: %s: %s", e.Field, e.Reason)
}

func (e *CorruptHeaderError) Unwrap() error { return ErrCorruptHeader }

// UnsupportedVersionError reports a major version or sector shift outside the supported set.
type UnsupportedVersionError struct {
	MajorVersion uint16
	SectorShift  uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("cfb: unsupported version %d with sector shift %d", e.MajorVersion, e.SectorShift)
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// CorruptChainError reports an allocation chain which cannot be followed: a cycle, a sector id
// outside the table, a sentinel in the middle of a chain, or a chain shorter than the length
// declared by its directory entry.
type CorruptChainError struct {
	Table  string // "FAT" or "MiniFAT"
	Head   uint32 // First sector of the chain
	Sector uint32 // Sector at which the problem was detected
	Reason string
}

func (e *CorruptChainError) Error() string {
	return fmt.Sprintf("cfb: corrupt %s chain starting at %#x: sector %#x: %s", e.Table, e.Head, e.Sector, e.Reason)
}

func (e *CorruptChainError) Unwrap() error { return ErrCorruptChain }

// CorruptDirectoryError reports a directory entry or sibling tree which cannot be loaded.
type CorruptDirectoryError struct {
	Entry  uint32
	Reason string
}

func (e *CorruptDirectoryError) Error() string {
	return fmt.Sprintf("cfb: corrupt directory entry %d: %s", e.Entry, e.Reason)
}

func (e *CorruptDirectoryError) Unwrap() error { return ErrCorruptDirectory }

// PathError records an error and the operation and path that caused it. Err is usually one of
// ErrNotFound, ErrNotEmpty, ErrExist, ErrInvalidName, ErrNotStorage, ErrNotStream or ErrRoot; a
// stream damaged on disk reports its CorruptChainError.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

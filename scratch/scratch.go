// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scratch writes files atomically: data goes to a scratch file which replaces the
// destination only once it is complete and synced.
package scratch

import (
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// File is a scratch file being written.
type File interface {
	io.Writer
	Name() string
	Sync() error
	Close() error
}

// Factory creates scratch files and moves them into place.
type Factory interface {
	// Create returns a new scratch file which will later be renamed to dst.
	Create(dst string) (File, error)
	// Rename atomically replaces dst with the scratch file at name.
	Rename(name, dst string) error
	// Remove deletes an abandoned scratch file.
	Remove(name string) error
}

// Dir is a Factory placing scratch files in a directory of the local filesystem. The empty Dir
// uses the destination's directory, which keeps the final rename on one filesystem.
type Dir string

// Create implements Factory.Create for Dir.
func (d Dir) Create(dst string) (File, error) {
	dir := string(d)
	if dir == "" {
		dir = filepath.Dir(dst)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "creating scratch file")
	}
	return f, nil
}

// Rename implements Factory.Rename for Dir.
func (Dir) Rename(name, dst string) error {
	return os.Rename(name, dst)
}

// Remove implements Factory.Remove for Dir.
func (Dir) Remove(name string) error {
	return os.Remove(name)
}

// Commit writes dst through a scratch file from f. write receives the scratch file. If any step
// fails, dst is left untouched and the scratch file is removed.
func Commit(f Factory, dst string, write func(w io.Writer) error) (err error) {
	file, err := f.Create(dst)
	if err != nil {
		return err
	}
	name := file.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			err = multierr.Append(err, file.Close())
		}
		err = multierr.Append(err, f.Remove(name))
		glog.Warningf("scratch: abandoned %s: %v", name, err)
	}()

	if err := write(file); err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := file.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", name)
	}
	closed = true
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", name)
	}
	if err := f.Rename(name, dst); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", name, dst)
	}
	glog.V(1).Infof("scratch: committed %s", dst)
	return nil
}

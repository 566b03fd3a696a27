// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cfb

import (
	"fmt"
	"sort"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"go.fuchsia.dev/cfb/bitmap"
	"go.fuchsia.dev/cfb/directory"
	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/stream"
)

// usage records which sectors the audited chains claimed.
type usage struct {
	regular *bitmap.Bitmap
	mini    *bitmap.Bitmap
}

// audit follows the chain of every stream not already known to be damaged and returns the
// problems found, keyed by entry. A chain is damaged when it cannot be followed, when it is too
// short for the stream's size, or when it shares a sector with a chain visited earlier.
func (f *File) audit() (map[directory.ID]error, usage) {
	u := usage{
		regular: bitmap.New(uint32(f.regular.NumSectors())),
		mini:    bitmap.New(uint32(f.mini.Table().Len())),
	}
	if start, size := f.tree.Data(directory.RootID); size > 0 {
		// ministream.New has already checked the root chain.
		chain, _ := f.regular.Collect(start)
		for _, id := range chain {
			u.regular.Set(id)
		}
	}

	problems := map[directory.ID]error{}
	// Walk fails only for an unknown start entry, and the callback never returns an error.
	_ = f.tree.Walk(directory.RootID, func(id directory.ID, _ string) error {
		if f.tree.Type(id) != fs.TypeStream {
			return nil
		}
		if _, ok := f.damaged[id]; ok {
			return nil
		}
		start, size := f.tree.Data(id)
		if size == 0 {
			return nil
		}
		var store stream.Store = f.regular
		owned := u.regular
		if int64(size) < f.stores().Cutoff {
			store, owned = f.mini, u.mini
		}
		if err := claim(store, owned, start, int64(size)); err != nil {
			problems[id] = err
		}
		return nil
	})
	return problems, u
}

func claim(store stream.Store, owned *bitmap.Bitmap, start uint32, size int64) error {
	if size < 0 {
		return &fs.CorruptChainError{Table: store.Name(), Head: start, Sector: start, Reason: "stream size out of range"}
	}
	chain, err := store.Collect(start)
	if err != nil {
		return err
	}
	ss := store.SectorSize()
	if need := (size + ss - 1) / ss; int64(len(chain)) < need {
		return &fs.CorruptChainError{
			Table:  store.Name(),
			Head:   start,
			Sector: fat.EndOfChain,
			Reason: fmt.Sprintf("chain holds %d sectors, stream of %d bytes needs %d", len(chain), size, need),
		}
	}
	for _, id := range chain {
		if owned.TestAndSet(id) {
			return &fs.CorruptChainError{
				Table:  store.Name(),
				Head:   start,
				Sector: id,
				Reason: "sector belongs to another stream",
			}
		}
	}
	return nil
}

// Check verifies that every stream's chain can be followed and that no two streams share a
// sector. It returns nil for a consistent container, or every problem found, combined with
// multierr. Problems recorded by a lenient Open are included. Sectors marked in use but owned
// by no stream are logged, not reported.
func (f *File) Check() error {
	if err := f.usable(false); err != nil {
		return err
	}
	problems, u := f.audit()
	for id, err := range f.damaged {
		problems[id] = err
	}
	ids := make([]directory.ID, 0, len(problems))
	for id := range problems {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var err error
	for _, id := range ids {
		err = multierr.Append(err, pathErr("check", f.tree.Path(id), problems[id]))
	}

	inUse := f.regular.NumSectors() - f.regular.FreeSectors()
	if leaked := inUse - int(u.regular.Count()); leaked > 0 && len(problems) == 0 {
		glog.Warningf("cfb: %d sectors are in use but belong to no stream", leaked)
	}
	miniInUse := f.mini.Table().Len() - f.mini.Table().FreeCount()
	if leaked := miniInUse - int(u.mini.Count()); leaked > 0 && len(problems) == 0 {
		glog.Warningf("cfb: %d mini sectors are in use but belong to no stream", leaked)
	}
	return err
}

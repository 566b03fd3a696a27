// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cfb

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/directory"
	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
	"go.fuchsia.dev/cfb/ministream"
	"go.fuchsia.dev/cfb/sector"
)

// OpenFile reads the compound file at path.
func OpenFile(path string, opts *Options) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading compound file")
	}
	return OpenBytes(data, opts)
}

// OpenBytes parses a compound file held in memory. The container keeps its own copy of the
// sectors; data may be reused once OpenBytes returns.
func OpenBytes(data []byte, opts *Options) (*File, error) {
	return Open(bytes.NewReader(data), int64(len(data)), opts)
}

// Open reads size bytes of a compound file from r and loads them. Options.Version is ignored;
// the container keeps the version recorded in its header.
//
// Header, table and directory damage always fails Open. Damaged stream chains fail it too,
// unless Options.Lenient is set.
func Open(r io.ReaderAt, size int64, opts *Options) (*File, error) {
	if size < 0 {
		return nil, errors.Wrapf(fs.ErrInvalidArgs, "compound file size %d", size)
	}
	o := opts.withDefaults()
	h, err := header.Read(r)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("cfb: opening %s container of %s", h.MajorVersion, humanize.IBytes(uint64(size)))

	buf := make([]byte, size)
	if n, err := r.ReadAt(buf, 0); int64(n) < size && err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading compound file")
	}
	ss := h.SectorSize()
	var body []byte
	if int64(len(buf)) > ss {
		body = buf[ss:]
	}
	pool, err := sector.LoadPool(body, ss)
	if err != nil {
		return nil, err
	}
	numSectors := uint32(pool.Len())

	fatSectors, difatSectors, err := fat.Locators(h.DIFAT[:], h.FirstDIFATSector, h.NumDIFATSectors, h.NumFATSectors, numSectors, ss, pool.Sector)
	if err != nil {
		return nil, errors.Wrap(err, "locating FAT sectors")
	}
	fatData, err := gather(pool, fatSectors)
	if err != nil {
		return nil, err
	}
	table := fat.Decode("FAT", fatData)
	trimTable(table, int(numSectors))

	dirChain, err := table.Chain(h.FirstDirSector)
	if err != nil {
		return nil, errors.Wrap(err, "reading directory chain")
	}
	dirData, err := gather(pool, dirChain)
	if err != nil {
		return nil, err
	}
	entries, err := directory.Decode(dirData, h.MajorVersion)
	if err != nil {
		return nil, err
	}
	tree, err := directory.Load(entries)
	if err != nil {
		return nil, err
	}

	miniTable := fat.New("MiniFAT", nil)
	var miniChain []uint32
	if h.NumMiniFATSectors > 0 {
		if miniChain, err = table.Chain(h.FirstMiniFATSector); err != nil {
			return nil, errors.Wrap(err, "reading Mini-FAT chain")
		}
		if len(miniChain) != int(h.NumMiniFATSectors) {
			glog.Warningf("cfb: Mini-FAT chain holds %d sectors, header declares %d", len(miniChain), h.NumMiniFATSectors)
		}
		miniData, err := gather(pool, miniChain)
		if err != nil {
			return nil, err
		}
		miniTable = fat.Decode("MiniFAT", miniData)
	}

	// The tables and the directory are laid out again on save, so their sectors become free.
	for _, ids := range [][]uint32{fatSectors, difatSectors, dirChain, miniChain} {
		for _, id := range ids {
			if err := table.Release(id); err != nil {
				glog.Warningf("cfb: cannot release table sector %#x: %v", id, err)
			}
		}
	}

	f := &File{
		opts:    o,
		version: h.MajorVersion,
		tree:    tree,
		regular: sector.NewManager(table, pool),
		damaged: map[directory.ID]error{},
		handles: map[directory.ID][]*handle{},
	}
	if f.mini, err = ministream.New(miniTable, f.regular, entryRef{tree, directory.RootID}); err != nil {
		return nil, errors.Wrap(err, "loading mini stream")
	}

	problems, _ := f.audit()
	if len(problems) > 0 {
		ids := make([]directory.ID, 0, len(problems))
		for id := range problems {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if !o.Lenient {
			return nil, pathErr("open", tree.Path(ids[0]), problems[ids[0]])
		}
		for _, id := range ids {
			glog.Warningf("cfb: stream %q is damaged: %v", tree.Path(id), problems[id])
			f.damaged[id] = problems[id]
		}
	}
	glog.V(1).Infof("cfb: opened container with %d entries in %d sectors", tree.Len(), f.regular.NumSectors())
	return f, nil
}

// gather concatenates the contents of the given sectors.
func gather(pool *sector.Pool, ids []uint32) ([]byte, error) {
	out := make([]byte, 0, int64(len(ids))*pool.SectorSize())
	for _, id := range ids {
		b, err := pool.Sector(id)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// trimTable cuts the table down to the sectors the file actually holds. Free entries past the
// end are padding from the last FAT sector; entries in use there are dropped too, so any chain
// reaching them fails with a *fs.CorruptChainError instead of reading zeros.
func trimTable(table *fat.Table, numSectors int) {
	if dropped := table.Len() - numSectors - countFree(table, numSectors); dropped > 0 {
		glog.Warningf("cfb: FAT marks %d sectors past the end of the file in use", dropped)
	}
	table.Truncate(numSectors)
}

// countFree returns the number of free entries at or past id from.
func countFree(table *fat.Table, from int) int {
	n := 0
	for id := from; id < table.Len(); id++ {
		if table.IsFree(uint32(id)) {
			n++
		}
	}
	return n
}

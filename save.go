// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cfb

import (
	"bytes"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.fuchsia.dev/cfb/directory"
	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
	"go.fuchsia.dev/cfb/ministream"
	"go.fuchsia.dev/cfb/scratch"
)

// Save writes the container to w with a single Write. Until Save returns, writes to the
// container and its streams fail with fs.ErrBusy.
func (f *File) Save(w io.Writer) error {
	if err := f.beginSave(); err != nil {
		return err
	}
	defer f.endSave()
	img, err := f.image()
	if err != nil {
		return err
	}
	if _, err := w.Write(img); err != nil {
		return errors.Wrap(err, "writing compound file")
	}
	return nil
}

// SaveFile writes the container to path through a scratch file which replaces path only once it
// is complete. A nil factory creates the scratch file next to path. On failure path is left as
// it was and the scratch file is removed.
func (f *File) SaveFile(path string, factory scratch.Factory) error {
	if factory == nil {
		factory = scratch.Dir("")
	}
	if err := f.beginSave(); err != nil {
		return err
	}
	defer f.endSave()
	img, err := f.image()
	if err != nil {
		return err
	}
	return scratch.Commit(factory, path, func(w io.Writer) error {
		_, err := w.Write(img)
		return err
	})
}

// Bytes returns the serialized container.
func (f *File) Bytes() ([]byte, error) {
	if err := f.beginSave(); err != nil {
		return nil, err
	}
	defer f.endSave()
	return f.image()
}

func (f *File) beginSave() error {
	if err := f.usable(true); err != nil {
		return err
	}
	f.state = stateSaving
	return nil
}

func (f *File) endSave() {
	f.state = stateOpen
}

// image lays the container out from scratch: the mini stream, then the regular streams in
// directory order, then the directory, the Mini-FAT, the FAT and the DIFAT. Free sectors are not
// carried over. A container holding damaged streams cannot be saved.
func (f *File) image() ([]byte, error) {
	if len(f.damaged) > 0 {
		return nil, errors.Wrap(f.damageErr(), "cannot save container with damaged streams")
	}
	img, err := f.build()
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("cfb: built %s image of %s", f.version, humanize.IBytes(uint64(len(img))))
	return img, nil
}

func (f *File) damageErr() error {
	ids := make([]directory.ID, 0, len(f.damaged))
	for id := range f.damaged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var err error
	for _, id := range ids {
		err = multierr.Append(err, pathErr("save", f.tree.Path(id), f.damaged[id]))
	}
	return err
}

// layout accumulates sectors and the table linking them.
type layout struct {
	sectorSize int
	table      []uint32
	data       bytes.Buffer
}

// add appends data as a new chain, padding its last sector with zeros, and returns the chain's
// first sector. Empty data has no chain.
func (l *layout) add(data []byte) uint32 {
	n := (len(data) + l.sectorSize - 1) / l.sectorSize
	if n == 0 {
		return fat.EndOfChain
	}
	start := uint32(len(l.table))
	for i := 1; i < n; i++ {
		l.table = append(l.table, start+uint32(i))
	}
	l.table = append(l.table, fat.EndOfChain)
	l.data.Write(data)
	if pad := n*l.sectorSize - len(data); pad > 0 {
		l.data.Write(make([]byte, pad))
	}
	return start
}

// reserve appends n sectors marked with mark and returns their ids.
func (l *layout) reserve(n int, mark uint32) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(len(l.table))
		l.table = append(l.table, mark)
	}
	return ids
}

func (f *File) build() ([]byte, error) {
	ss := f.regular.SectorSize()
	entries, order := f.tree.Flatten()

	mini := &layout{sectorSize: ministream.SectorSize}
	regular := &layout{sectorSize: int(ss)}
	for pass := 0; pass < 2; pass++ {
		for i, id := range order {
			e := &entries[i]
			if e.Type != fs.TypeStream {
				continue
			}
			small := int64(e.StreamSize) < header.MiniStreamCutoff
			if e.StreamSize == 0 {
				e.StartSector = fat.EndOfChain
				continue
			}
			if small != (pass == 0) {
				continue
			}
			data, err := f.readStream(id)
			if err != nil {
				return nil, errors.Wrapf(err, "reading %q", f.tree.Path(id))
			}
			if small {
				e.StartSector = mini.add(data)
			} else {
				e.StartSector = regular.add(data)
			}
		}
		if pass == 0 {
			// The mini stream comes first among the regular sectors.
			entries[0].StreamSize = uint64(mini.data.Len())
			entries[0].StartSector = regular.add(mini.data.Bytes())
		}
	}

	h, err := header.New(f.version)
	if err != nil {
		return nil, err
	}

	dir, err := directory.Encode(entries, ss)
	if err != nil {
		return nil, err
	}
	h.FirstDirSector = regular.add(dir)
	if f.version == header.V4 {
		h.NumDirSectors = uint32(int64(len(dir)) / ss)
	}

	if len(mini.table) > 0 {
		miniFAT := fat.EncodeEntries(mini.table, ss)
		h.FirstMiniFATSector = regular.add(miniFAT)
		h.NumMiniFATSectors = uint32(int64(len(miniFAT)) / ss)
	}

	numFAT, numDIFAT := fat.Plan(len(regular.table), ss)
	fatSectors := regular.reserve(numFAT, fat.FatSect)
	difatSectors := regular.reserve(numDIFAT, fat.DifSect)
	inline, difat := fat.SpreadLocators(fatSectors, difatSectors, ss)
	h.NumFATSectors = uint32(numFAT)
	h.DIFAT = inline
	if numDIFAT > 0 {
		h.FirstDIFATSector = difatSectors[0]
		h.NumDIFATSectors = uint32(numDIFAT)
	}

	hdr, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	img := make([]byte, 0, ss*int64(1+len(regular.table)))
	img = append(img, hdr...)
	img = append(img, make([]byte, ss-int64(len(hdr)))...)
	img = append(img, regular.data.Bytes()...)
	img = append(img, fat.EncodeEntries(regular.table, ss)...)
	img = append(img, difat...)
	glog.V(2).Infof("cfb: layout: %d sectors, %d FAT, %d DIFAT, %d mini sectors", len(regular.table), numFAT, numDIFAT, len(mini.table))
	return img, nil
}

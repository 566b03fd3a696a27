// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ministream manages the mini sectors which hold small streams.
//
// Mini sectors are 64-byte slots inside the mini stream, the regular-sector chain owned by the
// root directory entry. Resolving a mini sector takes two steps: the mini sector id gives a byte
// offset in the mini stream, and the root entry's chain maps that offset to a regular sector.
package ministream

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
)

// SectorSize is the size of a mini sector, in bytes.
const SectorSize = 64

// Root describes the directory entry which owns the mini stream.
type Root interface {
	Start() uint32
	Size() int64
	SetData(start uint32, size int64)
}

// Regular is the regular sector store the mini stream lives in.
type Regular interface {
	SectorSize() int64
	Collect(head uint32) ([]uint32, error)
	Resize(head uint32, n int) (uint32, error)
	Sector(id uint32) ([]byte, error)
}

// Manager allocates mini sectors through the Mini-FAT. The size of the root entry's stream
// always equals the length of the Mini-FAT times SectorSize.
type Manager struct {
	table   *fat.Table
	regular Regular
	root    Root

	chain []uint32 // Cached chain of the mini stream; nil when stale
}

// New binds the Mini-FAT to the mini stream. Entries of the table which lie beyond the end of
// the mini stream are dropped. The mini stream's chain must cover its declared size.
func New(table *fat.Table, regular Regular, root Root) (*Manager, error) {
	if regular.SectorSize()%SectorSize != 0 {
		return nil, errors.Errorf("ministream: sector size %d is not a multiple of %d", regular.SectorSize(), SectorSize)
	}
	m := &Manager{
		table:   table,
		regular: regular,
		root:    root,
	}

	size := root.Size()
	start := root.Start()
	if size == 0 {
		start = fat.EndOfChain
	}
	chain, err := regular.Collect(start)
	if err != nil {
		return nil, err
	}
	if avail := int64(len(chain)) * regular.SectorSize(); avail < size {
		return nil, &fs.CorruptChainError{
			Table:  "FAT",
			Head:   start,
			Sector: fat.EndOfChain,
			Reason: fmt.Sprintf("mini stream chain holds %d bytes, root entry declares %d", avail, size),
		}
	}

	if n := int((size + SectorSize - 1) / SectorSize); table.Len() > n {
		glog.Warningf("ministream: dropping %d Mini-FAT entries past the end of the mini stream", table.Len()-n)
		table.Truncate(n)
	}
	size = int64(table.Len()) * SectorSize
	ss := regular.SectorSize()
	if need := int((size + ss - 1) / ss); need < len(chain) {
		if start, err = regular.Resize(start, need); err != nil {
			return nil, err
		}
		chain = chain[:need]
	}
	root.SetData(start, size)
	m.chain = chain
	return m, nil
}

// Name returns the name of the underlying table.
func (m *Manager) Name() string {
	return m.table.Name()
}

// Table returns the Mini-FAT.
func (m *Manager) Table() *fat.Table {
	return m.table
}

// SectorSize returns the size of a mini sector.
func (m *Manager) SectorSize() int64 {
	return SectorSize
}

// Collect returns the mini sectors of the chain starting at head.
func (m *Manager) Collect(head uint32) ([]uint32, error) {
	return m.table.Chain(head)
}

// Sector returns the contents of a mini sector. The returned slice aliases the regular sector
// which holds it.
func (m *Manager) Sector(id uint32) ([]byte, error) {
	if int64(id) >= int64(m.table.Len()) {
		return nil, &fs.CorruptChainError{Table: m.table.Name(), Head: id, Sector: id, Reason: "sector id out of range"}
	}
	chain, err := m.rootChain()
	if err != nil {
		return nil, err
	}
	off := int64(id) * SectorSize
	ss := m.regular.SectorSize()
	idx := off / ss
	if idx >= int64(len(chain)) {
		return nil, &fs.CorruptChainError{Table: "FAT", Head: m.root.Start(), Sector: fat.EndOfChain, Reason: "mini stream is shorter than the Mini-FAT"}
	}
	buf, err := m.regular.Sector(chain[idx])
	if err != nil {
		return nil, err
	}
	off %= ss
	return buf[off : off+SectorSize], nil
}

// Resize grows or shrinks the chain starting at head to n mini sectors and returns its new head.
// The mini stream grows to cover any new Mini-FAT entries; it never shrinks.
func (m *Manager) Resize(head uint32, n int) (uint32, error) {
	old, err := m.table.Chain(head)
	if err != nil {
		return 0, err
	}
	head, err = m.table.Resize(head, n)
	if err != nil {
		return 0, err
	}
	if err := m.growRoot(); err != nil {
		return 0, err
	}
	if n <= len(old) {
		return head, nil
	}
	chain, err := m.table.Chain(head)
	if err != nil {
		return 0, err
	}
	for _, id := range chain[len(old):] {
		buf, err := m.Sector(id)
		if err != nil {
			return 0, err
		}
		for i := range buf {
			buf[i] = 0
		}
	}
	return head, nil
}

// Free releases the chain starting at head.
func (m *Manager) Free(head uint32) error {
	return m.table.Free(head)
}

// growRoot extends the mini stream to cover every Mini-FAT entry.
func (m *Manager) growRoot() error {
	size := int64(m.table.Len()) * SectorSize
	if size == m.root.Size() {
		return nil
	}
	ss := m.regular.SectorSize()
	start := m.root.Start()
	if m.root.Size() == 0 {
		start = fat.EndOfChain
	}
	start, err := m.regular.Resize(start, int((size+ss-1)/ss))
	if err != nil {
		return err
	}
	glog.V(2).Infof("ministream: mini stream grows to %d bytes", size)
	m.root.SetData(start, size)
	m.chain = nil
	return nil
}

func (m *Manager) rootChain() ([]uint32, error) {
	if m.chain != nil {
		return m.chain, nil
	}
	chain, err := m.regular.Collect(m.root.Start())
	if err != nil {
		return nil, err
	}
	m.chain = chain
	return chain, nil
}

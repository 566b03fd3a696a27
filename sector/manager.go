// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sector

import (
	"github.com/golang/glog"

	"go.fuchsia.dev/cfb/fat"
)

// Manager allocates regular sectors through a FAT and keeps their contents in a Pool. The pool
// always holds exactly one sector per table entry.
//
// Sectors handed out by Resize are zeroed, so a reader never sees the old contents of a sector
// which was freed and reused.
type Manager struct {
	table *fat.Table
	pool  *Pool
}

// NewManager binds a table to the pool holding its sectors. The pool is resized to the table's
// length: sectors past the end of the table are unreachable and dropped.
func NewManager(table *fat.Table, pool *Pool) *Manager {
	if pool.Len() != table.Len() {
		glog.V(1).Infof("sector: file holds %d sectors, FAT describes %d", pool.Len(), table.Len())
	}
	m := &Manager{
		table: table,
		pool:  pool,
	}
	m.sync()
	return m
}

// Name returns the name of the underlying table.
func (m *Manager) Name() string {
	return m.table.Name()
}

// Table returns the FAT.
func (m *Manager) Table() *fat.Table {
	return m.table
}

// SectorSize returns the size of a regular sector.
func (m *Manager) SectorSize() int64 {
	return m.pool.SectorSize()
}

// NumSectors returns the number of sectors addressed by the FAT, in use or free.
func (m *Manager) NumSectors() int {
	return m.table.Len()
}

// FreeSectors returns the number of free sectors.
func (m *Manager) FreeSectors() int {
	return m.table.FreeCount()
}

// Collect returns the sectors of the chain starting at head.
func (m *Manager) Collect(head uint32) ([]uint32, error) {
	return m.table.Chain(head)
}

// Sector returns the contents of a sector. Writes to the returned slice modify the sector.
func (m *Manager) Sector(id uint32) ([]byte, error) {
	return m.pool.Sector(id)
}

// Resize grows or shrinks the chain starting at head to n sectors and returns its new head.
func (m *Manager) Resize(head uint32, n int) (uint32, error) {
	old, err := m.table.Chain(head)
	if err != nil {
		return 0, err
	}
	head, err = m.table.Resize(head, n)
	if err != nil {
		return 0, err
	}
	m.sync()
	if n <= len(old) {
		return head, nil
	}
	chain, err := m.table.Chain(head)
	if err != nil {
		return 0, err
	}
	for _, id := range chain[len(old):] {
		if err := m.pool.Zero(id); err != nil {
			return 0, err
		}
	}
	return head, nil
}

// Free releases the chain starting at head.
func (m *Manager) Free(head uint32) error {
	return m.table.Free(head)
}

func (m *Manager) sync() {
	m.pool.Resize(m.table.Len())
}

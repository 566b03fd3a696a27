// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fat contains the allocation tables used by compound files.
//
// The same Table type backs both the File Allocation Table (regular sectors) and the Mini-FAT
// (mini-sectors inside the root entry's stream). A table is a flat array mapping a sector id to
// the id of the next sector in its chain, or to one of the sentinel values below.
//
// Tables are NOT thread-safe; the layer above is expected to serialize writers.
package fat

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"go.fuchsia.dev/cfb/bitmap"
	"go.fuchsia.dev/cfb/fs"
)

// Sector id sentinels. Every id up to and including MaxRegSect names a real sector.
const (
	MaxRegSect uint32 = 0xFFFFFFFA
	DifSect    uint32 = 0xFFFFFFFC // Sector holds part of the DIFAT
	FatSect    uint32 = 0xFFFFFFFD // Sector holds part of the FAT
	EndOfChain uint32 = 0xFFFFFFFE
	FreeSect   uint32 = 0xFFFFFFFF
)

// ErrTableFull indicates the table cannot address any more sectors.
var ErrTableFull = errors.New("fat: no more sector ids can be allocated")

// Table holds an allocation table.
type Table struct {
	name     string   // "FAT" or "MiniFAT"; only used in errors and logs
	entries  []uint32 // entries[id] is the sector following id, or a sentinel
	free     int      // Number of FreeSect entries
	nextFree uint32   // No entry below this index is free
}

// New returns a table which takes ownership of entries.
func New(name string, entries []uint32) *Table {
	t := &Table{
		name:    name,
		entries: entries,
	}
	t.nextFree = uint32(len(entries))
	for i, e := range entries {
		if e == FreeSect {
			t.free++
			if uint32(i) < t.nextFree {
				t.nextFree = uint32(i)
			}
		}
	}
	return t
}

// Name returns the name used for this table in errors.
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of entries in the table, which is the number of addressable sectors.
func (t *Table) Len() int {
	return len(t.entries)
}

// FreeCount returns the number of free entries.
func (t *Table) FreeCount() int {
	return t.free
}

// Entries returns a copy of the raw table.
func (t *Table) Entries() []uint32 {
	out := make([]uint32, len(t.entries))
	copy(out, t.entries)
	return out
}

// IsFree describes if the entry at id is marked "free sector".
func (t *Table) IsFree(id uint32) bool {
	return id < uint32(len(t.entries)) && t.entries[id] == FreeSect
}

// Next gets the value of a sector's entry: the following sector or a sentinel.
// Returns an error if accessing an out-of-bounds sector.
func (t *Table) Next(id uint32) (uint32, error) {
	if id >= uint32(len(t.entries)) {
		return 0, t.chainErr(id, id, "sector id out of range")
	}
	return t.entries[id], nil
}

// Set sets the value of a sector's entry.
//
// Returns an error if accessing an out-of-bounds sector, or setting a sector to point to itself.
func (t *Table) Set(id, value uint32) error {
	if id >= uint32(len(t.entries)) {
		return t.chainErr(id, id, "sector id out of range")
	} else if value == id {
		// A sector cannot point to itself; this creates a loop.
		return t.chainErr(id, id, "sector points to itself")
	}
	t.set(id, value)
	return nil
}

// set updates an entry and the free bookkeeping without any validation.
func (t *Table) set(id, value uint32) {
	wasFree := t.entries[id] == FreeSect
	isFree := value == FreeSect
	t.entries[id] = value
	if wasFree && !isFree {
		t.free--
	} else if !wasFree && isFree {
		t.free++
		if id < t.nextFree {
			t.nextFree = id
		}
	}
}

// Chain returns every sector of the chain starting at head, in order. A head of EndOfChain is
// the empty chain.
//
// The walk never loops: revisiting a sector, leaving the table, or meeting any sentinel other
// than EndOfChain is reported as a *fs.CorruptChainError.
func (t *Table) Chain(head uint32) ([]uint32, error) {
	if head == EndOfChain {
		return nil, nil
	}
	var chain []uint32
	visited := bitmap.New(uint32(len(t.entries)))
	for cur := head; cur != EndOfChain; cur = t.entries[cur] {
		switch {
		case cur > MaxRegSect:
			return nil, t.chainErr(head, cur, fmt.Sprintf("unexpected %s in chain", sentinelName(cur)))
		case cur >= uint32(len(t.entries)):
			return nil, t.chainErr(head, cur, "sector id out of range")
		case visited.TestAndSet(cur):
			return nil, t.chainErr(head, cur, "cycle detected")
		}
		chain = append(chain, cur)
	}
	return chain, nil
}

// Allocate claims n sectors and links them into a new chain, returning its head. A request for
// zero sectors returns EndOfChain.
//
// Free entries are reused first, lowest id first. New entries are appended to the end of the
// table only once no free entry remains.
func (t *Table) Allocate(n int) (uint32, error) {
	if n < 0 {
		return 0, fs.ErrInvalidArgs
	} else if n == 0 {
		return EndOfChain, nil
	}
	grow := n - t.free
	if grow > 0 && uint64(len(t.entries))+uint64(grow) > uint64(MaxRegSect)+1 {
		return 0, ErrTableFull
	}

	ids := make([]uint32, 0, n)
	for i := t.nextFree; i < uint32(len(t.entries)) && len(ids) < n; i++ {
		if t.entries[i] == FreeSect {
			ids = append(ids, i)
		}
	}
	for len(ids) < n {
		t.entries = append(t.entries, FreeSect)
		t.free++
		ids = append(ids, uint32(len(t.entries)-1))
	}
	for k, id := range ids {
		next := EndOfChain
		if k+1 < len(ids) {
			next = ids[k+1]
		}
		t.set(id, next)
	}
	t.advanceNextFree()
	glog.V(2).Infof("%s: allocated %d sectors from %#x (%d free, %d total)", t.name, n, ids[0], t.free, len(t.entries))
	return ids[0], nil
}

// Extend appends n newly allocated sectors to the chain starting at head and returns the
// (possibly new) head of the chain.
func (t *Table) Extend(head uint32, n int) (uint32, error) {
	if n == 0 {
		return head, nil
	}
	chain, err := t.Chain(head)
	if err != nil {
		return 0, err
	}
	return t.extend(head, chain, n)
}

func (t *Table) extend(head uint32, chain []uint32, n int) (uint32, error) {
	first, err := t.Allocate(n)
	if err != nil {
		return 0, err
	}
	if len(chain) == 0 {
		return first, nil
	}
	t.set(chain[len(chain)-1], first)
	return head, nil
}

// Resize grows or shrinks the chain starting at head to exactly n sectors and returns the
// (possibly new) head. Shrinking to zero frees the chain and returns EndOfChain.
func (t *Table) Resize(head uint32, n int) (uint32, error) {
	if n < 0 {
		return 0, fs.ErrInvalidArgs
	}
	chain, err := t.Chain(head)
	if err != nil {
		return 0, err
	}
	switch {
	case n == len(chain):
		return head, nil
	case n > len(chain):
		return t.extend(head, chain, n-len(chain))
	case n == 0:
		t.release(chain)
		return EndOfChain, nil
	default:
		t.set(chain[n-1], EndOfChain)
		t.release(chain[n:])
		return head, nil
	}
}

// Free returns every sector of the chain starting at head to the free list.
func (t *Table) Free(head uint32) error {
	chain, err := t.Chain(head)
	if err != nil {
		return err
	}
	t.release(chain)
	return nil
}

func (t *Table) release(ids []uint32) {
	for _, id := range ids {
		t.set(id, FreeSect)
	}
	if len(ids) > 0 {
		glog.V(2).Infof("%s: freed %d sectors from %#x (%d free, %d total)", t.name, len(ids), ids[0], t.free, len(t.entries))
	}
}

// Truncate drops every entry at or beyond n. Any chain which still refers to a dropped entry
// becomes corrupt, which Chain reports as an out of range sector.
func (t *Table) Truncate(n int) {
	if n >= len(t.entries) {
		return
	}
	for _, e := range t.entries[n:] {
		if e == FreeSect {
			t.free--
		}
	}
	t.entries = t.entries[:n]
	if t.nextFree > uint32(n) {
		t.nextFree = uint32(n)
	}
	t.advanceNextFree()
}

// Release marks a single entry free, whatever its current value. It is used to drop the
// sectors which hold the FAT, DIFAT, directory and Mini-FAT after they have been loaded.
func (t *Table) Release(id uint32) error {
	if id >= uint32(len(t.entries)) {
		return t.chainErr(id, id, "sector id out of range")
	}
	t.set(id, FreeSect)
	return nil
}

func (t *Table) advanceNextFree() {
	for t.nextFree < uint32(len(t.entries)) && t.entries[t.nextFree] != FreeSect {
		t.nextFree++
	}
}

func (t *Table) chainErr(head, sector uint32, reason string) error {
	return &fs.CorruptChainError{
		Table:  t.name,
		Head:   head,
		Sector: sector,
		Reason: reason,
	}
}

func sentinelName(id uint32) string {
	switch id {
	case DifSect:
		return "DIFAT sector marker"
	case FatSect:
		return "FAT sector marker"
	case EndOfChain:
		return "end of chain"
	case FreeSect:
		return "free sector"
	default:
		return fmt.Sprintf("reserved value %#x", id)
	}
}

// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fat

import (
	"encoding/binary"
)

// EntrySize is the size in bytes of a single FAT, Mini-FAT or DIFAT entry.
const EntrySize = 4

// EntriesPerSector returns how many table entries fit in one sector.
func EntriesPerSector(sectorSize int64) int {
	return int(sectorSize / EntrySize)
}

// Decode builds a table from the concatenated contents of the sectors which store it.
func Decode(name string, data []byte) *Table {
	entries := make([]uint32, len(data)/EntrySize)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(data[i*EntrySize:])
	}
	return New(name, entries)
}

// Encode serializes the table into whole sectors, padding the last sector with FreeSect.
func (t *Table) Encode(sectorSize int64) []byte {
	return EncodeEntries(t.entries, sectorSize)
}

// EncodeEntries serializes raw entries into whole sectors, padding the last sector with
// FreeSect.
func EncodeEntries(entries []uint32, sectorSize int64) []byte {
	per := EntriesPerSector(sectorSize)
	numSectors := (len(entries) + per - 1) / per
	buf := make([]byte, numSectors*int(sectorSize))
	for i := 0; i < numSectors*per; i++ {
		v := FreeSect
		if i < len(entries) {
			v = entries[i]
		}
		binary.LittleEndian.PutUint32(buf[i*EntrySize:], v)
	}
	return buf
}

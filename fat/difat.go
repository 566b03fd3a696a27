// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fat

import (
	"encoding/binary"
	"fmt"

	"go.fuchsia.dev/cfb/bitmap"
	"go.fuchsia.dev/cfb/fs"
)

// NumHeaderLocators is the number of FAT sector locators stored inline in the header. Files
// whose FAT needs more sectors continue the list in a chain of DIFAT sectors.
const NumHeaderLocators = 109

// Locators returns the ids of the numFAT sectors holding the FAT, followed by the ids of the
// DIFAT sectors visited to find them.
//
// read returns the contents of a sector; numSectors bounds every id.
func Locators(inline []uint32, firstDIFAT, numDIFAT, numFAT, numSectors uint32, sectorSize int64, read func(id uint32) ([]byte, error)) (fatSectors, difatSectors []uint32, err error) {
	corrupt := func(sector uint32, reason string) error {
		return &fs.CorruptChainError{Table: "DIFAT", Head: firstDIFAT, Sector: sector, Reason: reason}
	}

	fatSectors = make([]uint32, 0, numFAT)
	for _, id := range inline {
		if uint32(len(fatSectors)) == numFAT {
			break
		}
		fatSectors = append(fatSectors, id)
	}

	per := EntriesPerSector(sectorSize) - 1 // The last entry links to the next DIFAT sector
	visited := bitmap.New(numSectors)
	for cur := firstDIFAT; uint32(len(fatSectors)) < numFAT; {
		switch {
		case cur == EndOfChain || cur == FreeSect:
			return nil, nil, corrupt(cur, fmt.Sprintf("chain ends after %d of %d FAT sectors", len(fatSectors), numFAT))
		case cur >= numSectors:
			return nil, nil, corrupt(cur, "sector id out of range")
		case visited.TestAndSet(cur):
			return nil, nil, corrupt(cur, "cycle detected")
		case uint32(len(difatSectors)) >= numDIFAT:
			return nil, nil, corrupt(cur, fmt.Sprintf("more than the %d DIFAT sectors declared by the header", numDIFAT))
		}
		buf, err := read(cur)
		if err != nil {
			return nil, nil, err
		}
		difatSectors = append(difatSectors, cur)
		for i := 0; i < per && uint32(len(fatSectors)) < numFAT; i++ {
			fatSectors = append(fatSectors, binary.LittleEndian.Uint32(buf[i*EntrySize:]))
		}
		cur = binary.LittleEndian.Uint32(buf[per*EntrySize:])
	}

	for _, id := range fatSectors {
		if id > MaxRegSect || id >= numSectors {
			return nil, nil, corrupt(id, "FAT sector locator out of range")
		}
	}
	return fatSectors, difatSectors, nil
}

// Plan returns how many FAT and DIFAT sectors are needed to describe dataSectors sectors plus
// the FAT and DIFAT sectors themselves.
func Plan(dataSectors int, sectorSize int64) (numFAT, numDIFAT int) {
	per := EntriesPerSector(sectorSize)
	for {
		total := dataSectors + numFAT + numDIFAT
		needFAT := (total + per - 1) / per
		needDIFAT := 0
		if needFAT > NumHeaderLocators {
			needDIFAT = (needFAT - NumHeaderLocators + per - 2) / (per - 1)
		}
		if needFAT == numFAT && needDIFAT == numDIFAT {
			return numFAT, numDIFAT
		}
		numFAT, numDIFAT = needFAT, needDIFAT
	}
}

// SpreadLocators places the FAT sector ids into the header's inline array and, once it is full,
// into the DIFAT sectors whose ids are listed in difatSectors. It returns the inline array and
// the contents of the DIFAT sectors.
func SpreadLocators(fatSectors, difatSectors []uint32, sectorSize int64) (inline [NumHeaderLocators]uint32, data []byte) {
	for i := range inline {
		inline[i] = FreeSect
		if i < len(fatSectors) {
			inline[i] = fatSectors[i]
		}
	}
	var rest []uint32
	if len(fatSectors) > NumHeaderLocators {
		rest = fatSectors[NumHeaderLocators:]
	}

	per := EntriesPerSector(sectorSize) - 1
	data = make([]byte, int64(len(difatSectors))*sectorSize)
	for k := range difatSectors {
		sector := data[int64(k)*sectorSize : int64(k+1)*sectorSize]
		for i := 0; i < per; i++ {
			v := FreeSect
			if idx := k*per + i; idx < len(rest) {
				v = rest[idx]
			}
			binary.LittleEndian.PutUint32(sector[i*EntrySize:], v)
		}
		next := EndOfChain
		if k+1 < len(difatSectors) {
			next = difatSectors[k+1]
		}
		binary.LittleEndian.PutUint32(sector[per*EntrySize:], next)
	}
	return inline, data
}

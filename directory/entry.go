// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package directory

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
)

// EntrySize is the on-disk size of a directory entry.
const EntrySize = 128

// ID identifies a directory entry. On disk it is the entry's index in the directory stream.
type ID uint32

const (
	// RootID is the id of the root entry.
	RootID ID = 0

	// NoStream marks the absence of a sibling or child.
	NoStream ID = 0xFFFFFFFF
)

// Color is the red-black tree color of an entry.
type Color uint8

// Colors as stored on disk.
const (
	Red   Color = 0
	Black Color = 1
)

// RootName is the name of the root entry.
const RootName = "Root Entry"

// Entry is the decoded form of a directory entry.
type Entry struct {
	Name        string
	Type        fs.ObjectType
	Color       Color
	Left        ID
	Right       ID
	Child       ID
	CLSID       uuid.UUID
	StateBits   uint32
	Created     time.Time
	Modified    time.Time
	StartSector uint32
	StreamSize  uint64
}

// Unused returns the entry written into the unused slots of the directory.
func Unused() Entry {
	return Entry{
		Left:  NoStream,
		Right: NoStream,
		Child: NoStream,
	}
}

// MarshalBinary encodes the entry into EntrySize bytes.
func (e *Entry) MarshalBinary() ([]byte, error) {
	b := make([]byte, EntrySize)
	le := binary.LittleEndian
	if e.Type != fs.TypeUnknown {
		units, err := checkName(e.Name)
		if err != nil {
			return nil, err
		}
		for i, u := range units {
			le.PutUint16(b[2*i:], u)
		}
		le.PutUint16(b[64:], uint16(2*(len(units)+1)))
	}
	b[66] = byte(e.Type)
	b[67] = byte(e.Color)
	le.PutUint32(b[68:], uint32(e.Left))
	le.PutUint32(b[72:], uint32(e.Right))
	le.PutUint32(b[76:], uint32(e.Child))
	putCLSID(b[80:96], e.CLSID)
	le.PutUint32(b[96:], e.StateBits)
	le.PutUint64(b[100:], toFiletime(e.Created))
	le.PutUint64(b[108:], toFiletime(e.Modified))
	le.PutUint32(b[116:], e.StartSector)
	le.PutUint64(b[120:], e.StreamSize)
	return b, nil
}

// UnmarshalEntry decodes the entry with the given id. Version 3 files only use the low 32 bits
// of the stream size.
func UnmarshalEntry(b []byte, id ID, v header.Version) (Entry, error) {
	corrupt := func(format string, args ...interface{}) error {
		return &fs.CorruptDirectoryError{Entry: uint32(id), Reason: fmt.Sprintf(format, args...)}
	}
	if len(b) < EntrySize {
		return Entry{}, corrupt("entry holds %d bytes, want %d", len(b), EntrySize)
	}
	le := binary.LittleEndian
	e := Entry{
		Type:        fs.ObjectType(b[66]),
		Color:       Color(b[67]),
		Left:        ID(le.Uint32(b[68:])),
		Right:       ID(le.Uint32(b[72:])),
		Child:       ID(le.Uint32(b[76:])),
		CLSID:       getCLSID(b[80:96]),
		StateBits:   le.Uint32(b[96:]),
		Created:     fromFiletime(le.Uint64(b[100:])),
		Modified:    fromFiletime(le.Uint64(b[108:])),
		StartSector: le.Uint32(b[116:]),
		StreamSize:  le.Uint64(b[120:]),
	}
	if v == header.V3 {
		e.StreamSize &= 0xFFFFFFFF
	}
	switch e.Type {
	case fs.TypeUnknown:
		return e, nil
	case fs.TypeStorage, fs.TypeStream, fs.TypeRoot:
	default:
		return Entry{}, corrupt("unknown object type %d", b[66])
	}

	n := int(le.Uint16(b[64:]))
	if n < 2 || n > nameBytes || n%2 != 0 {
		return Entry{}, corrupt("invalid name length %d", n)
	}
	name, err := decodeName(b[:n-2])
	if err != nil {
		return Entry{}, corrupt("undecodable name: %v", err)
	}
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	e.Name = name
	if e.Type == fs.TypeStorage {
		e.StartSector, e.StreamSize = 0, 0
	} else if e.StreamSize > math.MaxInt64 {
		return Entry{}, corrupt("stream size %#x out of range", e.StreamSize)
	}
	return e, nil
}

// FILETIME counts 100ns intervals since 1601-01-01 UTC.
const (
	filetimeEpochDelta = 116444736000000000 // 1601-01-01 to 1970-01-01
	filetimePerSecond  = 10000000
)

func fromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	d := int64(ft) - filetimeEpochDelta
	sec, rem := d/filetimePerSecond, d%filetimePerSecond
	if rem < 0 {
		sec--
		rem += filetimePerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()*filetimePerSecond + int64(t.Nanosecond()/100) + filetimeEpochDelta)
}

// CLSIDs are stored as GUIDs: the first three fields are little-endian.
func getCLSID(b []byte) uuid.UUID {
	var id uuid.UUID
	le, be := binary.LittleEndian, binary.BigEndian
	be.PutUint32(id[0:], le.Uint32(b[0:]))
	be.PutUint16(id[4:], le.Uint16(b[4:]))
	be.PutUint16(id[6:], le.Uint16(b[6:]))
	copy(id[8:], b[8:16])
	return id
}

func putCLSID(b []byte, id uuid.UUID) {
	le, be := binary.LittleEndian, binary.BigEndian
	le.PutUint32(b[0:], be.Uint32(id[0:]))
	le.PutUint16(b[4:], be.Uint16(id[4:]))
	le.PutUint16(b[6:], be.Uint16(id[6:]))
	copy(b[8:16], id[8:])
}

// emptyStart is the start sector written for entries without data.
const emptyStart = fat.EndOfChain

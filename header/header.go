// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package header describes the first 512 bytes of a compound file, which locate every other
// structure in the container.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/kr/pretty"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
)

const (
	// Size is the number of meaningful bytes in the header. In version 4 files the rest of the
	// first 4096-byte sector is zero.
	Size = 512

	// MiniStreamCutoff is the size below which a stream lives in the mini stream.
	MiniStreamCutoff = 4096

	// MinorVersion is written into every header this package produces.
	MinorVersion uint16 = 0x003E

	// ByteOrder is the little-endian byte order mark.
	ByteOrder uint16 = 0xFFFE

	miniSectorShift uint16 = 6
)

// Signature identifies a compound file.
var Signature = [8]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Version is the major version of the format.
type Version uint16

// Supported major versions.
const (
	V3 Version = 3 // 512-byte sectors
	V4 Version = 4 // 4096-byte sectors
)

// SectorShift returns log2 of the sector size used by the version.
func (v Version) SectorShift() uint16 {
	if v == V4 {
		return 12
	}
	return 9
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint16(v))
}

// Header is the decoded form of the header sector.
type Header struct {
	MinorVersion         uint16
	MajorVersion         Version
	SectorShift          uint16
	MiniSectorShift      uint16
	NumDirSectors        uint32 // Always zero in version 3
	NumFATSectors        uint32
	FirstDirSector       uint32
	TransactionSignature uint32
	MiniStreamCutoff     uint32
	FirstMiniFATSector   uint32
	NumMiniFATSectors    uint32
	FirstDIFATSector     uint32
	NumDIFATSectors      uint32
	DIFAT                [fat.NumHeaderLocators]uint32
}

// New returns the header of an empty container of the given version. Its table locations are
// placeholders which are rewritten on save.
func New(v Version) (*Header, error) {
	if v != V3 && v != V4 {
		return nil, &fs.UnsupportedVersionError{MajorVersion: uint16(v), SectorShift: v.SectorShift()}
	}
	h := &Header{
		MinorVersion:       MinorVersion,
		MajorVersion:       v,
		SectorShift:        v.SectorShift(),
		MiniSectorShift:    miniSectorShift,
		MiniStreamCutoff:   MiniStreamCutoff,
		FirstMiniFATSector: fat.EndOfChain,
		FirstDIFATSector:   fat.EndOfChain,
	}
	for i := range h.DIFAT {
		h.DIFAT[i] = fat.FreeSect
	}
	return h, nil
}

// Read reads and parses the header at the start of r.
func Read(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, Size)
	if n, err := r.ReadAt(buf, 0); n < Size {
		if err == nil || err == io.EOF {
			return nil, &fs.CorruptHeaderError{Field: "length", Reason: fmt.Sprintf("file holds %d bytes, need at least %d", n, Size)}
		}
		return nil, errors.Wrap(err, "reading compound file header")
	}
	return Parse(buf)
}

// Parse decodes and validates a header.
func Parse(b []byte) (*Header, error) {
	if len(b) < Size {
		return nil, &fs.CorruptHeaderError{Field: "length", Reason: fmt.Sprintf("got %d bytes, need %d", len(b), Size)}
	}
	if !bytes.Equal(b[0:8], Signature[:]) {
		return nil, &fs.CorruptHeaderError{Field: "signature", Reason: fmt.Sprintf("got % x", b[0:8])}
	}
	le := binary.LittleEndian
	h := &Header{
		MinorVersion:         le.Uint16(b[24:]),
		MajorVersion:         Version(le.Uint16(b[26:])),
		SectorShift:          le.Uint16(b[30:]),
		MiniSectorShift:      le.Uint16(b[32:]),
		NumDirSectors:        le.Uint32(b[40:]),
		NumFATSectors:        le.Uint32(b[44:]),
		FirstDirSector:       le.Uint32(b[48:]),
		TransactionSignature: le.Uint32(b[52:]),
		MiniStreamCutoff:     le.Uint32(b[56:]),
		FirstMiniFATSector:   le.Uint32(b[60:]),
		NumMiniFATSectors:    le.Uint32(b[64:]),
		FirstDIFATSector:     le.Uint32(b[68:]),
		NumDIFATSectors:      le.Uint32(b[72:]),
	}
	for i := range h.DIFAT {
		h.DIFAT[i] = le.Uint32(b[76+4*i:])
	}
	if bom := le.Uint16(b[28:]); bom != ByteOrder {
		return nil, &fs.CorruptHeaderError{Field: "byte order", Reason: fmt.Sprintf("got %#04x", bom)}
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	if h.MinorVersion != MinorVersion {
		glog.Warningf("header: unusual minor version %#x", h.MinorVersion)
	}
	glog.V(2).Infof("header: parsed %# v", pretty.Formatter(h))
	return h, nil
}

func (h *Header) validate() error {
	corrupt := func(field, format string, args ...interface{}) error {
		return &fs.CorruptHeaderError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case h.MajorVersion != V3 && h.MajorVersion != V4,
		h.SectorShift != V3.SectorShift() && h.SectorShift != V4.SectorShift():
		return &fs.UnsupportedVersionError{MajorVersion: uint16(h.MajorVersion), SectorShift: h.SectorShift}
	case h.SectorShift != h.MajorVersion.SectorShift():
		return corrupt("sector shift", "%d does not match version %d", h.SectorShift, h.MajorVersion)
	case h.MiniSectorShift != miniSectorShift:
		return corrupt("mini sector shift", "got %d, want %d", h.MiniSectorShift, miniSectorShift)
	case h.MiniStreamCutoff != MiniStreamCutoff:
		return corrupt("mini stream cutoff", "got %d, want %d", h.MiniStreamCutoff, MiniStreamCutoff)
	case h.MajorVersion == V3 && h.NumDirSectors != 0:
		return corrupt("directory sectors", "version 3 requires zero, got %d", h.NumDirSectors)
	case h.FirstDirSector > fat.MaxRegSect:
		return corrupt("first directory sector", "got %#x", h.FirstDirSector)
	}

	capacity := uint64(fat.NumHeaderLocators) + uint64(h.NumDIFATSectors)*uint64(h.EntriesPerSector()-1)
	if uint64(h.NumFATSectors) > capacity {
		return corrupt("FAT sectors", "%d sectors exceed the %d locators available", h.NumFATSectors, capacity)
	}
	if h.NumDIFATSectors == 0 {
		if h.NumFATSectors > fat.NumHeaderLocators {
			return corrupt("DIFAT sectors", "%d FAT sectors need a DIFAT", h.NumFATSectors)
		}
		if h.FirstDIFATSector != fat.EndOfChain && h.FirstDIFATSector != fat.FreeSect {
			return corrupt("first DIFAT sector", "%#x given with no DIFAT sectors", h.FirstDIFATSector)
		}
	} else if h.FirstDIFATSector > fat.MaxRegSect {
		return corrupt("first DIFAT sector", "%#x given with %d DIFAT sectors", h.FirstDIFATSector, h.NumDIFATSectors)
	}
	if h.NumMiniFATSectors > 0 && h.FirstMiniFATSector > fat.MaxRegSect {
		return corrupt("first mini FAT sector", "%#x given with %d mini FAT sectors", h.FirstMiniFATSector, h.NumMiniFATSectors)
	}
	return nil
}

// MarshalBinary encodes the header into Size bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	b := make([]byte, Size)
	le := binary.LittleEndian
	copy(b[0:8], Signature[:])
	le.PutUint16(b[24:], h.MinorVersion)
	le.PutUint16(b[26:], uint16(h.MajorVersion))
	le.PutUint16(b[28:], ByteOrder)
	le.PutUint16(b[30:], h.SectorShift)
	le.PutUint16(b[32:], h.MiniSectorShift)
	le.PutUint32(b[40:], h.NumDirSectors)
	le.PutUint32(b[44:], h.NumFATSectors)
	le.PutUint32(b[48:], h.FirstDirSector)
	le.PutUint32(b[52:], h.TransactionSignature)
	le.PutUint32(b[56:], h.MiniStreamCutoff)
	le.PutUint32(b[60:], h.FirstMiniFATSector)
	le.PutUint32(b[64:], h.NumMiniFATSectors)
	le.PutUint32(b[68:], h.FirstDIFATSector)
	le.PutUint32(b[72:], h.NumDIFATSectors)
	for i, id := range h.DIFAT {
		le.PutUint32(b[76+4*i:], id)
	}
	return b, nil
}

// SectorSize returns the size of a regular sector, in bytes.
func (h *Header) SectorSize() int64 {
	return 1 << h.SectorShift
}

// MiniSectorSize returns the size of a mini sector, in bytes.
func (h *Header) MiniSectorSize() int64 {
	return 1 << h.MiniSectorShift
}

// SectorOffset returns the file offset of a regular sector. The header occupies the space of
// one sector, so sector 0 starts one sector into the file.
func (h *Header) SectorOffset(id uint32) int64 {
	return (int64(id) + 1) << h.SectorShift
}

// EntriesPerSector returns how many FAT, Mini-FAT or DIFAT entries fit in a sector.
func (h *Header) EntriesPerSector() int {
	return fat.EntriesPerSector(h.SectorSize())
}

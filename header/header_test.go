// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
)

func mustNew(t *testing.T, v Version) *Header {
	t.Helper()
	h, err := New(v)
	if err != nil {
		t.Fatal(err)
	}
	h.NumFATSectors = 1
	h.DIFAT[0] = 1
	return h
}

func mustMarshal(t *testing.T, h *Header) []byte {
	t.Helper()
	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != Size {
		t.Fatalf("MarshalBinary produced %d bytes, want %d", len(b), Size)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []Version{V3, V4} {
		t.Run(v.String(), func(t *testing.T) {
			h := mustNew(t, v)
			if v == V4 {
				h.NumDirSectors = 1
			}
			b := mustMarshal(t, h)
			if !bytes.Equal(b[:8], Signature[:]) {
				t.Errorf("signature = % x", b[:8])
			}
			got, err := Parse(b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(h, got); diff != "" {
				t.Errorf("Parse(MarshalBinary()) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSizes(t *testing.T) {
	for _, test := range []struct {
		v          Version
		sectorSize int64
		entries    int
	}{
		{V3, 512, 128},
		{V4, 4096, 1024},
	} {
		h := mustNew(t, test.v)
		if h.SectorSize() != test.sectorSize {
			t.Errorf("%s: SectorSize() = %d, want %d", test.v, h.SectorSize(), test.sectorSize)
		}
		if h.MiniSectorSize() != 64 {
			t.Errorf("%s: MiniSectorSize() = %d, want 64", test.v, h.MiniSectorSize())
		}
		if h.EntriesPerSector() != test.entries {
			t.Errorf("%s: EntriesPerSector() = %d, want %d", test.v, h.EntriesPerSector(), test.entries)
		}
		if off := h.SectorOffset(0); off != test.sectorSize {
			t.Errorf("%s: SectorOffset(0) = %d, want %d", test.v, off, test.sectorSize)
		}
		if off := h.SectorOffset(2); off != 3*test.sectorSize {
			t.Errorf("%s: SectorOffset(2) = %d, want %d", test.v, off, 3*test.sectorSize)
		}
	}
}

func TestNewRejectsUnknownVersion(t *testing.T) {
	if _, err := New(5); !errors.Is(err, fs.ErrUnsupportedVersion) {
		t.Fatalf("New(5) = %v, want ErrUnsupportedVersion", err)
	}
}

func TestParseRejects(t *testing.T) {
	le := binary.LittleEndian
	for _, test := range []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:100] }, fs.ErrCorruptHeader},
		{"signature", func(b []byte) []byte { b[0] = 0; return b }, fs.ErrCorruptHeader},
		{"byte order", func(b []byte) []byte { le.PutUint16(b[28:], 0xFEFF); return b }, fs.ErrCorruptHeader},
		{"major version", func(b []byte) []byte { le.PutUint16(b[26:], 5); return b }, fs.ErrUnsupportedVersion},
		{"sector shift", func(b []byte) []byte { le.PutUint16(b[30:], 10); return b }, fs.ErrUnsupportedVersion},
		{"version shift mismatch", func(b []byte) []byte { le.PutUint16(b[30:], 12); return b }, fs.ErrCorruptHeader},
		{"mini sector shift", func(b []byte) []byte { le.PutUint16(b[32:], 7); return b }, fs.ErrCorruptHeader},
		{"mini stream cutoff", func(b []byte) []byte { le.PutUint32(b[56:], 8192); return b }, fs.ErrCorruptHeader},
		{"v3 directory sectors", func(b []byte) []byte { le.PutUint32(b[40:], 1); return b }, fs.ErrCorruptHeader},
		{"too many FAT sectors", func(b []byte) []byte { le.PutUint32(b[44:], 110); return b }, fs.ErrCorruptHeader},
		{"DIFAT without first sector", func(b []byte) []byte {
			le.PutUint32(b[72:], 1)
			le.PutUint32(b[68:], fat.EndOfChain)
			return b
		}, fs.ErrCorruptHeader},
		{"first DIFAT without count", func(b []byte) []byte { le.PutUint32(b[68:], 3); return b }, fs.ErrCorruptHeader},
		{"mini FAT without first sector", func(b []byte) []byte {
			le.PutUint32(b[64:], 1)
			le.PutUint32(b[60:], fat.FreeSect)
			return b
		}, fs.ErrCorruptHeader},
	} {
		t.Run(test.name, func(t *testing.T) {
			b := test.mutate(mustMarshal(t, mustNew(t, V3)))
			_, err := Parse(b)
			if !errors.Is(err, test.want) {
				t.Fatalf("Parse() = %v, want %v", err, test.want)
			}
		})
	}
}

func TestParseAcceptsFreeDIFATStart(t *testing.T) {
	b := mustMarshal(t, mustNew(t, V3))
	binary.LittleEndian.PutUint32(b[68:], fat.FreeSect)
	if _, err := Parse(b); err != nil {
		t.Fatalf("Parse() = %v, want success", err)
	}
}

func TestRead(t *testing.T) {
	b := mustMarshal(t, mustNew(t, V3))
	if _, err := Read(bytes.NewReader(b)); err != nil {
		t.Fatal(err)
	}
	_, err := Read(bytes.NewReader(b[:10]))
	var he *fs.CorruptHeaderError
	if !errors.As(err, &he) || he.Field != "length" {
		t.Fatalf("Read(short) = %v, want length CorruptHeaderError", err)
	}
}

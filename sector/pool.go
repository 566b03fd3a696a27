// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sector holds the regular sectors of an open compound file in memory and manages
// their allocation through the FAT.
package sector

import (
	"github.com/pkg/errors"
)

var (
	// ErrOutOfBounds indicates that the requested sector is beyond the end of the pool.
	ErrOutOfBounds = errors.New("sector is out of bounds")

	// ErrSectorSize indicates that a sector size is not a supported power of two.
	ErrSectorSize = errors.New("invalid sector size")
)

// Pool is a growable array of fixed-size sectors. Slices handed out by Sector stay valid while
// the pool grows.
type Pool struct {
	sectorSize int64
	sectors    [][]byte
}

// NewPool returns an empty pool of sectors of the given size.
func NewPool(sectorSize int64) (*Pool, error) {
	if sectorSize < 64 || sectorSize&(sectorSize-1) != 0 {
		return nil, errors.Wrapf(ErrSectorSize, "%d", sectorSize)
	}
	return &Pool{sectorSize: sectorSize}, nil
}

// LoadPool returns a pool holding a copy of data, split into sectors. A trailing partial sector
// is padded with zeros.
func LoadPool(data []byte, sectorSize int64) (*Pool, error) {
	p, err := NewPool(sectorSize)
	if err != nil {
		return nil, err
	}
	n := (int64(len(data)) + sectorSize - 1) / sectorSize
	p.Resize(int(n))
	for i, s := range p.sectors {
		copy(s, data[int64(i)*sectorSize:])
	}
	return p, nil
}

// SectorSize returns the size of each sector, in bytes.
func (p *Pool) SectorSize() int64 {
	return p.sectorSize
}

// Len returns the number of sectors in the pool.
func (p *Pool) Len() int {
	return len(p.sectors)
}

// Sector returns the contents of a sector. Writes to the returned slice modify the pool.
func (p *Pool) Sector(id uint32) ([]byte, error) {
	if int64(id) >= int64(len(p.sectors)) {
		return nil, errors.Wrapf(ErrOutOfBounds, "sector %#x of %d", id, len(p.sectors))
	}
	return p.sectors[id], nil
}

// Resize grows the pool with zeroed sectors or drops sectors from its end.
func (p *Pool) Resize(n int) {
	if n <= len(p.sectors) {
		for i := n; i < len(p.sectors); i++ {
			p.sectors[i] = nil
		}
		p.sectors = p.sectors[:n]
		return
	}
	for len(p.sectors) < n {
		p.sectors = append(p.sectors, make([]byte, p.sectorSize))
	}
}

// Zero clears the contents of a sector.
func (p *Pool) Zero(id uint32) error {
	s, err := p.Sector(id)
	if err != nil {
		return err
	}
	for i := range s {
		s[i] = 0
	}
	return nil
}

// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bitmap provides a fixed-size set of sector (or entry) numbers, used to detect revisits
// while walking allocation chains and to check that no sector is owned by two chains.
package bitmap

// Bitmap describes a byte slice which acts as a slice of bits.
// It is not safe for concurrent use.
type Bitmap struct {
	slice []byte
	size  uint32
	count uint32 // Number of bits set
}

// New returns a bitmap able to hold the values [0, size), all initially clear.
func New(size uint32) *Bitmap {
	return &Bitmap{
		slice: make([]byte, (uint64(size)+7)/8),
		size:  size,
	}
}

// Len returns the number of bits in the bitmap.
func (bm *Bitmap) Len() uint32 {
	return bm.size
}

// Count returns the number of bits currently set.
func (bm *Bitmap) Count() uint32 {
	return bm.count
}

// Get returns the status of the bit in position i.
func (bm *Bitmap) Get(i uint32) bool {
	return bm.get(i)
}

// Set sets the bit in position i.
func (bm *Bitmap) Set(i uint32) {
	if !bm.get(i) {
		bm.set(i, true)
		bm.count++
	}
}

// Clear clears the bit in position i.
func (bm *Bitmap) Clear(i uint32) {
	if bm.get(i) {
		bm.set(i, false)
		bm.count--
	}
}

// TestAndSet sets the bit in position i and reports whether it was already set.
func (bm *Bitmap) TestAndSet(i uint32) bool {
	if bm.get(i) {
		return true
	}
	bm.set(i, true)
	bm.count++
	return false
}

// Unlocked internal mechanism to get a bit status.
func (bm *Bitmap) get(i uint32) bool {
	if i >= bm.size {
		panic("Bitmap Get: Index out of range")
	}
	return bm.slice[i/8]&(1<<(i%8)) != 0
}

// Unlocked internal mechanism to set a bit status.
func (bm *Bitmap) set(i uint32, v bool) {
	if i >= bm.size {
		panic("Bitmap Set: Index out of range")
	}
	if v {
		bm.slice[i/8] |= 1 << (i % 8)
	} else {
		bm.slice[i/8] &^= 1 << (i % 8)
	}
}

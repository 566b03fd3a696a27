// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bitmap

import "testing"

func checkBitmapEquals(t *testing.T, bm *Bitmap, expected []int) {
	t.Helper()
	for i := range expected {
		if got, want := bm.Get(uint32(i)), expected[i] != 0; got != want {
			t.Fatalf("Unexpected value at index %d: got %t, want %t", i, got, want)
		}
	}
}

func TestSmallBitmap(t *testing.T) {
	bm := New(8)
	checkBitmapEquals(t, bm, []int{0, 0, 0, 0, 0, 0, 0, 0})

	bm.Set(2)
	bm.Set(3)
	checkBitmapEquals(t, bm, []int{0, 0, 1, 1, 0, 0, 0, 0})
	if bm.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", bm.Count())
	}

	bm.Clear(2)
	bm.Clear(2) // Clearing twice does not change the count.
	checkBitmapEquals(t, bm, []int{0, 0, 0, 1, 0, 0, 0, 0})
	if bm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", bm.Count())
	}
}

func TestMultiByteBitmap(t *testing.T) {
	bm := New(12)
	if bm.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", bm.Len())
	}
	for _, i := range []uint32{0, 7, 8, 11} {
		bm.Set(i)
	}
	checkBitmapEquals(t, bm, []int{1, 0, 0, 0, 0, 0, 0, 1, 1, 0, 0, 1})
}

func TestTestAndSet(t *testing.T) {
	bm := New(4)
	if bm.TestAndSet(1) {
		t.Fatal("first TestAndSet(1) reported the bit as set")
	}
	if !bm.TestAndSet(1) {
		t.Fatal("second TestAndSet(1) reported the bit as clear")
	}
	if bm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", bm.Count())
	}
}

func TestOutOfRangePanics(t *testing.T) {
	bm := New(4)
	defer func() {
		if recover() == nil {
			t.Fatal("Get(4) on a 4-bit bitmap did not panic")
		}
	}()
	bm.Get(4)
}

// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fs

// ObjectType is the kind of a directory entry, as stored in the entry's type byte.
type ObjectType uint8

// Object types defined by the compound file format.
const (
	TypeUnknown ObjectType = 0
	TypeStorage ObjectType = 1
	TypeStream  ObjectType = 2
	TypeRoot    ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeStorage:
		return "storage"
	case TypeStream:
		return "stream"
	case TypeRoot:
		return "root"
	default:
		return "invalid"
	}
}

// IsContainer reports whether entries of this type may have children.
func (t ObjectType) IsContainer() bool {
	return t == TypeStorage || t == TypeRoot
}

// Whence values for Seek, matching io.SeekStart, io.SeekCurrent and io.SeekEnd.
const (
	WhenceFromStart   = 0
	WhenceFromCurrent = 1
	WhenceFromEnd     = 2
)

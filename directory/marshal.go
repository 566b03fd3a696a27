// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package directory

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/bitmap"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
)

// Decode splits the contents of the directory stream into entries.
func Decode(data []byte, v header.Version) ([]Entry, error) {
	entries := make([]Entry, len(data)/EntrySize)
	for i := range entries {
		e, err := UnmarshalEntry(data[i*EntrySize:(i+1)*EntrySize], ID(i), v)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// Encode serializes entries, padding the result to whole sectors with unused entries.
func Encode(entries []Entry, sectorSize int64) ([]byte, error) {
	per := int(sectorSize / EntrySize)
	n := (len(entries) + per - 1) / per * per
	buf := make([]byte, 0, n*EntrySize)
	unused := Unused()
	for i := 0; i < n; i++ {
		e := &unused
		if i < len(entries) {
			e = &entries[i]
		}
		b, err := e.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "directory entry %d", i)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// Load rebuilds a directory from its on-disk entries.
//
// Each storage's children are collected with an in-order walk of its on-disk sibling tree and
// inserted into a fresh red-black tree, so the on-disk colors are not trusted. Entries which no
// storage links to are dropped.
func Load(entries []Entry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, &fs.CorruptDirectoryError{Entry: 0, Reason: "directory is empty"}
	}
	if entries[0].Type != fs.TypeRoot {
		return nil, &fs.CorruptDirectoryError{Entry: 0, Reason: fmt.Sprintf("first entry is a %s, not the root", entries[0].Type)}
	}

	t := New()
	t.fill(RootID, entries[0])
	if entries[0].Name != "" {
		if units, err := checkName(entries[0].Name); err == nil {
			t.nodes[RootID].name = entries[0].Name
			t.nodes[RootID].key = foldKey(units)
		}
	}

	visited := bitmap.New(uint32(len(entries)))
	visited.Set(0)
	type pending struct {
		disk ID // Index into entries
		mem  ID // Id in t
	}
	queue := []pending{{RootID, RootID}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := siblings(entries, entries[p.disk].Child, visited)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			e := entries[c]
			id, err := t.insert(p.mem, e.Name, e.Type)
			if err != nil {
				reason := fmt.Sprintf("cannot add %q: %v", e.Name, err)
				if errors.Is(err, fs.ErrExist) {
					reason = fmt.Sprintf("duplicate name %q", e.Name)
				}
				return nil, &fs.CorruptDirectoryError{Entry: uint32(c), Reason: reason}
			}
			t.fill(id, e)
			switch {
			case e.Type == fs.TypeStorage:
				queue = append(queue, pending{c, id})
			case e.Child != NoStream:
				glog.Warningf("directory: ignoring children of stream %q (entry %d)", e.Name, c)
			}
		}
	}

	used := 0
	for _, e := range entries {
		if e.Type != fs.TypeUnknown {
			used++
		}
	}
	if dropped := used - int(visited.Count()); dropped > 0 {
		glog.Warningf("directory: dropping %d unreachable entries", dropped)
	}
	glog.V(1).Infof("directory: loaded %d entries", t.Len())
	return t, nil
}

// siblings returns the entries of the sibling tree rooted at top, in order.
func siblings(entries []Entry, top ID, visited *bitmap.Bitmap) ([]ID, error) {
	var out, stack []ID
	for cur := top; cur != NoStream || len(stack) > 0; {
		for cur != NoStream {
			switch {
			case int64(cur) >= int64(len(entries)):
				return nil, &fs.CorruptDirectoryError{Entry: uint32(cur), Reason: "linked entry is out of range"}
			case visited.TestAndSet(uint32(cur)):
				return nil, &fs.CorruptDirectoryError{Entry: uint32(cur), Reason: "entry is linked more than once"}
			}
			if typ := entries[cur].Type; typ != fs.TypeStorage && typ != fs.TypeStream {
				return nil, &fs.CorruptDirectoryError{Entry: uint32(cur), Reason: fmt.Sprintf("linked entry has type %s", typ)}
			}
			stack = append(stack, cur)
			cur = entries[cur].Left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		cur = entries[cur].Right
	}
	return out, nil
}

func (t *Tree) fill(id ID, e Entry) {
	n := &t.nodes[id]
	n.clsid = e.CLSID
	n.stateBits = e.StateBits
	n.created = e.Created
	n.modified = e.Modified
	if e.Type != fs.TypeStorage {
		n.startSector = e.StartSector
		n.streamSize = e.StreamSize
	}
}

// Flatten numbers the entries compactly, in preorder starting from the root, and returns them
// with their links renumbered. order[i] is the id in t of the i-th returned entry.
//
// Storages are emitted with a zero start sector and size. Streams keep the data location
// recorded in the tree.
func (t *Tree) Flatten() (entries []Entry, order []ID) {
	order = make([]ID, 0, t.count)
	for stack := []ID{RootID}; len(stack) > 0; {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		n := &t.nodes[id]
		for _, next := range []ID{n.child, n.right, n.left} {
			if next != NoStream {
				stack = append(stack, next)
			}
		}
	}

	renumber := make([]ID, len(t.nodes))
	for i, id := range order {
		renumber[id] = ID(i)
	}
	link := func(id ID) ID {
		if id == NoStream {
			return NoStream
		}
		return renumber[id]
	}

	entries = make([]Entry, len(order))
	for i, id := range order {
		e := t.nodes[id].entry()
		e.Left, e.Right, e.Child = link(e.Left), link(e.Right), link(e.Child)
		if e.Type == fs.TypeStorage {
			e.StartSector, e.StreamSize = 0, 0
		}
		entries[i] = e
	}
	return entries, order
}

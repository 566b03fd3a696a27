// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package directory implements the directory of a compound file: a tree of storages and
// streams in which the children of each storage form a red-black tree ordered by CompareNames.
//
// Entries live in an arena indexed by ID. Ids are stable for the lifetime of an entry; they are
// renumbered only in the output of Flatten.
package directory

import (
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/fs"
)

var errExist = fs.ErrExist

type node struct {
	used bool
	name string
	key  []uint16 // Upper-cased UTF-16 name
	typ  fs.ObjectType

	owner               ID // Storage this entry belongs to
	child               ID // Top of this storage's tree of children
	left, right, parent ID // Links within the owner's tree
	color               Color

	clsid       uuid.UUID
	stateBits   uint32
	created     time.Time
	modified    time.Time
	startSector uint32
	streamSize  uint64
}

// Tree is the in-memory directory. It is not safe for concurrent use.
type Tree struct {
	nodes []node
	free  []ID // Unused slots of nodes, reused before the arena grows
	count int  // Entries in use, including the root
}

// New returns a directory holding only the root entry.
func New() *Tree {
	t := &Tree{}
	root := t.alloc()
	n := &t.nodes[root]
	n.name = RootName
	n.key = foldKey(mustEncode(RootName))
	n.typ = fs.TypeRoot
	n.owner = NoStream
	n.color = Black
	return t
}

func mustEncode(name string) []uint16 {
	units, err := encodeName(name)
	if err != nil {
		panic(err)
	}
	return units
}

func (t *Tree) alloc() ID {
	var id ID
	if k := len(t.free); k > 0 {
		id = t.free[k-1]
		t.free = t.free[:k-1]
	} else {
		t.nodes = append(t.nodes, node{})
		id = ID(len(t.nodes) - 1)
	}
	t.nodes[id] = node{
		used:        true,
		owner:       NoStream,
		child:       NoStream,
		left:        NoStream,
		right:       NoStream,
		parent:      NoStream,
		startSector: emptyStart,
	}
	t.count++
	return id
}

func (t *Tree) release(id ID) {
	t.nodes[id] = node{}
	t.free = append(t.free, id)
	t.count--
}

func (t *Tree) valid(id ID) bool {
	return id < ID(len(t.nodes)) && t.nodes[id].used
}

func (t *Tree) lookup(id ID) (*node, error) {
	if !t.valid(id) {
		return nil, errors.Wrapf(fs.ErrNotFound, "entry %d", id)
	}
	return &t.nodes[id], nil
}

// Len returns the number of entries in the directory, including the root.
func (t *Tree) Len() int {
	return t.count
}

// Entry returns a copy of the entry with the given id. Its links refer to ids of this tree.
func (t *Tree) Entry(id ID) (Entry, error) {
	n, err := t.lookup(id)
	if err != nil {
		return Entry{}, err
	}
	return n.entry(), nil
}

func (n *node) entry() Entry {
	return Entry{
		Name:        n.name,
		Type:        n.typ,
		Color:       n.color,
		Left:        n.left,
		Right:       n.right,
		Child:       n.child,
		CLSID:       n.clsid,
		StateBits:   n.stateBits,
		Created:     n.created,
		Modified:    n.modified,
		StartSector: n.startSector,
		StreamSize:  n.streamSize,
	}
}

// Parent returns the storage holding id, or NoStream for the root.
func (t *Tree) Parent(id ID) ID {
	if !t.valid(id) {
		return NoStream
	}
	return t.nodes[id].owner
}

// Find returns the child of parent whose name matches name, ignoring case.
func (t *Tree) Find(parent ID, name string) (ID, error) {
	p, err := t.lookup(parent)
	if err != nil {
		return NoStream, err
	}
	if !p.typ.IsContainer() {
		return NoStream, errors.Wrapf(fs.ErrNotStorage, "%q", p.name)
	}
	units, err := encodeName(name)
	if err != nil {
		return NoStream, errors.Wrapf(fs.ErrNotFound, "%q", name)
	}
	key := foldKey(units)
	for cur := p.child; cur != NoStream; {
		switch c := compareKeys(key, t.nodes[cur].key); {
		case c < 0:
			cur = t.nodes[cur].left
		case c > 0:
			cur = t.nodes[cur].right
		default:
			return cur, nil
		}
	}
	return NoStream, errors.Wrapf(fs.ErrNotFound, "%q", name)
}

// Insert adds an empty storage or stream named name to parent.
func (t *Tree) Insert(parent ID, name string, typ fs.ObjectType) (ID, error) {
	if typ != fs.TypeStorage && typ != fs.TypeStream {
		return NoStream, errors.Wrapf(fs.ErrInvalidArgs, "cannot insert an entry of type %s", typ)
	}
	if err := ValidateName(name); err != nil {
		return NoStream, err
	}
	return t.insert(parent, name, typ)
}

// insert adds an entry without checking for the characters which new names may not use.
func (t *Tree) insert(parent ID, name string, typ fs.ObjectType) (ID, error) {
	p, err := t.lookup(parent)
	if err != nil {
		return NoStream, err
	}
	if !p.typ.IsContainer() {
		return NoStream, errors.Wrapf(fs.ErrNotStorage, "%q", p.name)
	}
	units, err := checkName(name)
	if err != nil {
		return NoStream, err
	}
	id := t.alloc()
	n := &t.nodes[id]
	n.name = name
	n.key = foldKey(units)
	n.typ = typ
	n.owner = parent
	if err := t.link(id); err != nil {
		t.release(id)
		return NoStream, errors.Wrapf(err, "%q", name)
	}
	glog.V(2).Infof("directory: inserted %s %q as entry %d under %d", typ, name, id, parent)
	return id, nil
}

// Children returns the children of parent in directory order.
func (t *Tree) Children(parent ID) ([]ID, error) {
	p, err := t.lookup(parent)
	if err != nil {
		return nil, err
	}
	if !p.typ.IsContainer() {
		return nil, errors.Wrapf(fs.ErrNotStorage, "%q", p.name)
	}
	var out []ID
	var stack []ID
	for cur := p.child; cur != NoStream || len(stack) > 0; {
		for cur != NoStream {
			stack = append(stack, cur)
			cur = t.nodes[cur].left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		cur = t.nodes[cur].right
	}
	return out, nil
}

// Remove deletes an entry and returns the removed entries, so their data can be released. A
// storage which still has children is removed only if recursive is set, along with everything
// below it.
func (t *Tree) Remove(id ID, recursive bool) ([]Entry, error) {
	n, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.typ == fs.TypeRoot {
		return nil, fs.ErrRoot
	}
	if n.child != NoStream && !recursive {
		return nil, errors.Wrapf(fs.ErrNotEmpty, "%q", n.name)
	}

	var removed []Entry
	var ids []ID
	t.walk(id, func(id ID) {
		removed = append(removed, t.nodes[id].entry())
		ids = append(ids, id)
	})
	t.unlink(id)
	for _, id := range ids {
		t.release(id)
	}
	glog.V(2).Infof("directory: removed %d entries starting at %d", len(ids), id)
	return removed, nil
}

// Rename changes the name of an entry, keeping it under the same storage.
func (t *Tree) Rename(id ID, name string) error {
	return t.Move(id, t.Parent(id), name)
}

// Move moves an entry, and everything below it, under newParent with the name newName.
func (t *Tree) Move(id, newParent ID, newName string) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	if n.typ == fs.TypeRoot {
		return fs.ErrRoot
	}
	p, err := t.lookup(newParent)
	if err != nil {
		return err
	}
	if !p.typ.IsContainer() {
		return errors.Wrapf(fs.ErrNotStorage, "%q", p.name)
	}
	for cur := newParent; cur != NoStream; cur = t.nodes[cur].owner {
		if cur == id {
			return errors.Wrapf(fs.ErrInvalidArgs, "cannot move %q below itself", n.name)
		}
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	units, _ := checkName(newName)

	if existing, err := t.Find(newParent, newName); err == nil && existing != id {
		return errors.Wrapf(fs.ErrExist, "%q", newName)
	}

	oldOwner, oldName, oldKey := n.owner, n.name, n.key
	t.unlink(id)
	n.owner = newParent
	n.name = newName
	n.key = foldKey(units)
	if err := t.link(id); err != nil {
		n.owner, n.name, n.key = oldOwner, oldName, oldKey
		if err := t.link(id); err != nil {
			panic("directory: cannot restore entry after failed move: " + err.Error())
		}
		return errors.Wrapf(err, "%q", newName)
	}
	return nil
}

// walk calls fn for id and then everything below it, parents before children.
func (t *Tree) walk(id ID, fn func(ID)) {
	fn(id)
	children, _ := t.Children(id)
	for _, c := range children {
		t.walk(c, fn)
	}
}

// Walk calls fn for every entry below (and including) start in depth-first order, parents
// before their children and siblings in directory order. The path of start is "".
// If fn returns an error the walk stops and returns it.
func (t *Tree) Walk(start ID, fn func(id ID, path string) error) error {
	if _, err := t.lookup(start); err != nil {
		return err
	}
	return t.walkPath(start, "", fn)
}

func (t *Tree) walkPath(id ID, path string, fn func(ID, string) error) error {
	if err := fn(id, path); err != nil {
		return err
	}
	children, _ := t.Children(id)
	for _, c := range children {
		p := t.nodes[c].name
		if path != "" {
			p = path + "/" + p
		}
		if err := t.walkPath(c, p, fn); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the '/'-separated path of an entry from the root.
func (t *Tree) Path(id ID) string {
	var parts []string
	for cur := id; t.valid(cur) && cur != RootID; cur = t.nodes[cur].owner {
		parts = append(parts, t.nodes[cur].name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Data returns the start sector and size recorded for an entry. For the root these describe the
// mini stream.
func (t *Tree) Data(id ID) (start uint32, size uint64) {
	if !t.valid(id) {
		return emptyStart, 0
	}
	n := &t.nodes[id]
	return n.startSector, n.streamSize
}

// Type returns the object type of an entry, or fs.TypeUnknown if id is not in use.
func (t *Tree) Type(id ID) fs.ObjectType {
	if !t.valid(id) {
		return fs.TypeUnknown
	}
	return t.nodes[id].typ
}

// SetData records where a stream's data lives.
func (t *Tree) SetData(id ID, start uint32, size uint64) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	n.startSector = start
	n.streamSize = size
	return nil
}

// SetCLSID sets the class id of an entry.
func (t *Tree) SetCLSID(id ID, clsid uuid.UUID) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	n.clsid = clsid
	return nil
}

// SetStateBits sets the user-defined state bits of an entry.
func (t *Tree) SetStateBits(id ID, bits uint32) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	n.stateBits = bits
	return nil
}

// SetTimes sets the creation and modification times of an entry.
func (t *Tree) SetTimes(id ID, created, modified time.Time) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	n.created = created
	n.modified = modified
	return nil
}

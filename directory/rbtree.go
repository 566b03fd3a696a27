// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package directory

// Red-black tree primitives over the node arena. Every storage owns one tree of its children;
// the tree's root is stored in the storage's child field. Within a tree, parent links point at
// siblings, and the topmost sibling has no parent.

func (t *Tree) isRed(id ID) bool {
	return id != NoStream && t.nodes[id].color == Red
}

// replaceChild makes new take old's place under parent, or at the top of owner's tree.
func (t *Tree) replaceChild(parent, owner, old, new ID) {
	if parent == NoStream {
		t.nodes[owner].child = new
		return
	}
	p := &t.nodes[parent]
	if p.left == old {
		p.left = new
	} else {
		p.right = new
	}
}

func (t *Tree) rotateLeft(x ID) {
	xn := &t.nodes[x]
	y := xn.right
	yn := &t.nodes[y]
	xn.right = yn.left
	if yn.left != NoStream {
		t.nodes[yn.left].parent = x
	}
	yn.parent = xn.parent
	t.replaceChild(xn.parent, xn.owner, x, y)
	yn.left = x
	xn.parent = y
}

func (t *Tree) rotateRight(x ID) {
	xn := &t.nodes[x]
	y := xn.left
	yn := &t.nodes[y]
	xn.left = yn.right
	if yn.right != NoStream {
		t.nodes[yn.right].parent = x
	}
	yn.parent = xn.parent
	t.replaceChild(xn.parent, xn.owner, x, y)
	yn.right = x
	xn.parent = y
}

// link inserts z, whose key and owner are already set, into its owner's tree.
func (t *Tree) link(z ID) error {
	zn := &t.nodes[z]
	parent := NoStream
	cur := t.nodes[zn.owner].child
	cmp := 0
	for cur != NoStream {
		parent = cur
		cmp = compareKeys(zn.key, t.nodes[cur].key)
		switch {
		case cmp < 0:
			cur = t.nodes[cur].left
		case cmp > 0:
			cur = t.nodes[cur].right
		default:
			return errExist
		}
	}
	zn.parent = parent
	zn.left, zn.right = NoStream, NoStream
	zn.color = Red
	switch {
	case parent == NoStream:
		t.nodes[zn.owner].child = z
	case cmp < 0:
		t.nodes[parent].left = z
	default:
		t.nodes[parent].right = z
	}
	t.insertFixup(z)
	return nil
}

func (t *Tree) insertFixup(z ID) {
	owner := t.nodes[z].owner
	for {
		p := t.nodes[z].parent
		if !t.isRed(p) {
			break
		}
		// p is red, so it is not the top of the tree and g exists.
		g := t.nodes[p].parent
		if p == t.nodes[g].left {
			u := t.nodes[g].right
			if t.isRed(u) {
				t.nodes[p].color = Black
				t.nodes[u].color = Black
				t.nodes[g].color = Red
				z = g
				continue
			}
			if z == t.nodes[p].right {
				z = p
				t.rotateLeft(z)
				p = t.nodes[z].parent
			}
			t.nodes[p].color = Black
			t.nodes[g].color = Red
			t.rotateRight(g)
		} else {
			u := t.nodes[g].left
			if t.isRed(u) {
				t.nodes[p].color = Black
				t.nodes[u].color = Black
				t.nodes[g].color = Red
				z = g
				continue
			}
			if z == t.nodes[p].left {
				z = p
				t.rotateRight(z)
				p = t.nodes[z].parent
			}
			t.nodes[p].color = Black
			t.nodes[g].color = Red
			t.rotateLeft(g)
		}
	}
	t.nodes[t.nodes[owner].child].color = Black
}

func (t *Tree) minimum(id ID) ID {
	for t.nodes[id].left != NoStream {
		id = t.nodes[id].left
	}
	return id
}

// transplant replaces the subtree rooted at u with the one rooted at v.
func (t *Tree) transplant(u, v ID) {
	un := &t.nodes[u]
	t.replaceChild(un.parent, un.owner, u, v)
	if v != NoStream {
		t.nodes[v].parent = un.parent
	}
}

// unlink removes z from its owner's tree. z keeps its own children.
func (t *Tree) unlink(z ID) {
	zn := &t.nodes[z]
	owner := zn.owner
	yColor := zn.color
	var x, xParent ID
	switch {
	case zn.left == NoStream:
		x, xParent = zn.right, zn.parent
		t.transplant(z, zn.right)
	case zn.right == NoStream:
		x, xParent = zn.left, zn.parent
		t.transplant(z, zn.left)
	default:
		y := t.minimum(zn.right)
		yn := &t.nodes[y]
		yColor = yn.color
		x = yn.right
		if yn.parent == z {
			xParent = y
		} else {
			xParent = yn.parent
			t.transplant(y, yn.right)
			yn.right = zn.right
			t.nodes[yn.right].parent = y
		}
		t.transplant(z, y)
		yn.left = zn.left
		t.nodes[yn.left].parent = y
		yn.color = zn.color
	}
	if yColor == Black {
		t.deleteFixup(x, xParent, owner)
	}
	zn.left, zn.right, zn.parent = NoStream, NoStream, NoStream
}

func (t *Tree) deleteFixup(x, xParent, owner ID) {
	for x != t.nodes[owner].child && !t.isRed(x) {
		pn := &t.nodes[xParent]
		if x == pn.left {
			w := pn.right
			if t.isRed(w) {
				t.nodes[w].color = Black
				pn.color = Red
				t.rotateLeft(xParent)
				w = t.nodes[xParent].right
			}
			if !t.isRed(t.nodes[w].left) && !t.isRed(t.nodes[w].right) {
				t.nodes[w].color = Red
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if !t.isRed(t.nodes[w].right) {
				t.nodes[t.nodes[w].left].color = Black
				t.nodes[w].color = Red
				t.rotateRight(w)
				w = t.nodes[xParent].right
			}
			t.nodes[w].color = t.nodes[xParent].color
			t.nodes[xParent].color = Black
			t.nodes[t.nodes[w].right].color = Black
			t.rotateLeft(xParent)
		} else {
			w := pn.left
			if t.isRed(w) {
				t.nodes[w].color = Black
				pn.color = Red
				t.rotateRight(xParent)
				w = t.nodes[xParent].left
			}
			if !t.isRed(t.nodes[w].right) && !t.isRed(t.nodes[w].left) {
				t.nodes[w].color = Red
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if !t.isRed(t.nodes[w].left) {
				t.nodes[t.nodes[w].right].color = Black
				t.nodes[w].color = Red
				t.rotateLeft(w)
				w = t.nodes[xParent].left
			}
			t.nodes[w].color = t.nodes[xParent].color
			t.nodes[xParent].color = Black
			t.nodes[t.nodes[w].left].color = Black
			t.rotateRight(xParent)
		}
		x = t.nodes[owner].child
	}
	if x != NoStream {
		t.nodes[x].color = Black
	}
}

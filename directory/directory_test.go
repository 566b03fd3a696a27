// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
)

// checkTree verifies the red-black and ordering properties of every sibling tree.
func checkTree(t *testing.T, tr *Tree) {
	t.Helper()
	err := tr.Walk(RootID, func(id ID, _ string) error {
		if !tr.nodes[id].typ.IsContainer() {
			return nil
		}
		top := tr.nodes[id].child
		if tr.isRed(top) {
			return fmt.Errorf("entry %d: top of tree is red", id)
		}
		if top != NoStream && tr.nodes[top].parent != NoStream {
			return fmt.Errorf("entry %d: top of tree has a parent", id)
		}
		_, err := blackHeight(tr, top, id)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func blackHeight(tr *Tree, id, owner ID) (int, error) {
	if id == NoStream {
		return 1, nil
	}
	n := tr.nodes[id]
	if n.owner != owner {
		return 0, fmt.Errorf("entry %d: owner %d, want %d", id, n.owner, owner)
	}
	if n.color == Red && (tr.isRed(n.left) || tr.isRed(n.right)) {
		return 0, fmt.Errorf("entry %d: red entry has a red child", id)
	}
	for _, c := range []ID{n.left, n.right} {
		if c != NoStream && tr.nodes[c].parent != id {
			return 0, fmt.Errorf("entry %d: child %d has parent %d", id, c, tr.nodes[c].parent)
		}
	}
	if n.left != NoStream && compareKeys(tr.nodes[n.left].key, n.key) >= 0 {
		return 0, fmt.Errorf("entry %d: left child out of order", id)
	}
	if n.right != NoStream && compareKeys(tr.nodes[n.right].key, n.key) <= 0 {
		return 0, fmt.Errorf("entry %d: right child out of order", id)
	}
	l, err := blackHeight(tr, n.left, owner)
	if err != nil {
		return 0, err
	}
	r, err := blackHeight(tr, n.right, owner)
	if err != nil {
		return 0, err
	}
	if l != r {
		return 0, fmt.Errorf("entry %d: black heights %d and %d differ", id, l, r)
	}
	if n.color == Black {
		l++
	}
	return l, nil
}

func childNames(t *testing.T, tr *Tree, parent ID) []string {
	t.Helper()
	ids, err := tr.Children(parent)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, id := range ids {
		e, err := tr.Entry(id)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, e.Name)
	}
	return names
}

func mustInsert(t *testing.T, tr *Tree, parent ID, name string, typ fs.ObjectType) ID {
	t.Helper()
	id, err := tr.Insert(parent, name, typ)
	if err != nil {
		t.Fatalf("Insert(%d, %q): %v", parent, name, err)
	}
	return id
}

func TestCompareNames(t *testing.T) {
	for _, test := range []struct {
		a, b string
		want int
	}{
		{"B", "AA", -1},
		{"AA", "B", 1},
		{"abc", "ABC", 0},
		{"Data", "DATA", 0},
		{"a", "b", -1},
		{"é", "É", 0},
		{"Workbook", "SummaryInformation", -1},
	} {
		if got := CompareNames(test.a, test.b); got != test.want {
			t.Errorf("CompareNames(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "a/b", `a\b`, "a:b", "a!b", strings.Repeat("x", 32), "a\x00b", "\xff"} {
		if err := ValidateName(name); !errors.Is(err, fs.ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	for _, name := range []string{"x", strings.Repeat("x", 31), "\x05SummaryInformation", "日本語"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestOrderIndependentOfInsertion(t *testing.T) {
	names := []string{"Workbook", "a", "B", "zz", "Data", "\x01CompObj", "Ole", "ObjectPool", "c", "AA", "x1", "x2", "x10"}
	var want []string
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		tr := New()
		for _, i := range rng.Perm(len(names)) {
			mustInsert(t, tr, RootID, names[i], fs.TypeStream)
		}
		checkTree(t, tr)
		got := childNames(t, tr, RootID)
		if want == nil {
			want = got
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("trial %d: order differs (-want +got):\n%s", trial, diff)
		}
	}
	for i := 1; i < len(want); i++ {
		if CompareNames(want[i-1], want[i]) >= 0 {
			t.Errorf("%q listed before %q", want[i-1], want[i])
		}
	}
}

func entryNames(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestInsertErrors(t *testing.T) {
	tr := New()
	stream := mustInsert(t, tr, RootID, "Foo", fs.TypeStream)
	if _, err := tr.Insert(RootID, "FOO", fs.TypeStorage); !errors.Is(err, fs.ErrExist) {
		t.Errorf("duplicate Insert = %v, want ErrExist", err)
	}
	if _, err := tr.Insert(stream, "child", fs.TypeStream); !errors.Is(err, fs.ErrNotStorage) {
		t.Errorf("Insert under stream = %v, want ErrNotStorage", err)
	}
	if _, err := tr.Insert(RootID, "a/b", fs.TypeStream); !errors.Is(err, fs.ErrInvalidName) {
		t.Errorf("Insert(a/b) = %v, want ErrInvalidName", err)
	}
	if _, err := tr.Insert(RootID, "r", fs.TypeRoot); !errors.Is(err, fs.ErrInvalidArgs) {
		t.Errorf("Insert(root type) = %v, want ErrInvalidArgs", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d after failed inserts, want 2", tr.Len())
	}
}

func TestFind(t *testing.T) {
	tr := New()
	dir := mustInsert(t, tr, RootID, "Dir", fs.TypeStorage)
	doc := mustInsert(t, tr, dir, "Doc1", fs.TypeStream)
	if id, err := tr.Find(dir, "DOC1"); err != nil || id != doc {
		t.Errorf("Find(DOC1) = %d, %v; want %d", id, err, doc)
	}
	if _, err := tr.Find(RootID, "Doc1"); !errors.Is(err, fs.ErrNotFound) {
		t.Errorf("Find in wrong storage = %v, want ErrNotFound", err)
	}
	if _, err := tr.Find(doc, "x"); !errors.Is(err, fs.ErrNotStorage) {
		t.Errorf("Find under stream = %v, want ErrNotStorage", err)
	}
	if got := tr.Path(doc); got != "Dir/Doc1" {
		t.Errorf("Path() = %q, want Dir/Doc1", got)
	}
	if p := tr.Parent(doc); p != dir {
		t.Errorf("Parent() = %d, want %d", p, dir)
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	dir := mustInsert(t, tr, RootID, "Dir", fs.TypeStorage)
	mustInsert(t, tr, dir, "a", fs.TypeStream)
	sub := mustInsert(t, tr, dir, "sub", fs.TypeStorage)
	mustInsert(t, tr, sub, "b", fs.TypeStream)
	keep := mustInsert(t, tr, RootID, "keep", fs.TypeStream)

	if _, err := tr.Remove(dir, false); !errors.Is(err, fs.ErrNotEmpty) {
		t.Fatalf("Remove(non-empty) = %v, want ErrNotEmpty", err)
	}
	if _, err := tr.Remove(RootID, true); !errors.Is(err, fs.ErrRoot) {
		t.Fatalf("Remove(root) = %v, want ErrRoot", err)
	}
	removed, err := tr.Remove(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Dir", "a", "sub", "b"}, entryNames(removed)); diff != "" {
		t.Errorf("removed entries mismatch (-want +got):\n%s", diff)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
	if diff := cmp.Diff([]string{"keep"}, childNames(t, tr, RootID)); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
	checkTree(t, tr)

	// Freed slots are reused.
	if id := mustInsert(t, tr, RootID, "new", fs.TypeStream); id == keep || int(id) > 5 {
		t.Errorf("Insert after Remove got id %d", id)
	}
}

func TestRandomInsertRemoveKeepsBalance(t *testing.T) {
	tr := New()
	rng := rand.New(rand.NewSource(7))
	live := map[string]ID{}
	for i := 0; i < 2000; i++ {
		name := fmt.Sprintf("s%d", rng.Intn(300))
		if id, ok := live[name]; ok {
			if _, err := tr.Remove(id, false); err != nil {
				t.Fatal(err)
			}
			delete(live, name)
		} else {
			live[name] = mustInsert(t, tr, RootID, name, fs.TypeStream)
		}
		if i%50 == 0 {
			checkTree(t, tr)
		}
	}
	checkTree(t, tr)
	if got := len(childNames(t, tr, RootID)); got != len(live) {
		t.Errorf("%d children, want %d", got, len(live))
	}
}

func TestRenameAndMove(t *testing.T) {
	tr := New()
	a := mustInsert(t, tr, RootID, "a", fs.TypeStorage)
	b := mustInsert(t, tr, RootID, "b", fs.TypeStorage)
	s := mustInsert(t, tr, a, "s", fs.TypeStream)
	mustInsert(t, tr, b, "t", fs.TypeStream)

	if err := tr.Rename(s, "S"); err != nil {
		t.Fatalf("case-only Rename: %v", err)
	}
	if err := tr.Move(s, b, "T"); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("Move onto existing name = %v, want ErrExist", err)
	}
	if err := tr.Move(a, a, "x"); !errors.Is(err, fs.ErrInvalidArgs) {
		t.Fatalf("Move into itself = %v, want ErrInvalidArgs", err)
	}
	if err := tr.Rename(RootID, "x"); !errors.Is(err, fs.ErrRoot) {
		t.Fatalf("Rename(root) = %v, want ErrRoot", err)
	}
	if err := tr.Move(s, b, "moved"); err != nil {
		t.Fatal(err)
	}
	if got := tr.Path(s); got != "b/moved" {
		t.Errorf("Path() = %q, want b/moved", got)
	}
	if diff := cmp.Diff([]string{"t", "moved"}, childNames(t, tr, b)); diff != "" {
		t.Errorf("children of b (-want +got):\n%s", diff)
	}
	if names := childNames(t, tr, a); len(names) != 0 {
		t.Errorf("a still has children %v", names)
	}
	checkTree(t, tr)
}

func TestWalk(t *testing.T) {
	tr := New()
	dir := mustInsert(t, tr, RootID, "Data", fs.TypeStorage)
	mustInsert(t, tr, dir, "Doc1", fs.TypeStream)
	mustInsert(t, tr, RootID, "Z", fs.TypeStream)
	var paths []string
	if err := tr.Walk(RootID, func(_ ID, path string) error {
		paths = append(paths, path)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"", "Z", "Data", "Data/Doc1"}, paths); diff != "" {
		t.Errorf("Walk paths (-want +got):\n%s", diff)
	}
}

func TestEntryCodec(t *testing.T) {
	created := time.Date(2020, 5, 17, 10, 30, 0, 123456700, time.UTC)
	e := Entry{
		Name:        "Workbook",
		Type:        fs.TypeStream,
		Color:       Black,
		Left:        3,
		Right:       NoStream,
		Child:       NoStream,
		CLSID:       uuid.MustParse("00020820-0000-0000-c000-000000000046"),
		StateBits:   0x42,
		Created:     created,
		Modified:    created.Add(time.Hour),
		StartSector: 9,
		StreamSize:  10000,
	}
	b, err := e.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 'W' || b[1] != 0 || b[64] != 18 {
		t.Errorf("name encoded as % x, length %d", b[:4], b[64])
	}
	// The first CLSID field is little-endian on disk.
	if b[80] != 0x20 || b[81] != 0x08 || b[82] != 0x02 || b[88] != 0xc0 {
		t.Errorf("CLSID encoded as % x", b[80:96])
	}
	got, err := UnmarshalEntry(b, 1, header.V3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalEntryVersion3IgnoresHighSize(t *testing.T) {
	e := Entry{Name: "s", Type: fs.TypeStream, Left: NoStream, Right: NoStream, Child: NoStream, StreamSize: 1<<32 | 5}
	b, _ := e.MarshalBinary()
	v3, _ := UnmarshalEntry(b, 1, header.V3)
	v4, _ := UnmarshalEntry(b, 1, header.V4)
	if v3.StreamSize != 5 || v4.StreamSize != 1<<32|5 {
		t.Errorf("sizes %d (v3), %d (v4)", v3.StreamSize, v4.StreamSize)
	}
}

func TestUnmarshalEntryRejects(t *testing.T) {
	e := Entry{Name: "s", Type: fs.TypeStream}
	b, _ := e.MarshalBinary()
	b[66] = 3
	if _, err := UnmarshalEntry(b, 4, header.V3); !errors.Is(err, fs.ErrCorruptDirectory) {
		t.Errorf("bad type: %v", err)
	}
	b[66] = 2
	b[64] = 200
	if _, err := UnmarshalEntry(b, 4, header.V3); !errors.Is(err, fs.ErrCorruptDirectory) {
		t.Errorf("bad name length: %v", err)
	}
	b[64] = 4
	binary.LittleEndian.PutUint64(b[120:], 1<<63)
	if _, err := UnmarshalEntry(b, 4, header.V4); !errors.Is(err, fs.ErrCorruptDirectory) {
		t.Errorf("size 1<<63: %v", err)
	}
	if e, err := UnmarshalEntry(b, 4, header.V3); err != nil || e.StreamSize != 0 {
		t.Errorf("version 3 size = %d, %v; want the high bits ignored", e.StreamSize, err)
	}
}

func TestEncodeRejectsInvalidName(t *testing.T) {
	_, err := Encode([]Entry{Unused(), {Name: "", Type: fs.TypeStream}}, 512)
	if !errors.Is(err, fs.ErrInvalidName) {
		t.Fatalf("Encode() = %v, want %v", err, fs.ErrInvalidName)
	}
	if !strings.Contains(err.Error(), "directory entry 1") {
		t.Errorf("Encode() = %q, want the entry index in the message", err)
	}
}

func TestFlattenLoadRoundTrip(t *testing.T) {
	tr := New()
	dir := mustInsert(t, tr, RootID, "Data", fs.TypeStorage)
	doc := mustInsert(t, tr, dir, "Doc1", fs.TypeStream)
	for i := 0; i < 10; i++ {
		mustInsert(t, tr, RootID, fmt.Sprintf("stream%d", i), fs.TypeStream)
	}
	if err := tr.SetData(doc, 4, 10000); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetCLSID(dir, uuid.MustParse("11111111-2222-3333-4444-555555555555")); err != nil {
		t.Fatal(err)
	}

	entries, order := tr.Flatten()
	if len(entries) != tr.Len() || order[0] != RootID {
		t.Fatalf("Flatten returned %d entries starting at %d", len(entries), order[0])
	}
	data, err := Encode(entries, 512)
	if err != nil {
		t.Fatal(err)
	}
	if len(data)%512 != 0 {
		t.Fatalf("encoded directory is %d bytes", len(data))
	}
	decoded, err := Decode(data, header.V3)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(decoded)
	if err != nil {
		t.Fatal(err)
	}
	checkTree(t, loaded)

	collect := func(tr *Tree) map[string]Entry {
		out := map[string]Entry{}
		tr.Walk(RootID, func(id ID, path string) error {
			e, _ := tr.Entry(id)
			e.Left, e.Right, e.Child, e.Color = 0, 0, 0, 0
			out[path] = e
			return nil
		})
		return out
	}
	if diff := cmp.Diff(collect(tr), collect(loaded)); diff != "" {
		t.Errorf("Load(Flatten()) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsCorruption(t *testing.T) {
	root := Entry{Name: RootName, Type: fs.TypeRoot, Left: NoStream, Right: NoStream, Child: 1}
	stream := func(name string, left, right ID) Entry {
		return Entry{Name: name, Type: fs.TypeStream, Left: left, Right: right, Child: NoStream}
	}
	for _, test := range []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"no root", []Entry{stream("a", NoStream, NoStream)}},
		{"self cycle", []Entry{root, stream("a", 1, NoStream)}},
		{"cycle", []Entry{root, stream("a", 2, NoStream), stream("b", NoStream, 1)}},
		{"out of range", []Entry{root, stream("a", 9, NoStream)}},
		{"duplicate", []Entry{root, stream("a", 2, NoStream), stream("A", NoStream, NoStream)}},
		{"link to unused", []Entry{root, stream("a", 2, NoStream), Unused()}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Load(test.entries); !errors.Is(err, fs.ErrCorruptDirectory) {
				t.Fatalf("Load() = %v, want ErrCorruptDirectory", err)
			}
		})
	}
}

func TestLoadRebalancesDegenerateTree(t *testing.T) {
	// A right-leaning chain of 20 siblings, all black: a valid search tree but not a
	// red-black tree.
	entries := []Entry{{Name: RootName, Type: fs.TypeRoot, Left: NoStream, Right: NoStream, Child: 1}}
	for i := 1; i <= 20; i++ {
		right := ID(i + 1)
		if i == 20 {
			right = NoStream
		}
		entries = append(entries, Entry{
			Name:  fmt.Sprintf("n%02d", i),
			Type:  fs.TypeStream,
			Color: Black,
			Left:  NoStream,
			Right: right,
			Child: NoStream,
		})
	}
	tr, err := Load(entries)
	if err != nil {
		t.Fatal(err)
	}
	checkTree(t, tr)
	if n := len(childNames(t, tr, RootID)); n != 20 {
		t.Errorf("%d children, want 20", n)
	}
}

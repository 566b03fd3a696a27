// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cfb reads and writes Compound File Binary containers (also known as OLE2 or
// structured storage files): a small filesystem of storages and streams packed into one file.
//
// A container is loaded completely into memory by Open, edited in memory, and written out in
// full by Save, which lays every structure out again from scratch. Paths are '/'-separated and
// relative to the root storage; "" and "/" name the root. Names compare case-insensitively.
//
// A File is not safe for concurrent use.
package cfb

import (
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.fuchsia.dev/cfb/directory"
	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
	"go.fuchsia.dev/cfb/header"
	"go.fuchsia.dev/cfb/ministream"
	"go.fuchsia.dev/cfb/sector"
	"go.fuchsia.dev/cfb/stream"
)

type state int

const (
	stateOpen state = iota
	stateSaving
	stateClosed
)

// File is an open compound file.
type File struct {
	opts    Options
	version header.Version
	tree    *directory.Tree
	regular *sector.Manager
	mini    *ministream.Manager
	state   state

	damaged map[directory.ID]error     // Streams whose chains failed to load
	handles map[directory.ID][]*handle // Open streams, by entry
}

type handle struct {
	s    *stream.Stream
	gone bool // The entry was removed or replaced
}

// Info describes an entry.
type Info struct {
	Name      string
	Type      fs.ObjectType
	Size      int64 // Zero for storages
	CLSID     uuid.UUID
	StateBits uint32
	Created   time.Time
	Modified  time.Time
}

// IsDir reports whether the entry is a storage (or the root).
func (i Info) IsDir() bool {
	return i.Type.IsContainer()
}

// entryRef binds a directory entry to the stream and mini stream layers.
type entryRef struct {
	tree *directory.Tree
	id   directory.ID
}

func (r entryRef) Start() uint32 {
	start, _ := r.tree.Data(r.id)
	return start
}

func (r entryRef) Size() int64 {
	_, size := r.tree.Data(r.id)
	return int64(size)
}

func (r entryRef) SetData(start uint32, size int64) {
	if err := r.tree.SetData(r.id, start, uint64(size)); err != nil {
		panic(err)
	}
}

// New returns an empty container.
func New(opts *Options) (*File, error) {
	o := opts.withDefaults()
	h, err := header.New(o.Version)
	if err != nil {
		return nil, err
	}
	pool, err := sector.NewPool(h.SectorSize())
	if err != nil {
		return nil, err
	}
	f := &File{
		opts:    o,
		version: o.Version,
		tree:    directory.New(),
		regular: sector.NewManager(fat.New("FAT", nil), pool),
		damaged: map[directory.ID]error{},
		handles: map[directory.ID][]*handle{},
	}
	f.mini, err = ministream.New(fat.New("MiniFAT", nil), f.regular, entryRef{f.tree, directory.RootID})
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("cfb: created empty %s container", o.Version)
	return f, nil
}

func (f *File) usable(write bool) error {
	switch {
	case f.state == stateClosed:
		return fs.ErrClosed
	case write && f.state == stateSaving:
		return fs.ErrBusy
	}
	return nil
}

// Version returns the format version of the container.
func (f *File) Version() header.Version {
	return f.version
}

// NumSectors returns the number of regular sectors addressed by the working FAT, in use or free.
func (f *File) NumSectors() int {
	return f.regular.NumSectors()
}

// FreeSectors returns the number of free regular sectors in the working FAT.
func (f *File) FreeSectors() int {
	return f.regular.FreeSectors()
}

// Close releases the container. Streams opened from it stop working.
func (f *File) Close() error {
	if f.state == stateClosed {
		return fs.ErrClosed
	}
	glog.V(1).Info("cfb: closing container")
	f.state = stateClosed
	f.handles = nil
	return nil
}

func splitPath(op, path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, &fs.PathError{Op: op, Path: path, Err: fs.ErrInvalidName}
		}
	}
	return parts, nil
}

func pathErr(op, path string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: path, Err: errors.Cause(err)}
}

// resolve returns the entry named by path.
func (f *File) resolve(op, path string) (directory.ID, error) {
	parts, err := splitPath(op, path)
	if err != nil {
		return directory.NoStream, err
	}
	id := directory.RootID
	for _, name := range parts {
		if id, err = f.tree.Find(id, name); err != nil {
			return directory.NoStream, pathErr(op, path, err)
		}
	}
	return id, nil
}

// resolveParent returns the storage which holds, or would hold, the last element of path,
// along with that element's name.
func (f *File) resolveParent(op, path string) (directory.ID, string, error) {
	parts, err := splitPath(op, path)
	if err != nil {
		return directory.NoStream, "", err
	}
	if len(parts) == 0 {
		return directory.NoStream, "", &fs.PathError{Op: op, Path: path, Err: fs.ErrRoot}
	}
	parent, err := f.resolve(op, strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return directory.NoStream, "", err
	}
	if !f.tree.Type(parent).IsContainer() {
		return directory.NoStream, "", &fs.PathError{Op: op, Path: path, Err: fs.ErrNotStorage}
	}
	return parent, parts[len(parts)-1], nil
}

func (f *File) info(id directory.ID) Info {
	e, err := f.tree.Entry(id)
	if err != nil {
		panic(err)
	}
	i := Info{
		Name:      e.Name,
		Type:      e.Type,
		CLSID:     e.CLSID,
		StateBits: e.StateBits,
		Created:   e.Created,
		Modified:  e.Modified,
	}
	if e.Type == fs.TypeStream {
		i.Size = int64(e.StreamSize)
	}
	return i
}

// Stat describes the entry at path.
func (f *File) Stat(path string) (Info, error) {
	if err := f.usable(false); err != nil {
		return Info{}, err
	}
	id, err := f.resolve("stat", path)
	if err != nil {
		return Info{}, err
	}
	return f.info(id), nil
}

// ReadDir lists the entries of the storage at path in directory order.
func (f *File) ReadDir(path string) ([]Info, error) {
	if err := f.usable(false); err != nil {
		return nil, err
	}
	id, err := f.resolve("readdir", path)
	if err != nil {
		return nil, err
	}
	children, err := f.tree.Children(id)
	if err != nil {
		return nil, pathErr("readdir", path, err)
	}
	out := make([]Info, len(children))
	for i, c := range children {
		out[i] = f.info(c)
	}
	return out, nil
}

// Walk calls fn for the entry at root and every entry below it, parents first and siblings in
// directory order. If fn returns an error the walk stops and Walk returns it.
func (f *File) Walk(root string, fn func(path string, info Info) error) error {
	if err := f.usable(false); err != nil {
		return err
	}
	id, err := f.resolve("walk", root)
	if err != nil {
		return err
	}
	base := strings.Trim(root, "/")
	return f.tree.Walk(id, func(id directory.ID, rel string) error {
		p := base
		switch {
		case p == "":
			p = rel
		case rel != "":
			p += "/" + rel
		}
		return fn(p, f.info(id))
	})
}

// Mkdir creates a storage at path. Its parent must exist.
func (f *File) Mkdir(path string) error {
	if err := f.usable(true); err != nil {
		return err
	}
	parent, name, err := f.resolveParent("mkdir", path)
	if err != nil {
		return err
	}
	_, err = f.mkdir(parent, name)
	return pathErrOrNil("mkdir", path, err)
}

func (f *File) mkdir(parent directory.ID, name string) (directory.ID, error) {
	id, err := f.tree.Insert(parent, name, fs.TypeStorage)
	if err != nil {
		return directory.NoStream, err
	}
	now := f.opts.Now()
	return id, f.tree.SetTimes(id, now, now)
}

func pathErrOrNil(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return pathErr(op, path, err)
}

// MkdirAll creates the storage at path along with any missing parents.
func (f *File) MkdirAll(path string) error {
	if err := f.usable(true); err != nil {
		return err
	}
	parts, err := splitPath("mkdir", path)
	if err != nil {
		return err
	}
	id := directory.RootID
	for _, name := range parts {
		next, err := f.tree.Find(id, name)
		switch {
		case err == nil:
			if !f.tree.Type(next).IsContainer() {
				return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrNotStorage}
			}
		case errors.Is(err, fs.ErrNotFound):
			if next, err = f.mkdir(id, name); err != nil {
				return pathErr("mkdir", path, err)
			}
		default:
			return pathErr("mkdir", path, err)
		}
		id = next
	}
	return nil
}

// Create creates an empty stream at path and opens it. It fails with fs.ErrExist if an entry
// with the same name exists.
func (f *File) Create(path string) (*stream.Stream, error) {
	if err := f.usable(true); err != nil {
		return nil, err
	}
	parent, name, err := f.resolveParent("create", path)
	if err != nil {
		return nil, err
	}
	id, err := f.tree.Insert(parent, name, fs.TypeStream)
	if err != nil {
		return nil, pathErr("create", path, err)
	}
	return f.openStream(id), nil
}

// OpenStream opens the stream at path for reading and writing.
func (f *File) OpenStream(path string) (*stream.Stream, error) {
	if err := f.usable(false); err != nil {
		return nil, err
	}
	id, err := f.streamAt("open", path)
	if err != nil {
		return nil, err
	}
	return f.openStream(id), nil
}

// streamAt resolves path to a stream whose data is intact.
func (f *File) streamAt(op, path string) (directory.ID, error) {
	id, err := f.resolve(op, path)
	if err != nil {
		return directory.NoStream, err
	}
	if f.tree.Type(id) != fs.TypeStream {
		return directory.NoStream, &fs.PathError{Op: op, Path: path, Err: fs.ErrNotStream}
	}
	if err, ok := f.damaged[id]; ok {
		return directory.NoStream, &fs.PathError{Op: op, Path: path, Err: err}
	}
	return id, nil
}

func (f *File) openStream(id directory.ID) *stream.Stream {
	h := &handle{}
	h.s = stream.New(entryRef{f.tree, id}, f.stores())
	h.s.SetGuard(func(write bool) error {
		if h.gone {
			return fs.ErrNotFound
		}
		return f.usable(write)
	})
	h.s.OnClose(func() {
		hs := f.handles[id]
		for i, other := range hs {
			if other == h {
				f.handles[id] = append(hs[:i], hs[i+1:]...)
				break
			}
		}
		if len(f.handles[id]) == 0 {
			delete(f.handles, id)
		}
	})
	f.handles[id] = append(f.handles[id], h)
	return h.s
}

func (f *File) stores() stream.Stores {
	return stream.Stores{
		Regular: f.regular,
		Mini:    f.mini,
		Cutoff:  header.MiniStreamCutoff,
	}
}

// detach stops every open stream of an entry from working.
func (f *File) detach(id directory.ID) {
	for _, h := range f.handles[id] {
		h.gone = true
	}
	delete(f.handles, id)
}

// Remove deletes the stream or empty storage at path.
func (f *File) Remove(path string) error {
	return f.remove("remove", path, false)
}

// RemoveAll deletes the entry at path and everything below it.
func (f *File) RemoveAll(path string) error {
	return f.remove("removeall", path, true)
}

func (f *File) remove(op, path string, recursive bool) error {
	if err := f.usable(true); err != nil {
		return err
	}
	id, err := f.resolve(op, path)
	if err != nil {
		return err
	}
	var ids []directory.ID
	err = f.tree.Walk(id, func(id directory.ID, _ string) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return pathErr(op, path, err)
	}
	removed, err := f.tree.Remove(id, recursive)
	if err != nil {
		return pathErr(op, path, err)
	}
	for i, e := range removed {
		id := ids[i]
		f.detach(id)
		if _, ok := f.damaged[id]; ok {
			delete(f.damaged, id)
			continue
		}
		if e.Type != fs.TypeStream || e.StreamSize == 0 {
			continue
		}
		if err := f.storeFor(int64(e.StreamSize)).Free(e.StartSector); err != nil {
			return errors.Wrapf(err, "releasing data of %q", path)
		}
	}
	return nil
}

func (f *File) storeFor(size int64) stream.Store {
	if size < header.MiniStreamCutoff {
		return f.mini
	}
	return f.regular
}

// Rename moves the entry at oldPath to newPath, which may be in another storage. It fails with
// fs.ErrExist if newPath names a different existing entry.
func (f *File) Rename(oldPath, newPath string) error {
	if err := f.usable(true); err != nil {
		return err
	}
	id, err := f.resolve("rename", oldPath)
	if err != nil {
		return err
	}
	if id == directory.RootID {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: fs.ErrRoot}
	}
	parent, name, err := f.resolveParent("rename", newPath)
	if err != nil {
		return err
	}
	return pathErrOrNil("rename", newPath, f.tree.Move(id, parent, name))
}

// ReadFile returns the contents of the stream at path.
func (f *File) ReadFile(path string) ([]byte, error) {
	if err := f.usable(false); err != nil {
		return nil, err
	}
	id, err := f.streamAt("read", path)
	if err != nil {
		return nil, err
	}
	return f.readStream(id)
}

func (f *File) readStream(id directory.ID) ([]byte, error) {
	s := stream.New(entryRef{f.tree, id}, f.stores())
	buf := make([]byte, s.Size())
	if _, err := s.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// WriteFile replaces the contents of the stream at path with data, creating the stream if it
// does not exist.
func (f *File) WriteFile(path string, data []byte) error {
	if err := f.usable(true); err != nil {
		return err
	}
	parent, name, err := f.resolveParent("write", path)
	if err != nil {
		return err
	}
	id, err := f.tree.Find(parent, name)
	switch {
	case errors.Is(err, fs.ErrNotFound):
		if id, err = f.tree.Insert(parent, name, fs.TypeStream); err != nil {
			return pathErr("write", path, err)
		}
	case err != nil:
		return pathErr("write", path, err)
	case f.tree.Type(id) != fs.TypeStream:
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrNotStream}
	}

	if _, ok := f.damaged[id]; ok {
		// The old chain cannot be followed, so it is abandoned rather than freed. Save does not
		// carry unreferenced sectors over.
		glog.Warningf("cfb: replacing damaged stream %q", path)
		delete(f.damaged, id)
		if err := f.tree.SetData(id, fat.EndOfChain, 0); err != nil {
			return err
		}
	}
	s := stream.New(entryRef{f.tree, id}, f.stores())
	if err := s.Truncate(0); err != nil {
		return errors.Wrapf(err, "truncating %q", path)
	}
	if _, err := s.WriteAt(data, 0); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return nil
}

// SetCLSID sets the class id of the entry at path.
func (f *File) SetCLSID(path string, clsid uuid.UUID) error {
	if err := f.usable(true); err != nil {
		return err
	}
	id, err := f.resolve("setclsid", path)
	if err != nil {
		return err
	}
	return f.tree.SetCLSID(id, clsid)
}

// SetStateBits sets the user-defined state bits of the entry at path.
func (f *File) SetStateBits(path string, bits uint32) error {
	if err := f.usable(true); err != nil {
		return err
	}
	id, err := f.resolve("setstatebits", path)
	if err != nil {
		return err
	}
	return f.tree.SetStateBits(id, bits)
}

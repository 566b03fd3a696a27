// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stream implements random-access reads and writes of a single stream's contents.
//
// A stream smaller than the mini stream cutoff keeps its data in mini sectors; a larger one uses
// regular sectors. Resizing across the cutoff moves the data from one store to the other.
package stream

import (
	"fmt"
	"io"

	"github.com/golang/glog"

	"go.fuchsia.dev/cfb/fat"
	"go.fuchsia.dev/cfb/fs"
)

// Store allocates fixed-size sectors through an allocation table.
type Store interface {
	// Name identifies the store's table in errors.
	Name() string
	// SectorSize returns the size of each sector.
	SectorSize() int64
	// Collect returns the sectors of the chain starting at head.
	Collect(head uint32) ([]uint32, error)
	// Resize grows or shrinks a chain to n sectors, zeroing new sectors, and returns its head.
	Resize(head uint32, n int) (uint32, error)
	// Free releases a chain.
	Free(head uint32) error
	// Sector returns the contents of a sector. Writes to the slice change the sector.
	Sector(id uint32) ([]byte, error)
}

// Entry is the directory entry recording where a stream's data lives.
type Entry interface {
	Start() uint32
	Size() int64
	SetData(start uint32, size int64)
}

// Stores are the two places stream data may live.
type Stores struct {
	Regular Store
	Mini    Store
	Cutoff  int64 // Streams at least this large use Regular
}

// Stream is an open stream. It implements io.Reader, io.Writer, io.Seeker, io.ReaderAt,
// io.WriterAt and io.Closer. It is not safe for concurrent use.
type Stream struct {
	entry  Entry
	stores Stores
	offset int64
	closed bool

	// guard is consulted before every operation; a non-nil error aborts it.
	guard   func(write bool) error
	onClose func()
}

// New opens the stream described by entry.
func New(entry Entry, stores Stores) *Stream {
	return &Stream{
		entry:  entry,
		stores: stores,
	}
}

// SetGuard installs a check run before every operation. write is set for operations which
// modify the stream.
func (s *Stream) SetGuard(guard func(write bool) error) {
	s.guard = guard
}

// OnClose registers a function to call once the stream is closed.
func (s *Stream) OnClose(f func()) {
	s.onClose = f
}

func (s *Stream) check(write bool) error {
	if s.closed {
		return fs.ErrClosed
	}
	if s.guard != nil {
		return s.guard(write)
	}
	return nil
}

// Size returns the current length of the stream.
func (s *Stream) Size() int64 {
	return s.entry.Size()
}

func (s *Stream) storeFor(size int64) Store {
	if size < s.stores.Cutoff {
		return s.stores.Mini
	}
	return s.stores.Regular
}

// head returns the first sector of the stream's chain. An empty stream has no chain, whatever
// its entry records.
func (s *Stream) head() uint32 {
	if s.entry.Size() == 0 {
		return fat.EndOfChain
	}
	return s.entry.Start()
}

// chain returns the sectors holding the stream, failing if they cannot hold its size.
func (s *Stream) chain() (Store, []uint32, error) {
	size := s.entry.Size()
	store := s.storeFor(size)
	head := s.head()
	if size < 0 {
		return nil, nil, &fs.CorruptChainError{Table: store.Name(), Head: head, Sector: head, Reason: "stream size out of range"}
	}
	chain, err := store.Collect(head)
	if err != nil {
		return nil, nil, err
	}
	ss := store.SectorSize()
	if need := (size + ss - 1) / ss; int64(len(chain)) < need {
		return nil, nil, &fs.CorruptChainError{
			Table:  store.Name(),
			Head:   head,
			Sector: fat.EndOfChain,
			Reason: fmt.Sprintf("chain holds %d sectors, stream of %d bytes needs %d", len(chain), size, need),
		}
	}
	return store, chain, nil
}

// ReadAt reads len(p) bytes starting at off. Reading at or past the end of the stream returns
// io.EOF.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := s.check(false); err != nil {
		return 0, err
	}
	return s.readAt(p, off)
}

func (s *Stream) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalidArgs
	}
	size := s.entry.Size()
	if off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	want := p
	if rem := size - off; int64(len(want)) > rem {
		want = want[:rem]
	}
	store, chain, err := s.chain()
	if err != nil {
		return 0, err
	}
	n, err := transfer(store, chain, want, off, false)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p starting at off, growing the stream if needed. Bytes between the old end of
// the stream and off read as zeros.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if err := s.check(true); err != nil {
		return 0, err
	}
	return s.writeAt(p, off)
}

func (s *Stream) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalidArgs
	}
	if len(p) == 0 {
		return 0, nil
	}
	if end := off + int64(len(p)); end > s.entry.Size() {
		if err := s.resize(end); err != nil {
			return 0, err
		}
	}
	store, chain, err := s.chain()
	if err != nil {
		return 0, err
	}
	return transfer(store, chain, p, off, true)
}

// transfer copies between p and the stream bytes starting at off.
func transfer(store Store, chain []uint32, p []byte, off int64, write bool) (int, error) {
	ss := store.SectorSize()
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		buf, err := store.Sector(chain[pos/ss])
		if err != nil {
			return n, err
		}
		buf = buf[pos%ss:]
		if write {
			n += copy(buf, p[n:])
		} else {
			n += copy(p[n:], buf)
		}
	}
	return n, nil
}

// Truncate changes the size of the stream. Growing it appends zeros.
func (s *Stream) Truncate(size int64) error {
	if err := s.check(true); err != nil {
		return err
	}
	if size < 0 {
		return fs.ErrInvalidArgs
	}
	return s.resize(size)
}

// resize changes the stream's length, moving its data between stores when the new size falls
// on the other side of the cutoff.
func (s *Stream) resize(size int64) error {
	oldSize := s.entry.Size()
	if size == oldSize {
		return nil
	}
	from, to := s.storeFor(oldSize), s.storeFor(size)
	if from != to {
		return s.migrate(size, to)
	}

	// Bytes past the old end of the last sector may hold stale data.
	if size > oldSize {
		if err := s.zeroTail(oldSize, size); err != nil {
			return err
		}
	}
	ss := to.SectorSize()
	head, err := to.Resize(s.head(), int((size+ss-1)/ss))
	if err != nil {
		return err
	}
	s.entry.SetData(head, size)
	return nil
}

// zeroTail clears the bytes of the current last sector which lie between the end of the stream
// and newSize.
func (s *Stream) zeroTail(oldSize, newSize int64) error {
	if oldSize == 0 {
		return nil
	}
	store, chain, err := s.chain()
	if err != nil {
		return err
	}
	ss := store.SectorSize()
	if oldSize%ss == 0 {
		return nil
	}
	buf, err := store.Sector(chain[(oldSize-1)/ss])
	if err != nil {
		return err
	}
	end := ss
	if rem := newSize - (oldSize - oldSize%ss); rem < end {
		end = rem
	}
	for i := oldSize % ss; i < end; i++ {
		buf[i] = 0
	}
	return nil
}

// migrate moves the stream into the store to, leaving it size bytes long. The entry is updated
// only once the data is in place, and the old chain is released last.
func (s *Stream) migrate(size int64, to Store) error {
	oldSize := s.entry.Size()
	keep := oldSize
	if size < keep {
		keep = size
	}
	data := make([]byte, keep)
	if _, err := s.readAt(data, 0); err != nil && err != io.EOF {
		return err
	}
	from, oldHead := s.storeFor(oldSize), s.head()

	ss := to.SectorSize()
	head, err := to.Resize(fat.EndOfChain, int((size+ss-1)/ss))
	if err != nil {
		return err
	}
	chain, err := to.Collect(head)
	if err != nil {
		return err
	}
	if _, err := transfer(to, chain, data, 0, true); err != nil {
		return err
	}
	s.entry.SetData(head, size)
	glog.V(2).Infof("stream: moved %d bytes from %s to %s", keep, from.Name(), to.Name())
	return from.Free(oldHead)
}

// Read reads from the current offset.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.check(false); err != nil {
		return 0, err
	}
	n, err := s.readAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

// Write writes at the current offset.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.check(true); err != nil {
		return 0, err
	}
	n, err := s.writeAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

// Seek sets the offset for the next Read or Write. Seeking past the end is allowed; a later
// Write fills the gap with zeros.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if err := s.check(false); err != nil {
		return 0, err
	}
	switch whence {
	case fs.WhenceFromStart:
	case fs.WhenceFromCurrent:
		offset += s.offset
	case fs.WhenceFromEnd:
		offset += s.entry.Size()
	default:
		return 0, fs.ErrInvalidArgs
	}
	if offset < 0 {
		return 0, fs.ErrInvalidArgs
	}
	s.offset = offset
	return offset, nil
}

// Close closes the stream. Data is already part of the container; it becomes durable with the
// next save.
func (s *Stream) Close() error {
	if s.closed {
		return fs.ErrClosed
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

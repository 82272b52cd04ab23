// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgzf

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// DefaultFetchSize is the number of compressed bytes a Reader requests
	// from its source at a time.
	DefaultFetchSize = MaximumBlockSize

	// DefaultDelimiters are the line terminators used by ReadLine when no
	// delimiters are given.
	DefaultDelimiters = "\n\r"
)

// Reader is a cursor over the decompressed content of a BGZF file.  Blocks are
// fetched from the source and decoded only when they are needed, and the
// cursor always knows the virtual address of the next unread byte.  A Reader
// must not be used from multiple goroutines.
type Reader struct {
	window window

	// next is the offset of the next block to decode.
	next int64
	// text holds decoded data that has not been returned yet.  Its bytes
	// belong to the blocks in spans, in order.
	text  []byte
	spans []span
	addr  Address
}

type span struct {
	offset, next      int64
	length, remaining int
}

// NewReader returns a Reader positioned at the start of src.  Compressed data
// is requested from src in windows of fetchSize bytes (or DefaultFetchSize if
// fetchSize is not positive).
func NewReader(src io.ReaderAt, size int64, fetchSize int) *Reader {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	return &Reader{window: window{src: src, size: size, fetchSize: fetchSize}}
}

// Size returns the compressed size of the underlying source.
func (r *Reader) Size() int64 {
	return r.window.size
}

// Tell returns the address of the next unread byte.
func (r *Reader) Tell() Address {
	return r.addr
}

// Seek discards any buffered data and positions the reader at addr.  It
// returns an error wrapping ErrTruncatedSource if the block at addr holds
// fewer than addr.DataOffset() bytes.
func (r *Reader) Seek(addr Address) error {
	offset := int64(addr.BlockOffset())
	if offset > r.window.size {
		return fmt.Errorf("seeking to %s past end of source: %w", addr, ErrTruncatedSource)
	}
	r.text, r.spans = nil, nil
	r.next = offset
	r.addr = NewAddress(uint64(offset), 0)

	want := int(addr.DataOffset())
	if want == 0 {
		return nil
	}
	if _, err := r.load(); err != nil {
		if err == io.EOF {
			err = ErrTruncatedSource
		}
		return fmt.Errorf("seeking to %s: %w", addr, err)
	}
	if len(r.spans) == 0 || r.spans[0].length < want {
		return fmt.Errorf("seeking to %s: block holds fewer than %d bytes: %w", addr, want, ErrTruncatedSource)
	}
	r.advance(want)
	return nil
}

// Read implements io.Reader over the decompressed stream.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.text) == 0 {
		if _, err := r.load(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.text)
	r.advance(n)
	return n, nil
}

// ReadN returns up to n decompressed bytes.  Fewer bytes are only returned at
// the end of the source, and io.EOF is returned if no bytes remain.
func (r *Reader) ReadN(n int) ([]byte, error) {
	for len(r.text) < n {
		if _, err := r.load(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	if n > len(r.text) {
		n = len(r.text)
	}
	if n == 0 && len(r.text) == 0 && r.next >= r.window.size {
		return nil, io.EOF
	}
	return r.consume(n), nil
}

// ReadChunk returns the remaining data in the current block without crossing
// into the next block.
func (r *Reader) ReadChunk() ([]byte, error) {
	for len(r.spans) == 0 {
		if _, err := r.load(); err != nil {
			return nil, err
		}
	}
	return r.consume(r.spans[0].remaining), nil
}

// ReadUntil reads forward, one block at a time, until the reader reaches
// addr.  Nothing is returned if the reader is already at or past addr.
func (r *Reader) ReadUntil(addr Address) ([]byte, error) {
	var out []byte
	for r.addr.BlockOffset() < addr.BlockOffset() {
		chunk, err := r.ReadChunk()
		if err == io.EOF {
			return out, fmt.Errorf("reading until %s: %w", addr, ErrTruncatedSource)
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
	if r.addr.BlockOffset() != addr.BlockOffset() || r.addr.DataOffset() >= addr.DataOffset() {
		return out, nil
	}

	want := int(addr.DataOffset() - r.addr.DataOffset())
	rest, err := r.ReadN(want)
	if err != nil && err != io.EOF {
		return out, err
	}
	if len(rest) != want {
		return out, fmt.Errorf("reading until %s: %w", addr, ErrTruncatedSource)
	}
	return append(out, rest...), nil
}

// ReadLine returns the data up to and including the first byte found in
// delims.  If delims is empty DefaultDelimiters is used, and a carriage return
// immediately followed by a newline is treated as a single terminator even if
// the pair spans two blocks.  The final line of the stream is returned
// without a terminator; io.EOF is returned once the stream is exhausted.
func (r *Reader) ReadLine(delims string) ([]byte, error) {
	if delims == "" {
		delims = DefaultDelimiters
	}
	scanned := 0
	for {
		if i := bytes.IndexAny(r.text[scanned:], delims); i >= 0 {
			end := scanned + i + 1
			if delims == DefaultDelimiters && r.text[end-1] == '\r' {
				if end == len(r.text) {
					if _, err := r.load(); err != nil && err != io.EOF {
						return nil, err
					}
				}
				if end < len(r.text) && r.text[end] == '\n' {
					end++
				}
			}
			return r.consume(end), nil
		}
		scanned = len(r.text)
		if _, err := r.load(); err != nil {
			if err != io.EOF {
				return nil, err
			}
			if len(r.text) == 0 {
				return nil, io.EOF
			}
			return r.consume(len(r.text)), nil
		}
	}
}

// load decodes the next block and appends its data to the buffer.
func (r *Reader) load() (int, error) {
	if r.next >= r.window.size {
		return 0, io.EOF
	}
	block, err := DecodeBlock(io.NewSectionReader(&r.window, r.next, r.window.size-r.next))
	if err == io.EOF {
		return 0, fmt.Errorf("decoding block at %d: %w", r.next, ErrTruncatedSource)
	}
	if err != nil {
		return 0, fmt.Errorf("decoding block at %d: %w", r.next, err)
	}

	r.spans = append(r.spans, span{
		offset:    r.next,
		next:      r.next + int64(block.Size),
		length:    len(block.Data),
		remaining: len(block.Data),
	})
	r.text = append(r.text, block.Data...)
	r.next += int64(block.Size)
	r.settle()
	return len(block.Data), nil
}

func (r *Reader) consume(n int) []byte {
	out := make([]byte, n)
	copy(out, r.text)
	r.advance(n)
	return out
}

// advance drops n bytes from the front of the buffer and moves the address
// forward, rolling over to the next block whenever a block is used up.
func (r *Reader) advance(n int) {
	r.text = r.text[n:]
	for n > 0 {
		s := &r.spans[0]
		k := n
		if k > s.remaining {
			k = s.remaining
		}
		s.remaining -= k
		n -= k
		r.settle()
	}
	r.settle()
}

func (r *Reader) settle() {
	for len(r.spans) > 0 && r.spans[0].remaining == 0 {
		r.addr = NewAddress(uint64(r.spans[0].next), 0)
		r.spans = r.spans[1:]
	}
	if len(r.spans) > 0 {
		s := r.spans[0]
		r.addr = NewAddress(uint64(s.offset), uint16(s.length-s.remaining))
	}
}

// window caches a contiguous range of compressed bytes from the source so
// that consecutive small reads turn into a few large fetches.
type window struct {
	src       io.ReaderAt
	size      int64
	fetchSize int

	buf   []byte
	start int64
}

func (w *window) ReadAt(p []byte, off int64) (int, error) {
	if off >= w.size {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > w.size {
		end = w.size
	}
	if off < w.start || end > w.start+int64(len(w.buf)) {
		if err := w.fill(off, int(end-off)); err != nil {
			return 0, err
		}
	}
	n := copy(p, w.buf[off-w.start:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *window) fill(off int64, min int) error {
	n := w.fetchSize
	if min > n {
		n = min
	}
	if remaining := w.size - off; int64(n) > remaining {
		n = int(remaining)
	}
	if cap(w.buf) >= n {
		w.buf = w.buf[:n]
	} else {
		w.buf = make([]byte, n)
	}

	got, err := w.src.ReadAt(w.buf, off)
	if got < n {
		w.buf, w.start = w.buf[:0], 0
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("fetching %d bytes at %d: got %d: %w", n, off, got, ErrTruncatedSource)
		}
		return fmt.Errorf("fetching %d bytes at %d: %w", n, off, err)
	}
	w.start = off
	return nil
}

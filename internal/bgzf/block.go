// Copyright 2017 Google Inc.
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

// Package bgzf provides support for reading and writing BGZF files.
package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	// MaximumBlockSize is the maximum BGZF block size, both compressed and
	// uncompressed.
	MaximumBlockSize = 65536

	// MaximumDataSize is the largest amount of data that Writer places in a
	// single block.  It leaves headroom for incompressible input.
	MaximumDataSize = 0xff00

	// EOFMarkerSize is the size of the empty block that terminates a BGZF file.
	EOFMarkerSize = 28

	// DefaultCompression is the compression level used by EncodeBlock.
	DefaultCompression = flate.DefaultCompression

	fixedHeaderSize = 12
	headerSize      = 18
	trailerSize     = 8

	// Data smaller than this that still does not fit in a block is assumed to
	// be a codec failure rather than incompressible input.
	minimumSplitSize = 512
)

var (
	// ErrCorruptBlock is returned when a block header or trailer is invalid.
	ErrCorruptBlock = errors.New("corrupt BGZF block")
	// ErrTruncatedSource is returned when the source ends in the middle of a
	// block or a requested range.
	ErrTruncatedSource = errors.New("truncated source")
	// ErrIncompressible is returned when data cannot be made to fit in a block.
	ErrIncompressible = errors.New("data does not fit in a BGZF block")

	errBlockTooLarge = errors.New("compressed block too large")

	magic = []byte{0x1f, 0x8b, 0x08, 0x04}

	// The header of every block written by this package.  Bytes 16 and 17 hold
	// BSIZE and are filled in once the block has been compressed.
	header = []byte{
		0x1f, 0x8b, 0x08, 0x04, // Magic, compression method and flags.
		0x00, 0x00, 0x00, 0x00, // Modification time.
		0x00, 0xff, // Extra flags and operating system.
		0x06, 0x00, // Length of extra data (6 bytes).
		0x42, 0x43, // Extra ID.
		0x02, 0x00, // Length of extra subfield (2 bytes).
		0x00, 0x00, // BSIZE.
	}
)

// EOFMarker returns the empty block that terminates a complete BGZF file.
func EOFMarker() []byte {
	return []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00,
		0x00, 0xff, 0x06, 0x00, 0x42, 0x43, 0x02, 0x00,
		0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
}

// IsEOFMarker reports whether b is exactly the terminating empty block.
func IsEOFMarker(b []byte) bool {
	return bytes.Equal(b, EOFMarker())
}

// Block is a single decoded BGZF block.
type Block struct {
	// Size is the compressed size of the block, including header and trailer.
	Size int
	// Data is the decompressed content of the block.
	Data []byte
}

// DecodeBlock decodes a single BGZF block from r.  It returns io.EOF if r is
// empty, ErrTruncatedSource if r ends inside the block and ErrCorruptBlock if
// the block is malformed.  DecodeBlock never reads past the end of the block.
func DecodeBlock(r io.Reader) (*Block, error) {
	size, extra, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	body := make([]byte, size-fixedHeaderSize-len(extra))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading block body: %w", truncated(err))
	}
	payload, trailer := body[:len(body)-trailerSize], body[len(body)-trailerSize:]

	inflater := flate.NewReader(bytes.NewReader(payload))
	defer inflater.Close()
	data, err := io.ReadAll(inflater)
	if err != nil {
		return nil, fmt.Errorf("inflating block: %v: %w", err, ErrCorruptBlock)
	}

	if got, want := uint32(len(data)), binary.LittleEndian.Uint32(trailer[4:]); got != want {
		return nil, fmt.Errorf("wrong data length %d (wanted %d): %w", got, want, ErrCorruptBlock)
	}
	if got, want := crc32.ChecksumIEEE(data), binary.LittleEndian.Uint32(trailer[:4]); got != want {
		return nil, fmt.Errorf("wrong checksum %08x (wanted %08x): %w", got, want, ErrCorruptBlock)
	}
	return &Block{Size: size, Data: data}, nil
}

// ReadBlockSize reads only the header of the block at the start of r and
// returns the compressed size of the whole block.
func ReadBlockSize(r io.Reader) (int, error) {
	size, _, err := readHeader(r)
	return size, err
}

func readHeader(r io.Reader) (int, []byte, error) {
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("reading block header: %w", truncated(err))
	}
	if !bytes.Equal(fixed[:len(magic)], magic) {
		return 0, nil, fmt.Errorf("wrong magic %x: %w", fixed[:len(magic)], ErrCorruptBlock)
	}

	extra := make([]byte, binary.LittleEndian.Uint16(fixed[10:]))
	if _, err := io.ReadFull(r, extra); err != nil {
		return 0, nil, fmt.Errorf("reading extra fields: %w", truncated(err))
	}

	// The BC subfield may appear anywhere in the extra data.
	for rest := extra; len(rest) >= 4; {
		length := int(binary.LittleEndian.Uint16(rest[2:]))
		if len(rest) < 4+length {
			break
		}
		if rest[0] == 'B' && rest[1] == 'C' && length == 2 {
			size := int(binary.LittleEndian.Uint16(rest[4:])) + 1
			if size < fixedHeaderSize+len(extra)+trailerSize {
				return 0, nil, fmt.Errorf("invalid block size %d: %w", size, ErrCorruptBlock)
			}
			return size, extra, nil
		}
		rest = rest[4+length:]
	}
	return 0, nil, fmt.Errorf("missing BC extra field: %w", ErrCorruptBlock)
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedSource
	}
	return err
}

// EncodeBlock returns a single BGZF block that encodes the bytes in data.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > MaximumBlockSize {
		return nil, errors.New("data exceeds maximum block size")
	}
	return compressBlock(nil, data, DefaultCompression, MaximumBlockSize)
}

// Encode returns the BGZF encoding of text using as many blocks as required.
// It does not append the EOF marker.
func Encode(text []byte, level int) ([]byte, error) {
	var buffer bytes.Buffer
	w := NewWriter(&buffer, level)
	if _, err := w.Write(text); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func compressBlock(deflater *flate.Writer, data []byte, level, limit int) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.Grow(headerSize + len(data)/2 + trailerSize)
	buffer.Write(header)

	if deflater == nil {
		var err error
		if deflater, err = flate.NewWriter(&buffer, level); err != nil {
			return nil, fmt.Errorf("creating deflater: %v", err)
		}
	} else {
		deflater.Reset(&buffer)
	}
	if _, err := deflater.Write(data); err != nil {
		return nil, fmt.Errorf("writing compressed data: %v", err)
	}
	if err := deflater.Close(); err != nil {
		return nil, fmt.Errorf("closing deflater: %v", err)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(data)))
	buffer.Write(trailer[:])

	if buffer.Len() > limit {
		return nil, errBlockTooLarge
	}
	encoded := buffer.Bytes()
	binary.LittleEndian.PutUint16(encoded[16:], uint16(len(encoded)-1))
	return encoded, nil
}

// Writer buffers text and writes it to an underlying writer as BGZF blocks.
// Only full blocks are written until Flush is called.
type Writer struct {
	w        io.Writer
	level    int
	limit    int
	deflater *flate.Writer
	pending  []byte
	written  int64
}

// NewWriter returns a Writer that compresses blocks at the given level.
func NewWriter(w io.Writer, level int) *Writer {
	return &Writer{w: w, level: level, limit: MaximumBlockSize}
}

// Write buffers p, emitting every complete block.
func (w *Writer) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for len(w.pending) >= MaximumDataSize {
		if err := w.emit(w.pending[:MaximumDataSize]); err != nil {
			return 0, err
		}
		w.pending = w.pending[MaximumDataSize:]
	}
	return len(p), nil
}

// Buffered returns the number of bytes waiting to be compressed.
func (w *Writer) Buffered() int {
	return len(w.pending)
}

// Written returns the number of compressed bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Flush writes any buffered text as a final partial block.  Flushing an empty
// buffer writes nothing.
func (w *Writer) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.emit(w.pending); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}

// emit writes data as one or more blocks, halving any piece whose compressed
// form does not fit in a single block.
func (w *Writer) emit(data []byte) error {
	if w.deflater == nil {
		deflater, err := flate.NewWriter(io.Discard, w.level)
		if err != nil {
			return fmt.Errorf("creating deflater: %v", err)
		}
		w.deflater = deflater
	}

	queue := [][]byte{data}
	for len(queue) > 0 {
		piece := queue[0]
		queue = queue[1:]

		block, err := compressBlock(w.deflater, piece, w.level, w.limit)
		if err == errBlockTooLarge {
			if len(piece) < minimumSplitSize {
				return fmt.Errorf("encoding %d bytes: %w", len(piece), ErrIncompressible)
			}
			half := len(piece) / 2
			queue = append([][]byte{piece[:half], piece[half:]}, queue...)
			continue
		}
		if err != nil {
			return err
		}
		n, err := w.w.Write(block)
		w.written += int64(n)
		if err != nil {
			return fmt.Errorf("writing block: %v", err)
		}
	}
	return nil
}

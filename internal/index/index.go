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

// Package index contains support for reading, querying and rewriting BAI and
// tabix index files.
package index

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/binary"
	"github.com/klauspost/compress/gzip"
)

const (
	baiMagic   = "BAI\x01"
	tabixMagic = "TBI\x01"

	// MetadataID is used as a virtual bin ID for (unused) chunk metadata.
	MetadataID = 37450

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.
	maximumCount      = 1 << 24
	maximumNamesBytes = 1 << 28

	// The flag in the tabix format field that marks zero-based coordinates.
	zeroBasedFlag = 0x10000
)

// ErrInvalidIndexFormat is returned when index data is not a BAI or tabix
// index or is malformed.
var ErrInvalidIndexFormat = errors.New("invalid index format")

// Format identifies the kind of index.
type Format int

const (
	// BAI is the BAM index format.
	BAI Format = iota
	// Tabix is the generic tabix index format.
	Tabix
)

func (f Format) String() string {
	switch f {
	case BAI:
		return "BAI"
	case Tabix:
		return "TBI"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// TabixHeader holds the column configuration stored in a tabix index.
type TabixHeader struct {
	// Format is the raw format field; the low 16 bits are the preset and bit
	// 16 marks zero-based, half-open coordinates.
	Format int32
	// SeqColumn, BeginColumn and EndColumn are one-based column numbers.
	SeqColumn, BeginColumn, EndColumn int32
	// Meta is the character that starts header lines.
	Meta int32
	// Skip is the number of leading lines to treat as header.
	Skip int32
}

// ZeroBased reports whether the begin column holds zero-based positions.
func (h TabixHeader) ZeroBased() bool {
	return h.Format&zeroBasedFlag != 0
}

// MetaChar returns the header line prefix.
func (h TabixHeader) MetaChar() byte {
	return byte(h.Meta)
}

// Bin is a populated bin and its chunks.
type Bin struct {
	ID     uint32
	Chunks []bgzf.Chunk
}

// Reference holds the index data for one reference sequence.
type Reference struct {
	// Bins are kept in file order.
	Bins []*Bin
	// Intervals is the linear index: the address of the first record
	// overlapping each 16kbp window.
	Intervals []bgzf.Address

	byID map[uint32]*Bin
}

// Bin returns the bin with the given ID, or nil if it is not populated.
func (ref *Reference) Bin(id uint32) *Bin {
	return ref.byID[id]
}

// First returns the address of the first record of the reference: the first
// non-zero linear index entry, or the smallest chunk start (ignoring the
// metadata pseudo-bin) if the linear index is empty.
func (ref *Reference) First() (bgzf.Address, bool) {
	for _, offset := range ref.Intervals {
		if offset != 0 {
			return offset, true
		}
	}
	first, ok := bgzf.LastAddress, false
	for _, bin := range ref.Bins {
		if bin.ID == MetadataID {
			continue
		}
		for _, chunk := range bin.Chunks {
			if chunk.Start < first {
				first, ok = chunk.Start, true
			}
		}
	}
	return first, ok
}

func (ref *Reference) rebuild() {
	ref.byID = make(map[uint32]*Bin, len(ref.Bins))
	for _, bin := range ref.Bins {
		ref.byID[bin.ID] = bin
	}
}

// Index is a parsed BAI or tabix index.  It is read-only once loaded; Prune
// returns a modified copy.
type Index struct {
	Format Format
	// Tabix is only meaningful when Format is Tabix.
	Tabix TabixHeader
	// Names holds the reference names of a tabix index.  BAI indexes do not
	// carry names.
	Names      []string
	References []*Reference
	// Unmapped is the optional count of reads without coordinates.
	Unmapped *uint64

	nameMap map[string]int
	// linear holds every non-zero linear index entry across all references,
	// sorted and de-duplicated; starts marks the entries that begin a
	// reference.
	linear []bgzf.Address
	starts map[bgzf.Address]bool
}

// ReferenceID returns the position of the named reference in the index.
func (idx *Index) ReferenceID(name string) (int, bool) {
	id, ok := idx.nameMap[name]
	return id, ok
}

// Read parses a BAI or tabix index from r.  Gzip or BGZF compressed input is
// detected and decompressed.  On error no partial index is returned.
func Read(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(2); err == nil && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening compressed index: %v: %w", err, ErrInvalidIndexFormat)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading magic: %v: %w", err, ErrInvalidIndexFormat)
	}
	switch string(magic) {
	case baiMagic:
		return ReadBAI(br)
	case tabixMagic:
		return ReadTabix(br)
	}
	return nil, fmt.Errorf("unknown magic %q: %w", magic, ErrInvalidIndexFormat)
}

// ReadBAI parses an uncompressed BAI index from r.
func ReadBAI(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(baiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v: %w", err, ErrInvalidIndexFormat)
	}

	var references int32
	if err := binary.Read(r, &references); err != nil {
		return nil, invalid("reading reference count", err)
	}
	if err := checkCount("reference", references); err != nil {
		return nil, err
	}

	idx := &Index{Format: BAI}
	if err := idx.readReferences(r, int(references)); err != nil {
		return nil, err
	}
	return idx, nil
}

// ReadTabix parses an uncompressed tabix index from r.
func ReadTabix(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(tabixMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v: %w", err, ErrInvalidIndexFormat)
	}

	var header struct {
		References int32
		TabixHeader
		NamesLength int32
	}
	if err := binary.Read(r, &header); err != nil {
		return nil, invalid("reading tabix header", err)
	}
	if err := checkCount("reference", header.References); err != nil {
		return nil, err
	}
	if header.NamesLength < 0 || header.NamesLength > maximumNamesBytes {
		return nil, fmt.Errorf("invalid names length (%d bytes): %w", header.NamesLength, ErrInvalidIndexFormat)
	}

	blob := make([]byte, header.NamesLength)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, invalid("reading reference names", err)
	}
	var names []string
	if trimmed := bytes.TrimRight(blob, "\x00"); len(trimmed) > 0 {
		for _, name := range bytes.Split(trimmed, []byte{0}) {
			names = append(names, string(name))
		}
	}
	if len(names) != int(header.References) {
		return nil, fmt.Errorf("found %d names for %d references: %w", len(names), header.References, ErrInvalidIndexFormat)
	}

	idx := &Index{Format: Tabix, Tabix: header.TabixHeader, Names: names}
	if err := idx.readReferences(r, int(header.References)); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) readReferences(r io.Reader, count int) error {
	idx.References = make([]*Reference, count)
	for i := range idx.References {
		ref, err := readReference(r)
		if err != nil {
			return fmt.Errorf("reading reference %d: %w", i, err)
		}
		idx.References[i] = ref
	}

	var unmapped uint64
	switch err := binary.Read(r, &unmapped); err {
	case nil:
		idx.Unmapped = &unmapped
	case io.EOF:
	default:
		return invalid("reading unmapped count", err)
	}
	idx.derive()
	return nil
}

func readReference(r io.Reader) (*Reference, error) {
	var binCount int32
	if err := binary.Read(r, &binCount); err != nil {
		return nil, invalid("reading bin count", err)
	}
	if err := checkCount("bin", binCount); err != nil {
		return nil, err
	}

	ref := &Reference{Bins: make([]*Bin, binCount)}
	for j := range ref.Bins {
		var header struct {
			ID     uint32
			Chunks int32
		}
		if err := binary.Read(r, &header); err != nil {
			return nil, invalid("reading bin header", err)
		}
		if err := checkCount("chunk", header.Chunks); err != nil {
			return nil, err
		}
		bin := &Bin{ID: header.ID, Chunks: make([]bgzf.Chunk, header.Chunks)}
		if err := binary.Read(r, bin.Chunks); err != nil {
			return nil, invalid("reading chunks", err)
		}
		ref.Bins[j] = bin
	}

	var intervals int32
	if err := binary.Read(r, &intervals); err != nil {
		return nil, invalid("reading interval count", err)
	}
	if err := checkCount("interval", intervals); err != nil {
		return nil, err
	}
	ref.Intervals = make([]bgzf.Address, intervals)
	if err := binary.Read(r, ref.Intervals); err != nil {
		return nil, invalid("reading offsets", err)
	}
	ref.rebuild()
	return ref, nil
}

// derive rebuilds the lookup structures that are not stored in the file.
func (idx *Index) derive() {
	idx.nameMap = make(map[string]int, len(idx.Names))
	for i, name := range idx.Names {
		idx.nameMap[name] = i
	}

	idx.linear = idx.linear[:0]
	idx.starts = make(map[bgzf.Address]bool, len(idx.References))
	for _, ref := range idx.References {
		for _, offset := range ref.Intervals {
			if offset != 0 {
				idx.linear = append(idx.linear, offset)
			}
		}
		if first, ok := ref.First(); ok {
			idx.starts[first] = true
			idx.linear = append(idx.linear, first)
		}
	}
	sort.Slice(idx.linear, func(i, j int) bool { return idx.linear[i] < idx.linear[j] })
	unique := idx.linear[:0]
	for _, offset := range idx.linear {
		if len(unique) == 0 || offset != unique[len(unique)-1] {
			unique = append(unique, offset)
		}
	}
	idx.linear = unique
}

func checkCount(what string, n int32) error {
	if n < 0 || n > maximumCount {
		return fmt.Errorf("invalid %s count (%d): %w", what, n, ErrInvalidIndexFormat)
	}
	return nil
}

func invalid(doing string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%s: unexpected end of index: %w", doing, ErrInvalidIndexFormat)
	}
	return fmt.Errorf("%s: %v", doing, err)
}

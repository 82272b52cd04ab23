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

package slicer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"testing"

	biogobgzf "github.com/biogo/hts/bgzf"
	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/stretchr/testify/require"
)

// builder lays out text in BGZF blocks and computes the address of every
// piece of text once the file is complete.
type builder struct {
	blocks [][]byte
}

type placement struct {
	block, within, length int
}

func (b *builder) add(text []byte) placement {
	if len(b.blocks) == 0 {
		b.newBlock()
	}
	last := len(b.blocks) - 1
	p := placement{last, len(b.blocks[last]), len(text)}
	b.blocks[last] = append(b.blocks[last], text...)
	return p
}

func (b *builder) newBlock() {
	b.blocks = append(b.blocks, nil)
}

// build encodes the blocks followed by the EOF marker and returns the file
// and the offset of every block (plus the offset of the marker).
func (b *builder) build(t *testing.T) ([]byte, []int64) {
	t.Helper()
	var (
		data    []byte
		offsets []int64
	)
	for _, text := range b.blocks {
		block, err := bgzf.EncodeBlock(text)
		require.NoError(t, err)
		offsets = append(offsets, int64(len(data)))
		data = append(data, block...)
	}
	offsets = append(offsets, int64(len(data)))
	return append(data, bgzf.EOFMarker()...), offsets
}

func (b *builder) start(offsets []int64, p placement) bgzf.Address {
	return bgzf.NewAddress(uint64(offsets[p.block]), uint16(p.within))
}

func (b *builder) end(offsets []int64, p placement) bgzf.Address {
	if end := p.within + p.length; end < len(b.blocks[p.block]) {
		return bgzf.NewAddress(uint64(offsets[p.block]), uint16(end))
	}
	return bgzf.NewAddress(uint64(offsets[p.block+1]), 0)
}

// indexBuilder accumulates bins and linear index entries for one reference.
type indexBuilder struct {
	bins  map[uint32]*index.Bin
	order []uint32
	ref   index.Reference
}

func (ib *indexBuilder) add(start, end uint32, chunk bgzf.Chunk) {
	if ib.bins == nil {
		ib.bins = make(map[uint32]*index.Bin)
	}
	id := index.ReferenceBin(start, end)
	bin := ib.bins[id]
	if bin == nil {
		bin = &index.Bin{ID: id}
		ib.bins[id] = bin
		ib.order = append(ib.order, id)
	}
	if n := len(bin.Chunks); n > 0 && bin.Chunks[n-1].End == chunk.Start {
		bin.Chunks[n-1].End = chunk.End
	} else {
		bin.Chunks = append(bin.Chunks, chunk)
	}
	for w := start / index.LinearWindowSize; w <= (end-1)/index.LinearWindowSize; w++ {
		for uint32(len(ib.ref.Intervals)) <= w {
			ib.ref.Intervals = append(ib.ref.Intervals, 0)
		}
		if ib.ref.Intervals[w] == 0 {
			ib.ref.Intervals[w] = chunk.Start
		}
	}
}

func (ib *indexBuilder) reference(extra ...*index.Bin) *index.Reference {
	ref := &index.Reference{Intervals: ib.ref.Intervals}
	for _, id := range ib.order {
		ref.Bins = append(ref.Bins, ib.bins[id])
	}
	ref.Bins = append(ref.Bins, extra...)
	return ref
}

// reload writes idx and parses it back so that derived lookups are built.
func reload(t *testing.T, idx *index.Index) *index.Index {
	t.Helper()
	var buffer bytes.Buffer
	require.NoError(t, index.Write(&buffer, idx))
	got, err := index.Read(&buffer)
	require.NoError(t, err)
	return got
}

type vcfRecord struct {
	name       string
	pos        uint32
	line       string
	start, end bgzf.Address
}

type vcfFixture struct {
	data    []byte
	offsets []int64
	idx     *index.Index
	header  string
	records []vcfRecord
}

const vcfHeader = "##fileformat=VCFv4.2\n##source=htsslice\n#CHROM\tPOS\tID\tREF\tALT\n"

// newVCFFixture builds a tabix indexed file with perRef records, step base
// pairs apart, on each reference.  A new block is started every perBlock
// records; the header shares the first block with the first records.
func newVCFFixture(t *testing.T, refs []string, perRef int, step uint32, perBlock int) *vcfFixture {
	t.Helper()
	var (
		b          builder
		placements []placement
		f          = &vcfFixture{header: vcfHeader}
	)
	b.add([]byte(vcfHeader))
	for _, name := range refs {
		for i := 0; i < perRef; i++ {
			if len(f.records) > 0 && len(f.records)%perBlock == 0 {
				b.newBlock()
			}
			pos := uint32(i+1) * step
			line := fmt.Sprintf("%s\t%d\trs%d\tA\tC\n", name, pos+1, len(f.records))
			placements = append(placements, b.add([]byte(line)))
			f.records = append(f.records, vcfRecord{name: name, pos: pos, line: line})
		}
	}
	data, offsets := b.build(t)
	f.data, f.offsets = data, offsets

	builders := make([]indexBuilder, len(refs))
	for i := range f.records {
		r := &f.records[i]
		r.start, r.end = b.start(offsets, placements[i]), b.end(offsets, placements[i])
		ref := i / perRef
		builders[ref].add(r.pos, r.pos+1, bgzf.Chunk{Start: r.start, End: r.end})
	}
	idx := &index.Index{
		Format: index.Tabix,
		Tabix:  index.TabixHeader{Format: 2, SeqColumn: 1, BeginColumn: 2, Meta: '#'},
		Names:  refs,
	}
	for i := range builders {
		idx.References = append(idx.References, builders[i].reference())
	}
	f.idx = reload(t, idx)
	return f
}

// want returns the lines of the records of name starting in [start, end).
func (f *vcfFixture) want(name string, start, end uint32) string {
	var lines []string
	for _, r := range f.records {
		if r.name == name && r.pos >= start && r.pos < end {
			lines = append(lines, r.line)
		}
	}
	return strings.Join(lines, "")
}

type bamFixture struct {
	data    []byte
	idx     *index.Index
	header  []byte
	names   []string
	records [][][]byte
}

func bamHeader(names []string) []byte {
	var buffer bytes.Buffer
	text := "@HD\tVN:1.6\tSO:coordinate\n"
	buffer.WriteString("BAM\x01")
	binary.Write(&buffer, binary.LittleEndian, int32(len(text)))
	buffer.WriteString(text)
	binary.Write(&buffer, binary.LittleEndian, int32(len(names)))
	for _, name := range names {
		binary.Write(&buffer, binary.LittleEndian, int32(len(name)+1))
		buffer.WriteString(name)
		buffer.WriteByte(0)
		binary.Write(&buffer, binary.LittleEndian, int32(1000000))
	}
	return buffer.Bytes()
}

// newBAMFixture builds a BAM-like file whose records are opaque byte strings
// step base pairs apart.  The header shares the first block with the first
// records.
func newBAMFixture(t *testing.T, names []string, perRef, perBlock int, step uint32) *bamFixture {
	t.Helper()
	var (
		b          builder
		placements [][]placement
		f          = &bamFixture{header: bamHeader(names), names: names}
	)
	b.add(f.header)
	count := 0
	for ref := range names {
		var refRecords [][]byte
		var refPlacements []placement
		for i := 0; i < perRef; i++ {
			if count > 0 && count%perBlock == 0 {
				b.newBlock()
			}
			record := []byte(fmt.Sprintf("<record %d of reference %d>", i, ref))
			refPlacements = append(refPlacements, b.add(record))
			refRecords = append(refRecords, record)
			count++
		}
		f.records = append(f.records, refRecords)
		placements = append(placements, refPlacements)
	}
	data, offsets := b.build(t)
	f.data = data

	idx := &index.Index{Format: index.BAI}
	for ref := range names {
		var ib indexBuilder
		first := b.start(offsets, placements[ref][0])
		last := b.end(offsets, placements[ref][len(placements[ref])-1])
		for i, p := range placements[ref] {
			pos := uint32(i) * step
			ib.add(pos, pos+50, bgzf.Chunk{Start: b.start(offsets, p), End: b.end(offsets, p)})
		}
		metadata := &index.Bin{ID: index.MetadataID, Chunks: []bgzf.Chunk{
			{Start: first, End: last},
			{Start: bgzf.Address(perRef), End: 0},
		}}
		idx.References = append(idx.References, ib.reference(metadata))
	}
	unmapped := uint64(0)
	idx.Unmapped = &unmapped
	f.idx = reload(t, idx)
	return f
}

// decode decompresses a BGZF file with an independent reader and checks that
// it ends with exactly one EOF marker.
func decode(t *testing.T, data []byte) []byte {
	t.Helper()
	require.True(t, len(data) >= bgzf.EOFMarkerSize, "output too short")
	require.True(t, bgzf.IsEOFMarker(data[len(data)-bgzf.EOFMarkerSize:]), "output does not end with the EOF marker")
	if len(data) >= 2*bgzf.EOFMarkerSize {
		require.False(t, bgzf.IsEOFMarker(data[len(data)-2*bgzf.EOFMarkerSize:len(data)-bgzf.EOFMarkerSize]), "output ends with two EOF markers")
	}
	r, err := biogobgzf.NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	defer r.Close()
	text, err := io.ReadAll(r)
	require.NoError(t, err)
	return text
}

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

package api

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/binary"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/stretchr/testify/require"
)

const (
	recordsPerReference = 10
	recordsPerBlock     = 5
	recordStep          = 1000

	vcfHeader = "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\n"
)

// fixture is a BGZF file laid out so that the header fills the first block
// and every reference starts a new block.
type fixture struct {
	data []byte
	// blocks holds the offset of every block, followed by the offset of the
	// EOF marker.
	blocks []int64
	// text holds the uncompressed contents of each block.
	text [][]byte
	idx  *index.Index
}

func (f *fixture) address(block int) bgzf.Address {
	return bgzf.NewAddress(uint64(f.blocks[block]), 0)
}

// blockRange returns the compressed bytes of blocks [first, last).
func (f *fixture) blockRange(first, last int) []byte {
	return f.data[f.blocks[first]:f.blocks[last]]
}

// build encodes header and the records of every reference, and indexes the
// result.
func build(t *testing.T, header []byte, names []string, record func(ref, i int) []byte) *fixture {
	t.Helper()
	f := &fixture{}
	var buf bytes.Buffer
	add := func(text []byte) {
		block, err := bgzf.EncodeBlock(text)
		require.NoError(t, err)
		f.blocks = append(f.blocks, int64(buf.Len()))
		f.text = append(f.text, text)
		buf.Write(block)
	}
	add(header)

	var firsts []int
	for ref := range names {
		firsts = append(firsts, len(f.blocks))
		var text []byte
		for i := 0; i < recordsPerReference; i++ {
			text = append(text, record(ref, i)...)
			if (i+1)%recordsPerBlock == 0 {
				add(text)
				text = nil
			}
		}
	}
	f.blocks = append(f.blocks, int64(buf.Len()))
	buf.Write(bgzf.EOFMarker())
	f.data = buf.Bytes()

	f.idx = &index.Index{}
	blocksPerReference := recordsPerReference / recordsPerBlock
	for _, first := range firsts {
		start, end := f.address(first), f.address(first+blocksPerReference)
		f.idx.References = append(f.idx.References, &index.Reference{
			Bins:      []*index.Bin{{ID: index.ReferenceBin(recordStep, recordStep*recordsPerReference+1), Chunks: []bgzf.Chunk{{Start: start, End: end}}}},
			Intervals: []bgzf.Address{start},
		})
	}
	return f
}

func newVCF(t *testing.T, names []string) *fixture {
	f := build(t, []byte(vcfHeader), names, func(ref, i int) []byte {
		return []byte(fmt.Sprintf("%s\t%d\t.\tA\tC\n", names[ref], (i+1)*recordStep+1))
	})
	f.idx.Format = index.Tabix
	f.idx.Tabix = index.TabixHeader{Format: 2, SeqColumn: 1, BeginColumn: 2, Meta: '#'}
	f.idx.Names = names
	return f
}

func newBAM(t *testing.T, names []string) *fixture {
	var header bytes.Buffer
	header.WriteString("BAM\x01")
	text := "@HD\tVN:1.6\n"
	require.NoError(t, binary.Write(&header, int32(len(text))))
	header.WriteString(text)
	require.NoError(t, binary.Write(&header, int32(len(names))))
	for _, name := range names {
		require.NoError(t, binary.Write(&header, int32(len(name)+1)))
		header.WriteString(name + "\x00")
		require.NoError(t, binary.Write(&header, int32(1000000)))
	}

	f := build(t, header.Bytes(), names, func(ref, i int) []byte {
		pos := int32((i + 1) * recordStep)
		var record bytes.Buffer
		fields := struct {
			Size, RefID, Pos     int32
			NameLength, MapQ     uint8
			Bin, Cigars, Flag    uint16
			SeqLength, NextRefID int32
			NextPos, Template    int32
		}{34, int32(ref), pos, 2, 60, uint16(index.ReferenceBin(uint32(pos), uint32(pos)+1)), 0, 0, 0, -1, -1, 0}
		require.NoError(t, binary.Write(&record, fields))
		record.WriteString("r\x00")
		return record.Bytes()
	})
	f.idx.Format = index.BAI
	return f
}

// writeFiles stores the data of f as name, and its index as indexName unless
// indexName is empty.
func writeFiles(t *testing.T, dir, name, indexName string, f *fixture) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.data, 0644))
	if indexName == "" {
		return
	}
	var buf bytes.Buffer
	require.NoError(t, index.Write(&buf, f.idx))
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexName), buf.Bytes(), 0644))
}

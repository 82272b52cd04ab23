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

package index

import (
	"sort"

	"github.com/googlegenomics/htsslice/internal/bgzf"
)

// Chunks returns every chunk of reference ref that may hold a record
// overlapping [start, end).  Chunks that end before the linear index lower
// bound for start are skipped, as is the metadata pseudo-bin.
func (idx *Index) Chunks(ref int, start, end uint32) []*bgzf.Chunk {
	if ref < 0 || ref >= len(idx.References) {
		return nil
	}
	r := idx.References[ref]
	lower := r.lowerBound(start)

	var chunks []*bgzf.Chunk
	for _, id := range BinsForRange(start, end) {
		bin := r.byID[id]
		if bin == nil || bin.ID == MetadataID {
			continue
		}
		for i := range bin.Chunks {
			chunk := bin.Chunks[i]
			if chunk.End < lower {
				continue
			}
			chunks = append(chunks, &chunk)
		}
	}
	return chunks
}

// Resolve reduces the chunks returned by Chunks to a single chunk running from
// the smallest start to the largest end.  It returns false if no populated
// bin overlaps the range.
func (idx *Index) Resolve(ref int, start, end uint32) (bgzf.Chunk, bool) {
	chunks := idx.Chunks(ref, start, end)
	if len(chunks) == 0 {
		return bgzf.Chunk{}, false
	}
	span := *chunks[0]
	for _, chunk := range chunks[1:] {
		if chunk.Start < span.Start {
			span.Start = chunk.Start
		}
		if chunk.End > span.End {
			span.End = chunk.End
		}
	}
	return span, true
}

// ResolveReferences resolves the whole of every reference in [first, last]
// to a single chunk, as done when slicing contiguous references from a BAM
// file.
func (idx *Index) ResolveReferences(first, last int) (bgzf.Chunk, bool) {
	var (
		span  bgzf.Chunk
		found bool
	)
	for ref := first; ref <= last; ref++ {
		chunk, ok := idx.Resolve(ref, 0, 0)
		if !ok {
			continue
		}
		if !found {
			span, found = chunk, true
			continue
		}
		if chunk.Start < span.Start {
			span.Start = chunk.Start
		}
		if chunk.End > span.End {
			span.End = chunk.End
		}
	}
	return span, found
}

// DataStart returns the smallest chunk start across all references, which is
// where the first record of the indexed file begins.  Everything before it is
// header.
func (idx *Index) DataStart() (bgzf.Address, bool) {
	start, ok := bgzf.LastAddress, false
	for _, ref := range idx.References {
		for _, bin := range ref.Bins {
			if bin.ID == MetadataID {
				continue
			}
			for _, chunk := range bin.Chunks {
				if chunk.Start < start {
					start, ok = chunk.Start, true
				}
			}
		}
	}
	return start, ok
}

// NextReferenceStart returns the smallest reference start address strictly
// greater than after.
func (idx *Index) NextReferenceStart(after bgzf.Address) (bgzf.Address, bool) {
	i := sort.Search(len(idx.linear), func(i int) bool { return idx.linear[i] > after })
	for ; i < len(idx.linear); i++ {
		if idx.starts[idx.linear[i]] {
			return idx.linear[i], true
		}
	}
	return 0, false
}

// Window returns the linear index entry covering position pos of reference
// ref, or false if pos lies beyond the reference's linear index.
func (idx *Index) Window(ref int, pos uint32) (bgzf.Address, bool) {
	if ref < 0 || ref >= len(idx.References) {
		return 0, false
	}
	intervals := idx.References[ref].Intervals
	if i := int(pos / LinearWindowSize); i < len(intervals) {
		return intervals[i], true
	}
	return 0, false
}

func (ref *Reference) lowerBound(start uint32) bgzf.Address {
	if len(ref.Intervals) == 0 {
		return 0
	}
	if i := int(start / LinearWindowSize); i < len(ref.Intervals) {
		return ref.Intervals[i]
	}
	return ref.Intervals[len(ref.Intervals)-1]
}

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

import "github.com/googlegenomics/htsslice/internal/bgzf"

// Prune returns a copy of idx describing a file that holds only the data in
// span for references first through last, with every block offset moved down
// by shift bytes.  References outside [first, last] keep their slot but lose
// their bins and linear index, and the metadata pseudo-bin is dropped
// everywhere.  Data offsets are never changed and zero linear index entries
// stay zero.
func (idx *Index) Prune(first, last int, span bgzf.Chunk, shift uint64) *Index {
	pruned := &Index{
		Format:     idx.Format,
		Tabix:      idx.Tabix,
		Names:      append([]string(nil), idx.Names...),
		References: make([]*Reference, len(idx.References)),
	}
	if idx.Unmapped != nil {
		unmapped := *idx.Unmapped
		pruned.Unmapped = &unmapped
	}

	for i, ref := range idx.References {
		out := &Reference{}
		if i >= first && i <= last {
			for _, bin := range ref.Bins {
				if bin.ID == MetadataID {
					continue
				}
				kept := &Bin{ID: bin.ID}
				for _, chunk := range bin.Chunks {
					if chunk.End <= span.Start || chunk.Start >= span.End {
						continue
					}
					if chunk.Start < span.Start {
						chunk.Start = span.Start
					}
					if chunk.End > span.End {
						chunk.End = span.End
					}
					kept.Chunks = append(kept.Chunks, bgzf.Chunk{
						Start: chunk.Start.Shift(shift),
						End:   chunk.End.Shift(shift),
					})
				}
				if len(kept.Chunks) > 0 {
					out.Bins = append(out.Bins, kept)
				}
			}

			out.Intervals = make([]bgzf.Address, len(ref.Intervals))
			for j, offset := range ref.Intervals {
				if offset == 0 {
					continue
				}
				if offset < span.Start {
					offset = span.Start
				}
				if offset > span.End {
					offset = span.End
				}
				out.Intervals[j] = offset.Shift(shift)
			}
		}
		out.rebuild()
		pruned.References[i] = out
	}
	pruned.derive()
	return pruned
}

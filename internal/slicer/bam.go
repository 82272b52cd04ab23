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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/googlegenomics/htsslice/internal/bam"
	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/genomics"
	"github.com/googlegenomics/htsslice/internal/index"
	"go.uber.org/zap"
)

// BAMPlan describes the byte ranges that make up a BAM slice.
type BAMPlan struct {
	// First and Last bound the contiguous range of references kept.  The
	// plan is empty if First > Last.
	First, Last int
	// References names the kept references in order.
	References []string
	// DataStart is the address of the first record in the source; every
	// byte before it is header.
	DataStart bgzf.Address
	// Span covers the chunks kept.  It is narrowed to the requested
	// coordinates when a single reference is kept.
	Span bgzf.Chunk
	// BodyStart and BodyEnd bound the raw blocks copied after the header.
	BodyStart, BodyEnd int64
	// Skipped lists the regions that matched nothing.
	Skipped []error

	// tailEnd is the end of the block holding DataStart.
	tailEnd int64
}

// Empty reports whether the plan keeps no references.
func (p *BAMPlan) Empty() bool {
	return p.First > p.Last
}

// HeaderEnd returns the block offset at which the raw header copy stops.
func (p *BAMPlan) HeaderEnd() int64 {
	return int64(p.DataStart.BlockOffset())
}

// rewritesTail reports whether the end of the header shares a block with
// records that are not copied, and so has to be re-encoded.
func (p *BAMPlan) rewritesTail() bool {
	return p.DataStart.DataOffset() != 0 && (p.Empty() || p.BodyStart > p.HeaderEnd())
}

// Ranges returns the inclusive ranges of compressed bytes read to write the
// slice.
func (p *BAMPlan) Ranges() []fetch.Window {
	var ranges []fetch.Window
	end := p.HeaderEnd()
	if p.rewritesTail() {
		end = p.tailEnd
	}
	if end > 0 {
		ranges = append(ranges, fetch.Window{Low: 0, High: end - 1})
	}
	if !p.Empty() {
		ranges = append(ranges, fetch.Window{Low: p.BodyStart, High: p.BodyEnd - 1})
	}
	return ranges
}

// PlanBAM resolves regions against idx.  When every region falls on the same
// reference the slice holds the chunks that overlap their coordinates.
// Otherwise it holds whole references, from the smallest to the largest one
// requested.  Region names are looked up in the BAM header of src.
func (s *Slicer) PlanBAM(src Source, idx *index.Index, regions []genomics.Region) (*BAMPlan, error) {
	dataStart, ok := idx.DataStart()
	if !ok {
		return nil, fmt.Errorf("planning BAM slice: %w", ErrNoData)
	}
	header, err := bam.ReadHeader(s.newReader(src))
	if err != nil {
		return nil, fmt.Errorf("reading BAM header: %w", err)
	}
	names := header.ReferenceNames()

	plan := &BAMPlan{First: len(idx.References), Last: -1, DataStart: dataStart}
	if dataStart.DataOffset() != 0 {
		if plan.tailEnd, err = blockEnd(src, dataStart); err != nil {
			return nil, fmt.Errorf("finding end of header: %w", err)
		}
	}

	var (
		narrow    bgzf.Chunk
		narrowed  bool
		wholeRefs bool
	)
	for _, region := range regions {
		if region.ReferenceName == "" && region.ReferenceID < 0 {
			plan.First, plan.Last, wholeRefs = 0, len(idx.References)-1, true
			continue
		}

		id := int(region.ReferenceID)
		if region.ReferenceName != "" {
			ref, err := header.ReferenceID(region.ReferenceName)
			if errors.Is(err, bam.ErrReferenceNotFound) {
				s.skip(&plan.Skipped, fmt.Errorf("%s: %w", region, ErrRegionNotFound), region)
				continue
			}
			id = int(ref)
		} else if id < len(names) {
			region.ReferenceName = names[id]
		}
		if id >= len(idx.References) {
			s.skip(&plan.Skipped, fmt.Errorf("%s: %w", region, ErrRegionNotFound), region)
			continue
		}

		if region.Whole() {
			wholeRefs = true
		} else {
			chunk, ok := idx.Resolve(id, region.Start, region.Limit())
			if !ok {
				s.skip(&plan.Skipped, fmt.Errorf("%s: %w", region, ErrEmptyIntersection), region)
				continue
			}
			if !narrowed || chunk.Start < narrow.Start {
				narrow.Start = chunk.Start
			}
			if !narrowed || chunk.End > narrow.End {
				narrow.End = chunk.End
			}
			narrowed = true
		}
		if id < plan.First {
			plan.First = id
		}
		if id > plan.Last {
			plan.Last = id
		}
	}
	if plan.Empty() {
		return plan, nil
	}
	for ref := plan.First; ref <= plan.Last && ref < len(names); ref++ {
		plan.References = append(plan.References, names[ref])
	}

	span := narrow
	if plan.First != plan.Last || wholeRefs {
		if narrowed && plan.First != plan.Last {
			s.logger.Warn("Keeping whole references for regions on several references",
				zap.Strings("references", plan.References))
		}
		if span, ok = idx.ResolveReferences(plan.First, plan.Last); !ok {
			for ref := plan.First; ref <= plan.Last; ref++ {
				s.skip(&plan.Skipped, fmt.Errorf("reference %d: %w", ref, ErrEmptyIntersection), genomics.Region{ReferenceID: int32(ref)})
			}
			plan.First, plan.Last, plan.References = len(idx.References), -1, nil
			return plan, nil
		}
	}
	plan.Span = span
	plan.BodyStart = int64(span.Start.BlockOffset())

	end, err := blockEnd(src, span.End)
	if err != nil {
		return nil, fmt.Errorf("finding end of slice: %w", err)
	}
	// The last chunk may stop just short of the EOF marker; take the marker
	// along rather than writing a new one.
	if size := src.Size(); end >= size-bgzf.EOFMarkerSize {
		end = size
	}
	plan.BodyEnd = end
	return plan, nil
}

// BAM writes the slice of src described by regions to w and returns the
// pruned index of the output in the result.  If no region matches, the output
// is the header followed by the EOF marker.
func (s *Slicer) BAM(ctx context.Context, src Source, idx *index.Index, regions []genomics.Region, w io.Writer) (*Result, error) {
	plan, err := s.PlanBAM(src, idx, regions)
	if err != nil {
		return nil, err
	}
	a := s.newAssembler(w, false)
	if err := s.writeBAMHeader(ctx, src, plan, a); err != nil {
		return nil, err
	}
	pruned, err := pruneBAM(idx, plan, a.Written())
	if err != nil {
		return nil, err
	}
	if !plan.Empty() {
		if err := a.CopyRaw(ctx, src, src.Size(), plan.BodyStart, plan.BodyEnd); err != nil {
			return nil, fmt.Errorf("copying references %d-%d: %w", plan.First, plan.Last, err)
		}
	}
	if err := a.Close(); err != nil {
		return nil, err
	}
	return &Result{Skipped: plan.Skipped, Written: a.Written(), Index: pruned}, nil
}

// BAMIndex returns the index of the slice that BAM writes for regions.  Only
// the header is read from src.
func (s *Slicer) BAMIndex(ctx context.Context, src Source, idx *index.Index, regions []genomics.Region) (*Result, error) {
	plan, err := s.PlanBAM(src, idx, regions)
	if err != nil {
		return nil, err
	}
	a := s.newAssembler(io.Discard, false)
	if err := s.writeBAMHeader(ctx, src, plan, a); err != nil {
		return nil, err
	}
	pruned, err := pruneBAM(idx, plan, a.Written())
	if err != nil {
		return nil, err
	}
	return &Result{Skipped: plan.Skipped, Index: pruned}, nil
}

// writeBAMHeader copies the header of src to a and moves it to BODY.  Every
// byte written afterwards lines up with a block boundary.
func (s *Slicer) writeBAMHeader(ctx context.Context, src Source, plan *BAMPlan, a *Assembler) error {
	headerEnd := plan.HeaderEnd()
	if err := a.CopyRaw(ctx, src, src.Size(), 0, headerEnd); err != nil {
		return fmt.Errorf("copying header: %w", err)
	}
	if plan.rewritesTail() {
		r := s.newReader(src)
		if err := r.Seek(bgzf.NewAddress(uint64(headerEnd), 0)); err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
		tail, err := r.ReadUntil(plan.DataStart)
		if err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
		if err := a.WriteText(tail); err != nil {
			return err
		}
		if err := a.Flush(); err != nil {
			return err
		}
	}
	return a.Body()
}

// pruneBAM returns the index of a slice whose header took written bytes.
func pruneBAM(idx *index.Index, plan *BAMPlan, written int64) (*index.Index, error) {
	if plan.Empty() {
		return idx.Prune(0, -1, bgzf.Chunk{}, 0), nil
	}
	shift := plan.BodyStart - written
	if shift < 0 {
		return nil, fmt.Errorf("re-encoded header is %d bytes larger than the data it replaces", -shift)
	}
	return idx.Prune(plan.First, plan.Last, plan.Span, uint64(shift)), nil
}

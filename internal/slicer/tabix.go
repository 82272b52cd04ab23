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
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/genomics"
	"github.com/googlegenomics/htsslice/internal/index"
	"go.uber.org/zap"
)

// TabixOptions controls a tabix slice.
type TabixOptions struct {
	// OmitHeader leaves out the header lines, as needed when the output is
	// appended to an earlier slice of the same file.
	OmitHeader bool
	// KeepOpen leaves out the EOF marker unless the slice reaches the end of
	// the source, so that more data may be appended.
	KeepOpen bool
}

// Tabix writes the records of src that start inside regions to w.  Regions
// are ordered as the references appear in the index, and overlapping or
// touching regions are merged.  Blocks that lie entirely inside a region are
// copied without being decompressed.
func (s *Slicer) Tabix(ctx context.Context, src Source, idx *index.Index, regions []genomics.Region, w io.Writer, opts TabixOptions) (*Result, error) {
	if idx.Format != index.Tabix {
		return nil, fmt.Errorf("slicing with a %s index: %w", idx.Format, index.ErrInvalidIndexFormat)
	}
	if len(idx.References) == 0 {
		return nil, fmt.Errorf("slicing: %w", ErrNoData)
	}

	result := &Result{}
	a := s.newAssembler(w, opts.KeepOpen)
	if !opts.OmitHeader {
		if err := s.writeHeader(ctx, src, idx, a); err != nil {
			return nil, err
		}
	}
	if err := a.Body(); err != nil {
		return nil, err
	}

	rank := func(region genomics.Region) int {
		if id, ok := idx.ReferenceID(region.ReferenceName); ok {
			return id
		}
		return -1
	}
	r := s.newReader(src)
	for _, region := range genomics.SortAndMerge(tabixRegions(idx, regions), rank) {
		err := s.sliceRegion(ctx, src, r, idx, region, a)
		if IsSoft(err) {
			s.skip(&result.Skipped, err, region)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("slicing %s: %w", region, err)
		}
	}

	if err := a.Close(); err != nil {
		return nil, err
	}
	result.Written = a.Written()
	return result, nil
}

// TabixPlan lists the compressed data that may hold the records of a tabix
// slice, as resolved from the index alone.
type TabixPlan struct {
	// Regions are the merged regions, in output order.
	Regions []genomics.Region
	// Chunks holds one chunk for each region that the index resolves.
	Chunks []bgzf.Chunk
	// Ranges are the whole blocks spanned by Chunks.
	Ranges []fetch.Window
	// Skipped lists the regions that matched nothing.
	Skipped []error
}

// PlanTabix resolves regions against idx without reading any records.  The
// chunks it returns may extend beyond the records that Tabix writes, since
// the first and last blocks of a region are only filtered when sliced.
func (s *Slicer) PlanTabix(src Source, idx *index.Index, regions []genomics.Region) (*TabixPlan, error) {
	if idx.Format != index.Tabix {
		return nil, fmt.Errorf("planning with a %s index: %w", idx.Format, index.ErrInvalidIndexFormat)
	}
	if len(idx.References) == 0 {
		return nil, fmt.Errorf("planning: %w", ErrNoData)
	}

	plan := &TabixPlan{}
	rank := func(region genomics.Region) int {
		if id, ok := idx.ReferenceID(region.ReferenceName); ok {
			return id
		}
		return -1
	}
	for _, region := range genomics.SortAndMerge(tabixRegions(idx, regions), rank) {
		plan.Regions = append(plan.Regions, region)
		chunk, err := s.resolveRegion(src, idx, region)
		if IsSoft(err) {
			s.skip(&plan.Skipped, err, region)
			continue
		}
		if err != nil {
			return nil, err
		}
		plan.Chunks = append(plan.Chunks, chunk)

		end, err := blockEnd(src, chunk.End)
		if err != nil {
			return nil, fmt.Errorf("finding end of %s: %w", region, err)
		}
		if low := int64(chunk.Start.BlockOffset()); end > low {
			plan.Ranges = append(plan.Ranges, fetch.Window{Low: low, High: end - 1})
		}
	}
	return plan, nil
}

func (s *Slicer) resolveRegion(src Source, idx *index.Index, region genomics.Region) (bgzf.Chunk, error) {
	id, ok := idx.ReferenceID(region.ReferenceName)
	if !ok {
		return bgzf.Chunk{}, fmt.Errorf("%s: %w", region, ErrRegionNotFound)
	}
	ref := idx.References[id]
	if region.Whole() {
		first, ok := ref.First()
		if !ok {
			return bgzf.Chunk{}, fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
		}
		return bgzf.Chunk{Start: first, End: s.referenceEnd(src, idx, first)}, nil
	}
	if int(region.Start/index.LinearWindowSize) >= len(ref.Intervals) {
		return bgzf.Chunk{}, fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
	}
	chunk, ok := idx.Resolve(id, region.Start, region.Limit())
	if !ok {
		return bgzf.Chunk{}, fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
	}
	if region.End == 0 {
		if end := s.referenceEnd(src, idx, chunk.Start); end > chunk.End {
			chunk.End = end
		}
	}
	return chunk, nil
}

// tabixRegions names every region, expanding a region that matches any
// reference into one whole region per reference.
func tabixRegions(idx *index.Index, regions []genomics.Region) []genomics.Region {
	var named []genomics.Region
	for _, region := range regions {
		switch {
		case region.ReferenceName != "":
			named = append(named, region)
		case region.ReferenceID < 0:
			for _, name := range idx.Names {
				named = append(named, genomics.Region{ReferenceName: name, ReferenceID: -1})
			}
		case int(region.ReferenceID) < len(idx.Names):
			region.ReferenceName = idx.Names[region.ReferenceID]
			named = append(named, region)
		default:
			// Kept so that it is reported as not found.
			region.ReferenceName = fmt.Sprintf("#%d", region.ReferenceID)
			named = append(named, region)
		}
	}
	return named
}

func (s *Slicer) sliceRegion(ctx context.Context, src Source, r *bgzf.Reader, idx *index.Index, region genomics.Region, a *Assembler) error {
	id, ok := idx.ReferenceID(region.ReferenceName)
	if !ok {
		return fmt.Errorf("%s: %w", region, ErrRegionNotFound)
	}
	ref := idx.References[id]

	if region.Whole() {
		first, ok := ref.First()
		if !ok {
			return fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
		}
		return s.copyRange(ctx, src, r, a, first, s.referenceEnd(src, idx, first))
	}

	if int(region.Start/index.LinearWindowSize) >= len(ref.Intervals) {
		s.logger.Warn("Region starts beyond the indexed extent of its reference",
			zap.String("region", region.String()), zap.Int("windows", len(ref.Intervals)))
		return fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
	}
	chunk, ok := idx.Resolve(id, region.Start, region.Limit())
	if !ok {
		return fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
	}

	first, found, err := s.findFirst(r, idx.Tabix, region, chunk.Start)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", region, ErrEmptyIntersection)
	}

	// Every record before the linear index entry of the window holding the
	// last position starts before that window, so it can be copied without
	// being parsed.  Records after it are checked one at a time.
	end := first
	if region.End == 0 {
		end = s.referenceEnd(src, idx, first)
	} else if window, ok := idx.Window(id, region.End-1); !ok {
		end = s.referenceEnd(src, idx, first)
	} else if window > first {
		end = window
	}
	if err := s.copyRange(ctx, src, r, a, first, end); err != nil {
		return err
	}

	for {
		line, err := r.ReadLine("")
		if err == io.EOF {
			a.ReachedEOF()
			return nil
		}
		if err != nil {
			return err
		}
		name, pos, ok := parseRecord(line, idx.Tabix)
		if !ok {
			continue
		}
		if name != region.ReferenceName || pos >= region.Limit() {
			return nil
		}
		if err := a.WriteText(line); err != nil {
			return err
		}
	}
}

// findFirst scans records from start and returns the address of the first
// record of region.  It reports false if the reference ends, or a record past
// the region is found, first.
func (s *Slicer) findFirst(r *bgzf.Reader, header index.TabixHeader, region genomics.Region, start bgzf.Address) (bgzf.Address, bool, error) {
	if err := r.Seek(start); err != nil {
		return 0, false, err
	}
	for {
		addr := r.Tell()
		line, err := r.ReadLine("")
		if err == io.EOF {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		name, pos, ok := parseRecord(line, header)
		if !ok {
			continue
		}
		if name != region.ReferenceName || pos >= region.Limit() {
			return 0, false, nil
		}
		if pos >= region.Start {
			return addr, true, nil
		}
	}
}

// referenceEnd returns the start of the reference that follows the one
// beginning at first, or the end of the source.
func (s *Slicer) referenceEnd(src Source, idx *index.Index, first bgzf.Address) bgzf.Address {
	if next, ok := idx.NextReferenceStart(first); ok {
		return next
	}
	return bgzf.NewAddress(uint64(src.Size()), 0)
}

// copyRange writes the data in [from, to) to a, decompressing only the
// partial blocks at either end.  The reader is left at to.
func (s *Slicer) copyRange(ctx context.Context, src Source, r *bgzf.Reader, a *Assembler, from, to bgzf.Address) error {
	if err := r.Seek(from); err != nil {
		return err
	}
	if to <= from {
		return nil
	}
	if from.BlockOffset() == to.BlockOffset() {
		text, err := r.ReadUntil(to)
		if err != nil {
			return err
		}
		return a.WriteText(text)
	}

	if r.Tell().DataOffset() != 0 {
		text, err := r.ReadChunk()
		if err != nil {
			return err
		}
		if err := a.WriteText(text); err != nil {
			return err
		}
	}
	low, high := int64(r.Tell().BlockOffset()), int64(to.BlockOffset())
	if err := a.CopyRaw(ctx, src, src.Size(), low, high); err != nil {
		return err
	}

	if err := r.Seek(bgzf.NewAddress(uint64(high), 0)); err != nil {
		return err
	}
	text, err := r.ReadUntil(to)
	if err != nil {
		return err
	}
	return a.WriteText(text)
}

// parseRecord returns the reference name and zero-based start position of a
// data line.  It reports false for blank, meta and malformed lines.
func parseRecord(line []byte, header index.TabixHeader) (string, uint32, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] == header.MetaChar() {
		return "", 0, false
	}
	seq, begin := int(header.SeqColumn)-1, int(header.BeginColumn)-1
	if seq < 0 || begin < 0 {
		return "", 0, false
	}
	columns := seq
	if begin > columns {
		columns = begin
	}
	fields := bytes.SplitN(line, []byte{'\t'}, columns+2)
	if len(fields) <= columns {
		return "", 0, false
	}
	pos, err := strconv.ParseUint(string(fields[begin]), 10, 32)
	if err != nil {
		return "", 0, false
	}
	if !header.ZeroBased() && pos > 0 {
		pos--
	}
	return string(fields[seq]), uint32(pos), true
}

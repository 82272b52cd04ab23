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
	"fmt"
	"io"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/index"
)

// Header writes the header of src to w.  The output is a complete BGZF file
// unless keepOpen is set, in which case the EOF marker is left out so that
// records can be appended.
func (s *Slicer) Header(ctx context.Context, src Source, idx *index.Index, w io.Writer, keepOpen bool) (int64, error) {
	a := s.newAssembler(w, keepOpen)
	if err := s.writeHeader(ctx, src, idx, a); err != nil {
		return a.Written(), err
	}
	if err := a.Close(); err != nil {
		return a.Written(), err
	}
	return a.Written(), nil
}

// writeHeader copies everything before the first record.  Whole header
// blocks are copied as they are; a header that ends inside a block is
// decompressed so that it can share a block with the body.  Without index
// data the header of a tabix file is found by scanning its meta lines.
func (s *Slicer) writeHeader(ctx context.Context, src Source, idx *index.Index, a *Assembler) error {
	if start, ok := idx.DataStart(); ok {
		block := int64(start.BlockOffset())
		if err := a.CopyRaw(ctx, src, src.Size(), 0, block); err != nil {
			return fmt.Errorf("copying header: %w", err)
		}
		if start.DataOffset() == 0 {
			return nil
		}
		r := s.newReader(src)
		if err := r.Seek(bgzf.NewAddress(uint64(block), 0)); err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
		text, err := r.ReadUntil(start)
		if err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
		return a.WriteText(text)
	}
	if idx.Format != index.Tabix {
		return fmt.Errorf("reading header: %w", ErrNoData)
	}

	meta := idx.Tabix.MetaChar()
	r := s.newReader(src)
	var text []byte
	for n := 0; ; n++ {
		line, err := r.ReadLine("")
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
		if n >= int(idx.Tabix.Skip) && (len(line) == 0 || line[0] != meta) {
			break
		}
		text = append(text, line...)
	}
	if len(text) == 0 {
		return fmt.Errorf("reading header: %w", ErrNoData)
	}
	return a.WriteText(text)
}

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
	"fmt"
	"io"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/genomics"
	"github.com/googlegenomics/htsslice/internal/index"
	"go.uber.org/zap"
)

// Source is a random access view of a compressed file.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Options configures a Slicer.  Zero values select the defaults.
type Options struct {
	Logger *zap.Logger
	// FetchSize is the number of compressed bytes read at a time while
	// scanning blocks.
	FetchSize int
	// MaxWindow bounds a single raw range request.
	MaxWindow int64
	// Parallelism is the number of raw windows fetched at once.
	Parallelism int
	// CompressionLevel is used for re-encoded text.  Zero selects
	// bgzf.DefaultCompression.
	CompressionLevel int
}

// Slicer extracts regions from indexed files.  A Slicer holds no per-file
// state and may be used from multiple goroutines; every call opens its own
// reader over the source.
type Slicer struct {
	logger      *zap.Logger
	fetchSize   int
	maxWindow   int64
	parallelism int
	level       int
}

// New returns a Slicer configured by opts.
func New(opts Options) *Slicer {
	s := &Slicer{
		logger:      opts.Logger,
		fetchSize:   opts.FetchSize,
		maxWindow:   opts.MaxWindow,
		parallelism: opts.Parallelism,
		level:       opts.CompressionLevel,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.fetchSize <= 0 {
		s.fetchSize = bgzf.DefaultFetchSize
	}
	if s.maxWindow <= 0 {
		s.maxWindow = fetch.DefaultWindowSize
	}
	if s.parallelism <= 0 {
		s.parallelism = 1
	}
	if s.level == 0 {
		s.level = bgzf.DefaultCompression
	}
	return s
}

// Result describes a completed slice.
type Result struct {
	// Skipped holds one soft error for every region that produced nothing.
	Skipped []error
	// Written is the number of bytes written to the output.
	Written int64
	// Index is the index of the output.  It is only set for BAM slices.
	Index *index.Index
}

func (s *Slicer) newAssembler(w io.Writer, keepOpen bool) *Assembler {
	a := NewAssembler(w, s.level, keepOpen)
	a.SetFetch(s.maxWindow, s.parallelism)
	return a
}

func (s *Slicer) newReader(src Source) *bgzf.Reader {
	return bgzf.NewReader(src, src.Size(), s.fetchSize)
}

func (s *Slicer) skip(skipped *[]error, err error, region genomics.Region) {
	s.logger.Warn("Skipping region", zap.String("region", region.String()), zap.Error(err))
	*skipped = append(*skipped, err)
}

// blockEnd returns the offset just past the block that holds the byte at
// addr, or addr's block offset if addr is at the start of a block.
func blockEnd(src Source, addr bgzf.Address) (int64, error) {
	offset := int64(addr.BlockOffset())
	if addr.DataOffset() == 0 {
		return offset, nil
	}
	size, err := bgzf.ReadBlockSize(io.NewSectionReader(src, offset, src.Size()-offset))
	if err == io.EOF {
		err = bgzf.ErrTruncatedSource
	}
	if err != nil {
		return 0, fmt.Errorf("reading size of block at %d: %w", offset, err)
	}
	return offset + int64(size), nil
}

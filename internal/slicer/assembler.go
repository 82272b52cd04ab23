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
	"errors"
	"fmt"
	"io"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
)

type state int

const (
	stateHeader state = iota
	stateBody
	stateTrail
	stateDone
)

func (s state) String() string {
	switch s {
	case stateHeader:
		return "HEADER"
	case stateBody:
		return "BODY"
	case stateTrail:
		return "TRAIL"
	case stateDone:
		return "DONE"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Assembler writes a BGZF stream made of re-encoded text and raw blocks
// copied from a source.  It moves from HEADER to BODY when the first body
// data is written and from TRAIL to DONE when closed.  Only whole blocks are
// ever written to the output, so a failed assembly leaves a prefix of valid
// blocks without the terminal marker.
type Assembler struct {
	out      *countingWriter
	text     *bgzf.Writer
	state    state
	keepOpen bool

	// reachedEOF is set once the body has consumed the source up to its true
	// end; sourceMarker is set when the last thing written was the source's
	// own EOF marker.
	reachedEOF   bool
	sourceMarker bool

	maxWindow   int64
	parallelism int
}

// NewAssembler returns an Assembler writing to w.  Text is compressed at
// level.  If keepOpen is set the terminal marker is only written when the
// body reaches the end of the source.
func NewAssembler(w io.Writer, level int, keepOpen bool) *Assembler {
	out := &countingWriter{w: w}
	return &Assembler{
		out:         out,
		text:        bgzf.NewWriter(out, level),
		keepOpen:    keepOpen,
		maxWindow:   fetch.DefaultWindowSize,
		parallelism: 1,
	}
}

// SetFetch configures how raw ranges are downloaded.
func (a *Assembler) SetFetch(maxWindow int64, parallelism int) {
	a.maxWindow, a.parallelism = maxWindow, parallelism
}

// Written returns the number of bytes written to the output so far.
func (a *Assembler) Written() int64 {
	return a.out.n
}

// Body ends the HEADER state.  Buffered header text is kept so that it may
// share a block with the first body text.
func (a *Assembler) Body() error {
	switch a.state {
	case stateHeader:
		a.state = stateBody
	case stateBody:
	default:
		return a.closedError("starting body")
	}
	return nil
}

// WriteText buffers decompressed text to be re-encoded.
func (a *Assembler) WriteText(p []byte) error {
	if a.state > stateBody {
		return a.closedError("writing text")
	}
	if len(p) == 0 {
		return nil
	}
	a.sourceMarker = false
	if _, err := a.text.Write(p); err != nil {
		return fmt.Errorf("encoding text: %w", err)
	}
	return nil
}

// Flush writes any buffered text as a block so that the next byte written
// starts a new block.
func (a *Assembler) Flush() error {
	if a.state > stateBody {
		return a.closedError("flushing")
	}
	if err := a.text.Flush(); err != nil {
		return fmt.Errorf("encoding text: %w", err)
	}
	return nil
}

// CopyRaw flushes buffered text and then copies the compressed bytes
// [low, high) of src unchanged.  The range must hold whole blocks.  size is
// the size of src and is used to detect copies that reach its end.
func (a *Assembler) CopyRaw(ctx context.Context, src io.ReaderAt, size, low, high int64) error {
	if a.state > stateBody {
		return a.closedError("copying raw data")
	}
	if high <= low {
		return nil
	}
	if err := a.Flush(); err != nil {
		return err
	}

	filter := &blockFilter{w: a.out}
	windows := fetch.Plan([]fetch.Window{{Low: low, High: high - 1}}, a.maxWindow)
	if _, err := fetch.Copy(ctx, src, windows, filter, a.parallelism); err != nil {
		return fmt.Errorf("copying [%d, %d): %w", low, high, err)
	}
	if len(filter.pending) > 0 {
		return fmt.Errorf("copying [%d, %d): range ends inside a block: %w", low, high, bgzf.ErrTruncatedSource)
	}
	if high >= size {
		a.reachedEOF = true
	}
	a.sourceMarker = high >= size && filter.lastWasMarker
	return nil
}

// ReachedEOF records that the body was read up to the true end of the
// source.
func (a *Assembler) ReachedEOF() {
	a.reachedEOF = true
}

// Close flushes buffered text and appends the terminal marker unless it is
// not wanted or was already copied from the source.
func (a *Assembler) Close() error {
	if a.state > stateBody {
		return a.closedError("closing")
	}
	if err := a.text.Flush(); err != nil {
		return fmt.Errorf("encoding text: %w", err)
	}
	a.state = stateTrail
	if !a.sourceMarker && (!a.keepOpen || a.reachedEOF) {
		if _, err := a.out.Write(bgzf.EOFMarker()); err != nil {
			return fmt.Errorf("writing EOF marker: %v", err)
		}
	}
	a.state = stateDone
	return nil
}

func (a *Assembler) closedError(doing string) error {
	return fmt.Errorf("%s in state %s: %w", doing, a.state, ErrAlreadyClosed)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// blockFilter forwards only complete blocks to w, holding back a partial
// block until the rest of it arrives.
type blockFilter struct {
	w             io.Writer
	pending       []byte
	lastWasMarker bool
}

func (f *blockFilter) Write(p []byte) (int, error) {
	data := p
	if len(f.pending) > 0 {
		data = append(f.pending, p...)
	}

	end := 0
	for end < len(data) {
		size, err := bgzf.ReadBlockSize(bytes.NewReader(data[end:]))
		if errors.Is(err, bgzf.ErrTruncatedSource) || (err == nil && len(data)-end < size) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("checking raw block at %d: %w", end, err)
		}
		f.lastWasMarker = bgzf.IsEOFMarker(data[end : end+size])
		end += size
	}
	if end > 0 {
		if _, err := f.w.Write(data[:end]); err != nil {
			return 0, fmt.Errorf("writing raw blocks: %v", err)
		}
	}
	f.pending = append([]byte(nil), data[end:]...)
	return len(p), nil
}

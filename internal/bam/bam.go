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

// Package bam provides support for parsing BAM file headers.
package bam

import (
	"errors"
	"fmt"
	"io"

	"github.com/googlegenomics/htsslice/internal/binary"
)

const (
	bamMagic = "BAM\x01"

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No reference name should be longer than this in practice.
	maximumNameLength = 1024

	// The SAM header text is bounded in the same way.
	maximumTextLength = 1 << 28
)

// ErrReferenceNotFound is returned when a named reference is not listed in
// the BAM header.
var ErrReferenceNotFound = errors.New("reference not found")

// Reference describes one reference sequence listed in a BAM header.
type Reference struct {
	Name   string
	Length int32
}

// Header is the binary header at the start of a BAM file.
type Header struct {
	// Text is the SAM header text.
	Text       string
	References []Reference
}

// ReadHeader reads the BAM header from the decompressed stream r.
func ReadHeader(r io.Reader) (*Header, error) {
	if err := binary.ExpectBytes(r, []byte(bamMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	var length int32
	if err := binary.Read(r, &length); err != nil {
		return nil, fmt.Errorf("reading SAM header length: %v", err)
	}
	if length < 0 || length > maximumTextLength {
		return nil, fmt.Errorf("invalid SAM header length (%d bytes)", length)
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, fmt.Errorf("reading SAM header: %v", err)
	}

	var count int32
	if err := binary.Read(r, &count); err != nil {
		return nil, fmt.Errorf("reading references count: %v", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("invalid references count (%d)", count)
	}
	header := &Header{Text: string(text)}
	for i := int32(0); i < count; i++ {
		if err := binary.Read(r, &length); err != nil {
			return nil, fmt.Errorf("reading name length: %v", err)
		}
		// The name length includes a null terminating character.
		if length < 1 || length > maximumNameLength {
			return nil, fmt.Errorf("invalid name length (%d bytes)", length)
		}
		name := make([]byte, length)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("reading name: %v", err)
		}
		var size int32
		if err := binary.Read(r, &size); err != nil {
			return nil, fmt.Errorf("reading reference length: %v", err)
		}
		header.References = append(header.References, Reference{Name: string(name[:length-1]), Length: size})
	}
	return header, nil
}

// ReferenceID returns the position of the named reference in the header.
func (h *Header) ReferenceID(reference string) (int32, error) {
	for i, ref := range h.References {
		if ref.Name == reference {
			return int32(i), nil
		}
	}
	return 0, fmt.Errorf("no reference named %q found: %w", reference, ErrReferenceNotFound)
}

// ReferenceNames returns the reference names in header order.
func (h *Header) ReferenceNames() []string {
	names := make([]string, len(h.References))
	for i, ref := range h.References {
		names[i] = ref.Name
	}
	return names
}

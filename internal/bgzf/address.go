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

package bgzf

import (
	"fmt"
	"sort"
	"strconv"
)

// LastAddress is the maximum valid BGZF address.
const LastAddress = Address(0xffffffffffffffff)

// Address stores a BGZF "virtual address".  The lower 16 bits store the data
// offset inside the uncompressed stream and upper 48 bits store the block
// offset inside the compressed archive set.
type Address uint64

// BlockOffset returns the offset to the start of the compressed block.
func (v Address) BlockOffset() uint64 {
	return uint64(v >> 16)
}

// DataOffset returns the offset to the data in the uncompressed block.
func (v Address) DataOffset() uint16 {
	return uint16(v & 0xffff)
}

// Shift returns v with its block offset moved down by delta bytes.  The data
// offset is left untouched.
func (v Address) Shift(delta uint64) Address {
	return NewAddress(v.BlockOffset()-delta, v.DataOffset())
}

// String returns v in hexadecimal.
func (v Address) String() string {
	return strconv.FormatUint(uint64(v), 16)
}

// NewAddress returns a new Address with the provided offsets.
func NewAddress(blockOffset uint64, dataOffset uint16) Address {
	return Address(blockOffset<<16 | uint64(dataOffset))
}

// Chunk specifies a region from Start to End inside a BGZF file.  End is the
// address just past the last byte of the region.
type Chunk struct {
	Start, End Address
}

// String returns a human readable description of the receiver.
func (v *Chunk) String() string {
	return fmt.Sprintf("[%s-%s]", v.Start, v.End)
}

// Merge attempts to merge any intersecting chunks in input.  Merge will not
// join two chunks if their combined size could exceed sizeLimit.
func Merge(input []*Chunk, sizeLimit uint64) []*Chunk {
	if len(input) == 0 {
		return nil
	}
	sort.Slice(input, func(i, j int) bool {
		return input[i].Start < input[j].Start
	})

	var (
		merged = []*Chunk{input[0]}
		output = merged[0]
	)
	for i := 1; i < len(input); i++ {
		var size uint64
		if input[i].End.BlockOffset() == output.Start.BlockOffset() {
			size = uint64(input[i].End.DataOffset() - output.Start.DataOffset())
		} else {
			// Estimate using the maximum size for the last block.
			size = input[i].End.BlockOffset() - output.Start.BlockOffset() + MaximumBlockSize
		}

		if input[i].Start <= output.End && size <= sizeLimit {
			if output.End < input[i].End {
				output.End = input[i].End
			}
		} else {
			merged = append(merged, input[i])
			output = merged[len(merged)-1]
		}
	}
	return merged
}

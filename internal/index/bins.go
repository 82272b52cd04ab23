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

const (
	// The binning scheme shared by BAI and tabix: 16kbp leaf bins and five
	// levels above bin 0.
	minShift = 14
	depth    = 5

	// LinearWindowSize is the size of each tiling window of the linear index.
	LinearWindowSize = 1 << minShift

	// MaximumPosition is the largest coordinate the binning scheme covers.
	MaximumPosition = 1 << (minShift + depth*3)
)

// BinsForRange returns the IDs of every bin that could hold a record
// overlapping the zero-based, half-open range [start, end).  An end of zero
// means the end of the reference.
func BinsForRange(start, end uint32) []uint32 {
	return binsForRange(start, end, minShift, depth)
}

// ReferenceBin returns the smallest bin that fully contains [start, end).
func ReferenceBin(start, end uint32) uint32 {
	if end <= start {
		end = start + 1
	}
	end--
	for l, s, t := depth, uint(minShift), uint32(((1<<(depth*3))-1)/7); l > 0; l-- {
		if start>>s == end>>s {
			return t + start>>s
		}
		s += 3
		t -= 1 << ((l - 1) * 3)
	}
	return 0
}

// This follows the C reference code in the CSI index format document.
func binsForRange(start, end uint32, minShift, depth int32) []uint32 {
	maxWidth := maximumBinWidth(minShift, depth)
	if end == 0 || end > maxWidth {
		end = maxWidth
	}
	if end <= start {
		return nil
	}
	if start > maxWidth {
		return nil
	}

	end--
	var bins []uint32
	for l, t, s := uint(0), uint32(0), uint(minShift+depth*3); l <= uint(depth); l++ {
		b := t + (start >> s)
		e := t + (end >> s)
		for i := b; i <= e; i++ {
			bins = append(bins, i)
		}
		s -= 3
		t += 1 << (l * 3)
	}
	return bins
}

func maximumBinWidth(minShift, depth int32) uint32 {
	return uint32(1 << uint32(minShift+depth*3))
}

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

// Package genomics contains definitions related to Genomic data.
package genomics

import (
	"fmt"
	"math"
	"sort"
)

// AllMappedReads defines a Region that matches all mapped reads.
var AllMappedReads = Region{ReferenceID: -1}

// Region defines a region of genomic interest.
type Region struct {
	// ReferenceName names the reference to match.  When it is set it takes
	// precedence over ReferenceID.
	ReferenceName string
	// ReferenceID specifies the reference to match.  If it is negative, any
	// reference matches the region.
	ReferenceID int32
	// Start and End specify the zero-based, half-open range (in base pairs)
	// relative to the reference.  If End is zero, it is treated as though it
	// was set to the last possible position.
	Start, End uint32
}

// Whole reports whether the region covers its entire reference.
func (region Region) Whole() bool {
	return region.Start == 0 && region.End == 0
}

// Limit returns the exclusive end of the region, mapping an unbounded end to
// the largest possible position.
func (region Region) Limit() uint32 {
	if region.End == 0 {
		return math.MaxUint32
	}
	return region.End
}

// Contains reports whether a record starting at the zero-based position pos
// falls inside the region.
func (region Region) Contains(pos uint32) bool {
	return pos >= region.Start && pos < region.Limit()
}

func (region Region) String() string {
	if region.ReferenceName != "" {
		if region.Whole() {
			return region.ReferenceName
		}
		if region.End == 0 {
			return fmt.Sprintf("%s:%d-", region.ReferenceName, region.Start+1)
		}
		return fmt.Sprintf("%s:%d-%d", region.ReferenceName, region.Start+1, region.End)
	}
	return fmt.Sprintf("[region:%d, start:%d, end:%d]", region.ReferenceID, region.Start, region.End)
}

// SortAndMerge orders regions by the rank returned for their reference and
// then by start, and joins regions on the same reference that overlap or
// touch.  References ranked negative (unknown to the caller) sort last in name
// order.
func SortAndMerge(regions []Region, rank func(Region) int) []Region {
	if len(regions) == 0 {
		return nil
	}
	sorted := append([]Region(nil), regions...)
	key := func(r Region) int {
		if k := rank(r); k >= 0 {
			return k
		}
		return math.MaxInt32
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ka, kb := key(a), key(b); ka != kb {
			return ka < kb
		}
		if a.ReferenceName != b.ReferenceName {
			return a.ReferenceName < b.ReferenceName
		}
		return a.Start < b.Start
	})

	merged := []Region{sorted[0]}
	for _, next := range sorted[1:] {
		current := &merged[len(merged)-1]
		if !sameReference(*current, next) || current.Limit() < next.Start {
			merged = append(merged, next)
			continue
		}
		if current.Whole() {
			continue
		}
		if next.End == 0 || current.End == 0 {
			current.End = 0
			continue
		}
		if next.End > current.End {
			current.End = next.End
		}
	}
	return merged
}

func sameReference(a, b Region) bool {
	if a.ReferenceName != "" || b.ReferenceName != "" {
		return a.ReferenceName == b.ReferenceName
	}
	return a.ReferenceID == b.ReferenceID
}

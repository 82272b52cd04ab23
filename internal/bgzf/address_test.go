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
	"reflect"
	"testing"
)

func TestAddress(t *testing.T) {
	testCases := []struct {
		name    string
		address Address
		block   uint64
		data    uint16
		text    string
	}{
		{"last address", LastAddress, 0x0000ffffffffffff, 0xffff, "ffffffffffffffff"},
		{"zero data offset", 0xffff0000, 0xffff, 0x0000, "ffff0000"},
		{"zero", 0, 0, 0, "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := tc.address.BlockOffset(), tc.block; got != want {
				t.Errorf("Wrong block offset: got 0x%016x, want 0x%016x", got, want)
			}
			if got, want := tc.address.DataOffset(), tc.data; got != want {
				t.Errorf("Wrong data offset: got 0x%04x, want 0x%04x", got, want)
			}
			if got, want := tc.address.String(), tc.text; got != want {
				t.Errorf("Wrong string result: got %q, want %q", got, want)
			}
			if got, want := NewAddress(tc.block, tc.data), tc.address; got != want {
				t.Errorf("NewAddress(%d, %d): got %s, want %s", tc.block, tc.data, got, want)
			}
		})
	}
}

func TestAddress_Ordering(t *testing.T) {
	testCases := []struct {
		name string
		a, b Address
	}{
		{"same block", NewAddress(100, 1), NewAddress(100, 2)},
		{"block dominates data", NewAddress(100, 0xffff), NewAddress(101, 0)},
		{"zero", NewAddress(0, 0), NewAddress(0, 1)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if !(tc.a < tc.b) {
				t.Errorf("%s should order before %s", tc.a, tc.b)
			}
		})
	}
}

func TestAddress_Shift(t *testing.T) {
	got := NewAddress(5000, 17).Shift(1000)
	if want := NewAddress(4000, 17); got != want {
		t.Errorf("Shift(1000): got %s, want %s", got, want)
	}
}

func TestChunk_String(t *testing.T) {
	chunk := &Chunk{NewAddress(0, 12), NewAddress(10, 0)}
	if got, want := chunk.String(), "[c-a0000]"; got != want {
		t.Errorf("String(): got %q, want %q", got, want)
	}
}

// chunk returns a chunk between two addresses given as (block, data) pairs.
func chunk(startBlock uint64, startData uint16, endBlock uint64, endData uint16) *Chunk {
	return &Chunk{NewAddress(startBlock, startData), NewAddress(endBlock, endData)}
}

func TestMerge(t *testing.T) {
	testCases := []struct {
		name   string
		limit  uint64
		input  []*Chunk
		merged []*Chunk
	}{
		{
			"touching chunks in one block",
			1024,
			[]*Chunk{chunk(0, 0, 0, 10), chunk(0, 10, 0, 40), chunk(0, 40, 0, 80)},
			[]*Chunk{chunk(0, 0, 0, 80)},
		},
		{
			"gap between chunks",
			1024,
			[]*Chunk{chunk(0, 0, 0, 10), chunk(0, 20, 0, 40), chunk(0, 40, 0, 80)},
			[]*Chunk{chunk(0, 0, 0, 10), chunk(0, 20, 0, 80)},
		},
		{
			"unsorted input",
			1024,
			[]*Chunk{chunk(0, 40, 0, 80), chunk(0, 10, 0, 40), chunk(0, 0, 0, 10)},
			[]*Chunk{chunk(0, 0, 0, 80)},
		},
		{
			"contained chunk",
			1024,
			[]*Chunk{chunk(0, 0, 0, 80), chunk(0, 20, 0, 40)},
			[]*Chunk{chunk(0, 0, 0, 80)},
		},
		{
			"one block over the limit",
			100,
			[]*Chunk{chunk(0, 0, 0, 60), chunk(0, 60, 0, 120)},
			[]*Chunk{chunk(0, 0, 0, 60), chunk(0, 60, 0, 120)},
		},
		{
			"across blocks within the limit",
			MaximumBlockSize + 5000,
			[]*Chunk{chunk(0, 0, 3000, 5), chunk(3000, 5, 5000, 0)},
			[]*Chunk{chunk(0, 0, 5000, 0)},
		},
		{
			"across blocks over the limit",
			MaximumBlockSize + 4999,
			[]*Chunk{chunk(0, 0, 3000, 5), chunk(3000, 5, 5000, 0)},
			[]*Chunk{chunk(0, 0, 3000, 5), chunk(3000, 5, 5000, 0)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Merge(tc.input, tc.limit); !reflect.DeepEqual(got, tc.merged) {
				t.Errorf("Merge: got %s, want %s", got, tc.merged)
			}
		})
	}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(nil, 1024); got != nil {
		t.Errorf("Merge(nil): got %v, want nil", got)
	}
}

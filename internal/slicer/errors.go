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

// Package slicer extracts genomic regions from indexed BGZF files.  BAM files
// are sliced at block granularity using their BAI index and emitted with a
// matching pruned index; tabix-indexed text files are sliced at record
// granularity by scanning the blocks the index points at.
package slicer

import (
	"errors"
)

var (
	// ErrRegionNotFound is reported when a region names a reference that is
	// not present in the index.
	ErrRegionNotFound = errors.New("region not found")
	// ErrEmptyIntersection is reported when a region holds no records.
	ErrEmptyIntersection = errors.New("empty intersection")
	// ErrAlreadyClosed is returned by an Assembler that has been closed.
	ErrAlreadyClosed = errors.New("assembler already closed")
	// ErrNoData is returned when nothing could be sliced because the index
	// does not describe any data.  Callers may fall back to copying the
	// whole file.
	ErrNoData = errors.New("index describes no data")
)

// IsSoft reports whether err describes a valid empty answer rather than a
// failure.
func IsSoft(err error) bool {
	return errors.Is(err, ErrRegionNotFound) || errors.Is(err, ErrEmptyIntersection)
}

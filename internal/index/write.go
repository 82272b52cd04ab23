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

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/binary"
)

// Write encodes idx in its own format.  BAI indexes are written
// uncompressed; tabix indexes are BGZF compressed and terminated with the EOF
// marker.
func Write(w io.Writer, idx *Index) error {
	switch idx.Format {
	case BAI:
		return WriteBAI(w, idx)
	case Tabix:
		return WriteTabix(w, idx)
	}
	return fmt.Errorf("writing index: unsupported format %v", idx.Format)
}

// WriteBAI writes idx as an uncompressed BAI index.
func WriteBAI(w io.Writer, idx *Index) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(baiMagic); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}
	if err := binary.Write(bw, int32(len(idx.References))); err != nil {
		return fmt.Errorf("writing reference count: %v", err)
	}
	if err := writeReferences(bw, idx); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteTabix writes idx as a BGZF compressed tabix index.
func WriteTabix(w io.Writer, idx *Index) error {
	if len(idx.Names) != len(idx.References) {
		return fmt.Errorf("writing tabix index: %d names for %d references", len(idx.Names), len(idx.References))
	}

	var raw bytes.Buffer
	raw.WriteString(tabixMagic)
	names := strings.Join(idx.Names, "\x00")
	if len(idx.Names) > 0 {
		names += "\x00"
	}
	header := struct {
		References int32
		TabixHeader
		NamesLength int32
	}{int32(len(idx.References)), idx.Tabix, int32(len(names))}
	if err := binary.Write(&raw, header); err != nil {
		return fmt.Errorf("writing tabix header: %v", err)
	}
	raw.WriteString(names)
	if err := writeReferences(&raw, idx); err != nil {
		return err
	}

	bw := bgzf.NewWriter(w, bgzf.DefaultCompression)
	if _, err := bw.Write(raw.Bytes()); err != nil {
		return fmt.Errorf("compressing index: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("compressing index: %w", err)
	}
	if _, err := w.Write(bgzf.EOFMarker()); err != nil {
		return fmt.Errorf("writing EOF marker: %v", err)
	}
	return nil
}

func writeReferences(w io.Writer, idx *Index) error {
	for i, ref := range idx.References {
		if err := binary.Write(w, int32(len(ref.Bins))); err != nil {
			return fmt.Errorf("writing bin count of reference %d: %v", i, err)
		}
		for _, bin := range ref.Bins {
			header := struct {
				ID     uint32
				Chunks int32
			}{bin.ID, int32(len(bin.Chunks))}
			if err := binary.Write(w, header); err != nil {
				return fmt.Errorf("writing bin header: %v", err)
			}
			if err := binary.Write(w, bin.Chunks); err != nil {
				return fmt.Errorf("writing chunks: %v", err)
			}
		}
		if err := binary.Write(w, int32(len(ref.Intervals))); err != nil {
			return fmt.Errorf("writing interval count of reference %d: %v", i, err)
		}
		if err := binary.Write(w, ref.Intervals); err != nil {
			return fmt.Errorf("writing offsets: %v", err)
		}
	}
	if idx.Unmapped != nil {
		if err := binary.Write(w, *idx.Unmapped); err != nil {
			return fmt.Errorf("writing unmapped count: %v", err)
		}
	}
	return nil
}

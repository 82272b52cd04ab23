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

package bgzf

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"testing"
)

// testFile holds a BGZF file built from explicit blocks.
type testFile struct {
	data    []byte
	offsets []uint64
	blocks  [][]byte
}

func newTestFile(t *testing.T, blocks ...[]byte) *testFile {
	t.Helper()
	f := &testFile{blocks: blocks}
	for _, b := range blocks {
		encoded, err := EncodeBlock(b)
		if err != nil {
			t.Fatalf("EncodeBlock() returned error: %v", err)
		}
		f.offsets = append(f.offsets, uint64(len(f.data)))
		f.data = append(f.data, encoded...)
	}
	f.offsets = append(f.offsets, uint64(len(f.data)))
	f.data = append(f.data, EOFMarker()...)
	return f
}

func (f *testFile) reader(fetchSize int) *Reader {
	return NewReader(bytes.NewReader(f.data), int64(len(f.data)), fetchSize)
}

func filled(n int, c byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = c + byte(i%16)
	}
	return b
}

func TestReader_ThreeBlocks(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'), filled(80, '0'))

	for _, fetchSize := range []int{16, 0} {
		r := f.reader(fetchSize)
		if err := r.Seek(NewAddress(f.offsets[0], 40)); err != nil {
			t.Fatalf("Seek() returned error: %v", err)
		}
		got, err := r.ReadN(60)
		if err != nil {
			t.Fatalf("ReadN(60) returned error: %v", err)
		}
		if want := f.blocks[0][40:]; !bytes.Equal(got, want) {
			t.Errorf("ReadN(60): got %q, want %q", got, want)
		}
		if got, want := r.Tell(), NewAddress(f.offsets[1], 0); got != want {
			t.Errorf("Tell() after consuming block: got %s, want %s", got, want)
		}

		got, err = r.ReadN(200)
		if err != nil {
			t.Fatalf("ReadN(200) returned error: %v", err)
		}
		if want := append(append([]byte(nil), f.blocks[1]...), f.blocks[2][:50]...); !bytes.Equal(got, want) {
			t.Errorf("ReadN(200): got %q, want %q", got, want)
		}
		if got, want := r.Tell(), NewAddress(f.offsets[2], 50); got != want {
			t.Errorf("Tell() inside block: got %s, want %s", got, want)
		}

		got, err = r.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk() returned error: %v", err)
		}
		if want := f.blocks[2][50:]; !bytes.Equal(got, want) {
			t.Errorf("ReadChunk(): got %q, want %q", got, want)
		}
		if got, want := r.Tell(), NewAddress(f.offsets[3], 0); got != want {
			t.Errorf("Tell() at marker: got %s, want %s", got, want)
		}
		if _, err := r.ReadN(1); err != io.EOF {
			t.Errorf("ReadN() at end: got error %v, want io.EOF", err)
		}
	}
}

func TestReader_ReadUntil(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'), filled(80, '0'))
	r := f.reader(0)
	if err := r.Seek(NewAddress(f.offsets[0], 90)); err != nil {
		t.Fatalf("Seek() returned error: %v", err)
	}

	got, err := r.ReadUntil(NewAddress(f.offsets[2], 10))
	if err != nil {
		t.Fatalf("ReadUntil() returned error: %v", err)
	}
	var want []byte
	want = append(want, f.blocks[0][90:]...)
	want = append(want, f.blocks[1]...)
	want = append(want, f.blocks[2][:10]...)
	if !bytes.Equal(got, want) {
		t.Errorf("ReadUntil(): got %q, want %q", got, want)
	}

	if got, err := r.ReadUntil(NewAddress(f.offsets[1], 0)); err != nil || len(got) != 0 {
		t.Errorf("ReadUntil() behind the cursor: got %q, %v; want nothing", got, err)
	}
	if _, err := r.ReadUntil(NewAddress(f.offsets[3]+1000, 0)); !errors.Is(err, ErrTruncatedSource) {
		t.Errorf("ReadUntil() past the end: got error %v, want %v", err, ErrTruncatedSource)
	}
}

func TestReader_ReadLine(t *testing.T) {
	testCases := []struct {
		name   string
		blocks []string
		delims string
		want   []string
	}{
		{
			"single block",
			[]string{"one\ntwo\nthree"},
			"",
			[]string{"one\n", "two\n", "three"},
		},
		{
			"line across blocks",
			[]string{"on", "e\ntw", "o\n"},
			"",
			[]string{"one\n", "two\n"},
		},
		{
			"CRLF across blocks",
			[]string{"one\r", "\ntwo\r\n"},
			"",
			[]string{"one\r\n", "two\r\n"},
		},
		{
			"bare CR",
			[]string{"one\rtwo\n"},
			"",
			[]string{"one\r", "two\n"},
		},
		{
			"custom delimiters",
			[]string{"a;b", ";c"},
			";",
			[]string{"a;", "b;", "c"},
		},
		{
			"empty blocks",
			[]string{"", "a\n", "", "b\n"},
			"",
			[]string{"a\n", "b\n"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var blocks [][]byte
			for _, b := range tc.blocks {
				blocks = append(blocks, []byte(b))
			}
			r := newTestFile(t, blocks...).reader(8)

			var got []string
			for {
				line, err := r.ReadLine(tc.delims)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("ReadLine() returned error: %v", err)
				}
				got = append(got, string(line))
			}
			if len(got) != len(tc.want) {
				t.Fatalf("ReadLine(): got %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("Line %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestReader_Read(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'), filled(80, '0'))
	got, err := ioutil.ReadAll(f.reader(32))
	if err != nil {
		t.Fatalf("ReadAll() returned error: %v", err)
	}
	want := bytes.Join(f.blocks, nil)
	if !bytes.Equal(got, want) {
		t.Errorf("ReadAll(): got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestReader_Seek_Errors(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'))

	r := f.reader(0)
	if err := r.Seek(NewAddress(f.offsets[0], 200)); !errors.Is(err, ErrTruncatedSource) {
		t.Errorf("Seek() past block data: got error %v, want %v", err, ErrTruncatedSource)
	}
	if err := r.Seek(NewAddress(uint64(len(f.data))+1, 0)); !errors.Is(err, ErrTruncatedSource) {
		t.Errorf("Seek() past end of source: got error %v, want %v", err, ErrTruncatedSource)
	}
	if err := r.Seek(NewAddress(uint64(len(f.data)), 0)); err != nil {
		t.Errorf("Seek() to end of source returned error: %v", err)
	}
}

func TestReader_TruncatedSource(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'))
	cut := f.data[:f.offsets[1]+10]
	r := NewReader(bytes.NewReader(cut), int64(len(cut)), 0)

	if _, err := r.ReadN(100); err != nil {
		t.Fatalf("ReadN() of the first block returned error: %v", err)
	}
	if _, err := r.ReadN(1); !errors.Is(err, ErrTruncatedSource) {
		t.Errorf("ReadN() into the cut block: got error %v, want %v", err, ErrTruncatedSource)
	}
}

func TestReader_ShortSource(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'))
	// The source claims to be longer than the data it can deliver.
	r := NewReader(bytes.NewReader(f.data), int64(len(f.data))+100, 0)
	if _, err := r.ReadN(100); !errors.Is(err, ErrTruncatedSource) {
		t.Errorf("ReadN(): got error %v, want %v", err, ErrTruncatedSource)
	}
}

type countingReaderAt struct {
	r     io.ReaderAt
	calls int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.calls++
	return c.r.ReadAt(p, off)
}

func TestReader_FetchWindows(t *testing.T) {
	f := newTestFile(t, filled(100, 'a'), filled(150, 'A'), filled(80, '0'))
	src := &countingReaderAt{r: bytes.NewReader(f.data)}
	r := NewReader(src, int64(len(f.data)), 1<<20)
	if _, err := ioutil.ReadAll(r); err != nil {
		t.Fatalf("ReadAll() returned error: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("Source was read %d times, want 1", src.calls)
	}
}

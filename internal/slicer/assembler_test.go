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
	"testing"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembler_States(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	require.NoError(t, a.WriteText([]byte("header\n")))
	require.NoError(t, a.Body())
	require.NoError(t, a.Body())
	require.NoError(t, a.WriteText([]byte("body\n")))
	require.NoError(t, a.Close())

	assert.Equal(t, "header\nbody\n", string(decode(t, out.Bytes())))
	assert.Equal(t, int64(out.Len()), a.Written())

	for name, call := range map[string]func() error{
		"Close":     a.Close,
		"Body":      a.Body,
		"Flush":     a.Flush,
		"WriteText": func() error { return a.WriteText([]byte("x")) },
		"CopyRaw": func() error {
			return a.CopyRaw(context.Background(), bytes.NewReader(nil), 0, 0, 1)
		},
	} {
		err := call()
		assert.True(t, errors.Is(err, ErrAlreadyClosed), "%s: got %v", name, err)
	}
}

func TestAssembler_EmptyFile(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	require.NoError(t, a.Close())
	assert.Equal(t, bgzf.EOFMarker(), out.Bytes())
}

func TestAssembler_KeepOpen(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, true)
	require.NoError(t, a.WriteText([]byte("text\n")))
	require.NoError(t, a.Close())
	assert.False(t, bgzf.IsEOFMarker(out.Bytes()[out.Len()-bgzf.EOFMarkerSize:]))

	out.Reset()
	a = NewAssembler(&out, bgzf.DefaultCompression, true)
	require.NoError(t, a.WriteText([]byte("text\n")))
	a.ReachedEOF()
	require.NoError(t, a.Close())
	assert.Equal(t, "text\n", string(decode(t, out.Bytes())))
}

func TestAssembler_ReusesSourceMarker(t *testing.T) {
	f := testVCF(t)
	size := int64(len(f.data))

	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	a.SetFetch(1000, 2)
	require.NoError(t, a.CopyRaw(context.Background(), bytes.NewReader(f.data), size, 0, size))
	require.NoError(t, a.Close())
	assert.Equal(t, f.data, out.Bytes())
}

func TestAssembler_TextAfterRawMarker(t *testing.T) {
	f := testVCF(t)
	size := int64(len(f.data))
	markerStart := size - bgzf.EOFMarkerSize

	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	require.NoError(t, a.CopyRaw(context.Background(), bytes.NewReader(f.data), size, markerStart, size))
	require.NoError(t, a.WriteText([]byte("more\n")))
	require.NoError(t, a.Close())
	require.True(t, bytes.HasPrefix(out.Bytes(), bgzf.EOFMarker()))
	assert.Equal(t, "more\n", string(decode(t, out.Bytes()[bgzf.EOFMarkerSize:])))
}

func TestAssembler_PartialBlock(t *testing.T) {
	f := testVCF(t)
	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	err := a.CopyRaw(context.Background(), bytes.NewReader(f.data), int64(len(f.data)), f.offsets[1], f.offsets[2]+10)
	assert.True(t, errors.Is(err, bgzf.ErrTruncatedSource), "got %v", err)
	// Only the complete block was written.
	assert.Equal(t, f.data[f.offsets[1]:f.offsets[2]], out.Bytes())
}

func TestAssembler_SplitWindows(t *testing.T) {
	f := testVCF(t)
	var out bytes.Buffer
	a := NewAssembler(&out, bgzf.DefaultCompression, false)
	a.SetFetch(7, 4)
	require.NoError(t, a.CopyRaw(context.Background(), bytes.NewReader(f.data), int64(len(f.data)), f.offsets[1], f.offsets[4]))
	assert.Equal(t, f.data[f.offsets[1]:f.offsets[4]], out.Bytes())
}

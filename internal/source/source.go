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

// Package source provides range-readable access to objects stored in local
// files, on HTTP servers, in Google Cloud Storage and in Amazon S3.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrPermissionDenied is returned when the caller may not read an object.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupportedScheme is returned by Open for unknown URI schemes.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// Object is a stored object that can be read by byte range.
type Object interface {
	// NewRangeReader returns a reader that reads from a specified range.
	// Length of -1 means to capture everything until the end.
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
	// Size returns the size of the object in bytes.
	Size(ctx context.Context) (int64, error)
}

// ReaderAt adapts an Object to io.ReaderAt.  Every ReadAt call issues one
// range request bound to the context given to NewReaderAt, so cancelling the
// context aborts reads in progress.
type ReaderAt struct {
	ctx    context.Context
	object Object
	size   int64
}

// NewReaderAt returns a ReaderAt for object, reading its size once.
func NewReaderAt(ctx context.Context, object Object) (*ReaderAt, error) {
	size, err := object.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting object size: %w", err)
	}
	return &ReaderAt{ctx: ctx, object: object, size: size}, nil
}

// Size returns the size of the object.
func (r *ReaderAt) Size() int64 {
	return r.size
}

// ReadAt implements io.ReaderAt.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > r.size {
		length = r.size - off
	}
	rc, err := r.object.NewRangeReader(r.ctx, off, length)
	if err != nil {
		return 0, fmt.Errorf("opening range [%d, %d): %w", off, off+length, err)
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:length])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Bytes is an in-memory Object.
type Bytes []byte

// NewRangeReader implements Object.
func (b Bytes) NewRangeReader(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || offset > int64(len(b)) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	end := int64(len(b))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(b[offset:end])), nil
}

// Size implements Object.
func (b Bytes) Size(context.Context) (int64, error) {
	return int64(len(b)), nil
}

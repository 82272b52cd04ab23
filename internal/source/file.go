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

package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// File is an Object stored in the local file system.
type File string

// NewRangeReader implements Object.
func (f File) NewRangeReader(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fileError(err)
	}
	if _, err := fh.Seek(offset, io.SeekStart); err != nil {
		fh.Close()
		return nil, fmt.Errorf("seeking to %d: %v", offset, err)
	}
	if length < 0 {
		return fh, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(fh, length), fh}, nil
}

// Size implements Object.
func (f File) Size(context.Context) (int64, error) {
	info, err := os.Stat(string(f))
	if err != nil {
		return 0, fileError(err)
	}
	return info.Size(), nil
}

func fileError(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%v: %w", err, ErrNotFound)
	case os.IsPermission(err):
		return fmt.Errorf("%v: %w", err, ErrPermissionDenied)
	}
	return err
}

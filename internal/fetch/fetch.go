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

// Package fetch plans and performs bounded range downloads of compressed
// data.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// DefaultWindowSize bounds the size of a single range request.
const DefaultWindowSize = 64 << 20

// ErrShortRead is returned when the source delivers fewer bytes than a window
// covers.
var ErrShortRead = errors.New("short read")

// Window is an inclusive range of compressed bytes.
type Window struct {
	Low, High int64
}

// Size returns the number of bytes covered by w.
func (w Window) Size() int64 {
	return w.High - w.Low + 1
}

func (w Window) String() string {
	return fmt.Sprintf("[%d-%d]", w.Low, w.High)
}

// Plan splits each range into windows of at most maxSize bytes, keeping the
// ranges in order.  Empty ranges are dropped.
func Plan(ranges []Window, maxSize int64) []Window {
	if maxSize <= 0 {
		maxSize = DefaultWindowSize
	}
	var windows []Window
	for _, r := range ranges {
		for low := r.Low; low <= r.High; low += maxSize {
			high := low + maxSize - 1
			if high > r.High {
				high = r.High
			}
			windows = append(windows, Window{low, high})
		}
	}
	return windows
}

// Total returns the number of bytes covered by windows.
func Total(windows []Window) int64 {
	var total int64
	for _, w := range windows {
		total += w.Size()
	}
	return total
}

// Copy reads every window from src and writes them to w in order.  Up to
// parallelism windows are fetched at the same time; output order never
// depends on fetch order.  It returns the number of bytes written.
func Copy(ctx context.Context, src io.ReaderAt, windows []Window, w io.Writer, parallelism int) (int64, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	var written int64
	for len(windows) > 0 {
		batch := windows
		if len(batch) > parallelism {
			batch = batch[:parallelism]
		}
		windows = windows[len(batch):]

		buffers := make([][]byte, len(batch))
		group, ctx := errgroup.WithContext(ctx)
		group.SetLimit(parallelism)
		for i, window := range batch {
			i, window := i, window
			group.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				buffer := make([]byte, window.Size())
				n, err := src.ReadAt(buffer, window.Low)
				if n < len(buffer) {
					if err == nil || err == io.EOF {
						err = ErrShortRead
					}
					return fmt.Errorf("fetching %s: got %d bytes: %w", window, n, err)
				}
				buffers[i] = buffer
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return written, err
		}

		for _, buffer := range buffers {
			n, err := w.Write(buffer)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("writing fetched data: %v", err)
			}
		}
	}
	return written, nil
}

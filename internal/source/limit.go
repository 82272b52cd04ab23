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
	"io"

	"github.com/juju/ratelimit"
)

// NewBandwidthLimit returns a token bucket that admits bytesPerSecond bytes
// per second, or nil if bytesPerSecond is not positive.  A single bucket may
// be shared by many objects to cap the total read rate.
func NewBandwidthLimit(bytesPerSecond int64) *ratelimit.Bucket {
	if bytesPerSecond <= 0 {
		return nil
	}
	return ratelimit.NewBucketWithRate(float64(bytesPerSecond), bytesPerSecond)
}

// Limit returns an Object whose reads are throttled by bucket.  It returns
// object unchanged if bucket is nil.
func Limit(object Object, bucket *ratelimit.Bucket) Object {
	if bucket == nil {
		return object
	}
	return &limitedObject{object, bucket}
}

type limitedObject struct {
	Object
	bucket *ratelimit.Bucket
}

func (o *limitedObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	rc, err := o.Object.NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	return &limitedReader{rc, o.bucket}, nil
}

type limitedReader struct {
	io.ReadCloser
	bucket *ratelimit.Bucket
}

func (l *limitedReader) Read(buf []byte) (int, error) {
	n, err := l.ReadCloser.Read(buf)
	l.bucket.Wait(int64(n))
	return n, err
}

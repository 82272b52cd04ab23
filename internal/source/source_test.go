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
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

// checkReaderAt reads a few ranges of object through a ReaderAt and compares
// them with want.
func checkReaderAt(t *testing.T, object Object, want []byte) {
	t.Helper()
	r, err := NewReaderAt(context.Background(), object)
	require.NoError(t, err)
	require.Equal(t, int64(len(want)), r.Size())

	for _, rng := range [][2]int{{0, 10}, {5, 100}, {len(want) - 7, 7}, {123, 1}} {
		buf := make([]byte, rng[1])
		n, err := r.ReadAt(buf, int64(rng[0]))
		require.NoError(t, err, "range %v", rng)
		assert.Equal(t, want[rng[0]:rng[0]+rng[1]], buf[:n], "range %v", rng)
	}

	buf := make([]byte, 20)
	n, err := r.ReadAt(buf, int64(len(want)-5))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, want[len(want)-5:], buf[:n])

	_, err = r.ReadAt(buf, int64(len(want)))
	assert.Equal(t, io.EOF, err)
}

func TestBytes(t *testing.T) {
	data := randomData(1000)
	checkReaderAt(t, Bytes(data), data)
}

func TestFile(t *testing.T) {
	data := randomData(4096)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	checkReaderAt(t, File(path), data)

	rc, err := File(path).NewRangeReader(context.Background(), 4000, -1)
	require.NoError(t, err)
	defer rc.Close()
	rest, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data[4000:], rest)
}

func TestFileNotFound(t *testing.T) {
	missing := File(filepath.Join(t.TempDir(), "missing"))
	_, err := missing.Size(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	_, err = missing.NewRangeReader(context.Background(), 0, 1)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestHTTP(t *testing.T) {
	data := randomData(5000)
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth.Store(req.Header.Get("Authorization"))
		http.ServeContent(w, req, "data.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	object := &HTTP{
		URL:    server.URL,
		Header: http.Header{"Authorization": []string{"Bearer token"}},
	}
	checkReaderAt(t, object, data)
	assert.Equal(t, "Bearer token", auth.Load())
}

func TestHTTPErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrPermissionDenied},
		{"forbidden", http.StatusForbidden, ErrPermissionDenied},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			object := &HTTP{URL: server.URL}
			_, err := object.Size(context.Background())
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			_, err = object.NewRangeReader(context.Background(), 0, 10)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestHTTPIgnoredRange(t *testing.T) {
	data := randomData(100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	object := &HTTP{URL: server.URL}
	rc, err := object.NewRangeReader(context.Background(), 0, 10)
	require.NoError(t, err)
	prefix, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, data[:10], prefix)

	_, err = object.NewRangeReader(context.Background(), 10, 10)
	assert.Error(t, err)
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	gets    int
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.gets++
	data, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	rng := strings.TrimPrefix(aws.StringValue(in.Range), "bytes=")
	bounds := strings.SplitN(rng, "-", 2)
	start, _ := strconv.Atoi(bounds[0])
	end := len(data) - 1
	if bounds[1] != "" {
		end, _ = strconv.Atoi(bounds[1])
	}
	if end >= len(data) {
		end = len(data) - 1
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[start : end+1]))}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New("NotFound", "not found", nil)
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func TestS3(t *testing.T) {
	data := randomData(2048)
	client := &fakeS3{objects: map[string][]byte{"bucket/dir/data.bam": data}}

	object, err := Open(context.Background(), "s3://bucket/dir/data.bam", Options{S3: client})
	require.NoError(t, err)
	checkReaderAt(t, object, data)

	missing, err := Open(context.Background(), "s3://bucket/missing.bam", Options{S3: client})
	require.NoError(t, err)
	_, err = missing.Size(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	_, err = missing.NewRangeReader(context.Background(), 0, 10)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestOpen(t *testing.T) {
	testCases := []struct {
		uri  string
		want Object
	}{
		{"/data/x.bam", File("/data/x.bam")},
		{"relative/x.bam", File("relative/x.bam")},
		{"file:///data/x.bam", File("/data/x.bam")},
		{"https://example.com/x.bam", &HTTP{URL: "https://example.com/x.bam"}},
	}
	for _, tc := range testCases {
		t.Run(tc.uri, func(t *testing.T) {
			got, err := Open(context.Background(), tc.uri, Options{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/x.bam", Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedScheme), "got %v", err)

	for _, uri := range []string{"s3://bucket", "s3:///key"} {
		_, err := Open(context.Background(), uri, Options{S3: &fakeS3{}})
		assert.True(t, errors.Is(err, ErrInvalidS3Path), "%s: got %v", uri, err)
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "gs://bucket/dir/x.bam", Join("gs://bucket/dir/", "x.bam"))
	assert.Equal(t, "/data/x.bam", Join("/data", "/x.bam"))
	assert.Equal(t, "x.bam", Join("", "x.bam"))
}

type countingObject struct {
	Object
	reads int
}

func (c *countingObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	c.reads++
	return c.Object.NewRangeReader(ctx, offset, length)
}

func TestCache(t *testing.T) {
	data := randomData(1000)
	registry := prometheus.NewRegistry()
	cache, err := NewCache(4, 128, registry)
	require.NoError(t, err)

	backing := &countingObject{Object: Bytes(data)}
	object := cache.Wrap("data", "bam", backing)
	checkReaderAt(t, object, data)
	first := backing.reads

	checkReaderAt(t, object, data)
	assert.Equal(t, first, backing.reads, "second pass should be served from the cache")
	assert.Greater(t, testutil.ToFloat64(cache.hits.WithLabelValues("bam")), 0.0)
	assert.Equal(t, float64(first), testutil.ToFloat64(cache.misses.WithLabelValues("bam")))

	// Reads spanning pages are stitched together.
	rc, err := object.NewRangeReader(context.Background(), 100, 500)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data[100:600], got)
}

func TestCacheEviction(t *testing.T) {
	data := randomData(1024)
	cache, err := NewCache(1, 256, nil)
	require.NoError(t, err)

	backing := &countingObject{Object: Bytes(data)}
	object := cache.Wrap("data", "vcf", backing)
	for _, offset := range []int64{0, 512, 0} {
		rc, err := object.NewRangeReader(context.Background(), offset, 10)
		require.NoError(t, err)
		rc.Close()
	}
	assert.Equal(t, 3, backing.reads)
}

func TestLimit(t *testing.T) {
	data := randomData(300)
	assert.Equal(t, Object(Bytes(data)), Limit(Bytes(data), nil))
	assert.Nil(t, NewBandwidthLimit(0))

	object := Limit(Bytes(data), NewBandwidthLimit(1<<20))
	checkReaderAt(t, object, data)
}

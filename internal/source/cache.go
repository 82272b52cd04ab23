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
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultPageSize is the granularity at which a Cache stores object data.
const DefaultPageSize = 1 << 20

// Cache keeps recently read pages of objects in memory.  Index files and the
// leading header blocks of data files are read by every request for the same
// file, so a small cache removes most repeated range requests.
type Cache struct {
	pages    *lru.Cache[string, []byte]
	pageSize int64

	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	fetched prometheus.Counter
}

// NewCache returns a cache holding up to pages pages of pageSize bytes.
// Metrics are registered with registerer, or a private registry if it is nil.
func NewCache(pages int, pageSize int64, registerer prometheus.Registerer) (*Cache, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	l, err := lru.New[string, []byte](pages)
	if err != nil {
		return nil, err
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Cache{
		pages:    l,
		pageSize: pageSize,
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htsslice_cache_hits_total",
				Help: "Number of page lookups served from the cache.",
			},
			[]string{"kind"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htsslice_cache_misses_total",
				Help: "Number of page lookups that required a fetch.",
			},
			[]string{"kind"},
		),
		fetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "htsslice_cache_fetched_bytes_total",
			Help: "Number of bytes fetched from sources to fill the cache.",
		}),
	}, nil
}

// Wrap returns an Object that reads object through the cache.  The name
// identifies the object in the cache and kind labels its metrics.
func (c *Cache) Wrap(name, kind string, object Object) Object {
	return &cachedObject{cache: c, name: name, kind: kind, object: object}
}

type cachedObject struct {
	cache        *Cache
	name, kind   string
	object       Object
	mu           sync.Mutex
	size         int64
	sizeResolved bool
}

func (o *cachedObject) Size(ctx context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sizeResolved {
		return o.size, nil
	}
	size, err := o.object.Size(ctx)
	if err != nil {
		return 0, err
	}
	o.size, o.sizeResolved = size, true
	return size, nil
}

func (o *cachedObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	size, err := o.Size(ctx)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	end := size
	if length >= 0 && offset+length < size {
		end = offset + length
	}
	if end == offset {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	ps := o.cache.pageSize
	var buffer bytes.Buffer
	for page := offset / ps; page*ps < end; page++ {
		data, err := o.page(ctx, page, size)
		if err != nil {
			return nil, err
		}
		lo, hi := int64(0), int64(len(data))
		if page*ps < offset {
			lo = offset - page*ps
		}
		if page*ps+hi > end {
			hi = end - page*ps
		}
		buffer.Write(data[lo:hi])
	}
	return io.NopCloser(&buffer), nil
}

func (o *cachedObject) page(ctx context.Context, page, size int64) ([]byte, error) {
	key := fmt.Sprintf("%s#%d", o.name, page)
	if data, ok := o.cache.pages.Get(key); ok {
		o.cache.hits.WithLabelValues(o.kind).Inc()
		return data, nil
	}
	start := page * o.cache.pageSize
	length := o.cache.pageSize
	if start+length > size {
		length = size - start
	}
	rc, err := o.object.NewRangeReader(ctx, start, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data := make([]byte, length)
	if _, err := io.ReadFull(rc, data); err != nil {
		return nil, fmt.Errorf("filling page %d of %s: %v", page, o.name, err)
	}
	o.cache.pages.Add(key, data)
	o.cache.misses.WithLabelValues(o.kind).Inc()
	o.cache.fetched.Add(float64(length))
	return data, nil
}

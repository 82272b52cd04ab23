// Copyright 2017 Google Inc.
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

// Package analytics records events about the requests handled by the
// slicing server and exports them as metrics.
package analytics

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Hit represents a single analytics event (called a 'hit').
type Hit map[string]string

// Event generates a new event typed hit.  The label may be empty and the
// value may be nil but category and action are required.
func Event(category, action, label string, value *int64) Hit {
	hit := Hit{
		"t":  "event",
		"ec": category,
		"ea": action,
	}
	if label != "" {
		hit["el"] = label
	}
	if value != nil {
		hit["ev"] = strconv.FormatInt(*value, 10)
	}
	return hit
}

// Recorder turns hits into prometheus counters.
type Recorder struct {
	events *prometheus.CounterVec
	values *prometheus.CounterVec
	logger *zap.Logger
}

// NewRecorder returns a Recorder whose metrics are registered with registerer,
// or with a private registry if it is nil.
func NewRecorder(registerer prometheus.Registerer, logger *zap.Logger) *Recorder {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)
	return &Recorder{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htsslice_events_total",
				Help: "Number of events recorded while handling requests.",
			},
			[]string{"category", "action"},
		),
		values: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "htsslice_event_values_total",
				Help: "Sum of the values attached to events.",
			},
			[]string{"category", "action"},
		),
		logger: logger,
	}
}

// Record counts every hit.
func (r *Recorder) Record(hits []Hit) {
	for _, hit := range hits {
		category, action := hit["ec"], hit["ea"]
		r.events.WithLabelValues(category, action).Inc()
		if v, ok := hit["ev"]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				r.logger.Debug("Dropping invalid event value", zap.String("value", v))
				continue
			}
			r.values.WithLabelValues(category, action).Add(float64(n))
		}
	}
}

type contextKey int

var (
	hitsKey = contextKey(1)
)

// TrackingHandler returns gin middleware that prepares the request context
// for use with TrackerFromContext.  When the rest of the chain completes,
// track is invoked with any hits accumulated during the request.
func TrackingHandler(track func([]Hit)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var hits []Hit
		ctx := context.WithValue(c.Request.Context(), hitsKey, &hits)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		track(hits)
	}
}

// TrackerFromContext is intended to be used with contexts that are prepared
// by TrackingHandler.  It returns a function that buffers hits to be
// delivered to the track function given to TrackingHandler.
func TrackerFromContext(ctx context.Context) func(Hit) {
	if hits, ok := ctx.Value(hitsKey).(*[]Hit); ok {
		return func(hit Hit) { *hits = append(*hits, hit) }
	}
	return func(Hit) {}
}

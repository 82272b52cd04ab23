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

// Package api implements an HTTP service that slices indexed BAM and VCF
// files.
//
// GET /reads/{id} describes the byte ranges of a slice in a response shaped
// like the htsget protocol (http://samtools.github.io/hts-specs/htsget.html),
// pointing at GET /slice/{id}, which streams the slice itself.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/googlegenomics/htsslice/internal/analytics"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/googlegenomics/htsslice/internal/source"
	"github.com/juju/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	readsPath   = "/reads/"
	slicePath   = "/slice/"
	metricsPath = "/metrics"

	requestIDHeader = "X-Request-Id"
	requestIDKey    = "requestID"
)

// Options configures a Server.
type Options struct {
	// Root is the location that request ids are resolved against.  It may be
	// a local directory or any URI accepted by source.Open.
	Root string
	// Slicer performs the slicing.  A default Slicer is used if nil.
	Slicer *slicer.Slicer
	Logger *zap.Logger
	// NewGCSClient is called on each request that reads from Google Cloud
	// Storage.  Defaults to source.NewDefaultClient.
	NewGCSClient source.GCSClientFactory
	// Source holds the clients used for other schemes.
	Source source.Options
	// MaxWindow bounds the fetch windows reported by the reads endpoint.
	MaxWindow int64
	// Cache, if set, keeps recently read pages of every source.
	Cache *source.Cache
	// RateLimit, if set, bounds the bandwidth used to read sources.
	RateLimit *ratelimit.Bucket
	// Registry receives the server metrics and is exported on /metrics.  A
	// private registry is used if nil.
	Registry *prometheus.Registry
}

// Server provides the slicing service.  Must be created with NewServer.
type Server struct {
	root         string
	slicer       *slicer.Slicer
	logger       *zap.Logger
	newGCSClient source.GCSClientFactory
	sources      source.Options
	maxWindow    int64
	cache        *source.Cache
	rateLimit    *ratelimit.Bucket
	registry     *prometheus.Registry
	recorder     *analytics.Recorder
	requests     *prometheus.CounterVec
	sent         prometheus.Counter
	whitelist    map[string]bool
}

// NewServer returns a new Server configured by opts.
func NewServer(opts Options) *Server {
	server := &Server{
		root:         opts.Root,
		slicer:       opts.Slicer,
		logger:       opts.Logger,
		newGCSClient: opts.NewGCSClient,
		sources:      opts.Source,
		maxWindow:    opts.MaxWindow,
		cache:        opts.Cache,
		rateLimit:    opts.RateLimit,
		registry:     opts.Registry,
		whitelist:    make(map[string]bool),
	}
	if server.logger == nil {
		server.logger = zap.NewNop()
	}
	if server.slicer == nil {
		server.slicer = slicer.New(slicer.Options{Logger: server.logger})
	}
	if server.maxWindow <= 0 {
		server.maxWindow = fetch.DefaultWindowSize
	}
	if server.newGCSClient == nil {
		server.newGCSClient = source.NewDefaultClient
	}
	if server.registry == nil {
		server.registry = prometheus.NewRegistry()
	}

	factory := promauto.With(server.registry)
	server.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "htsslice_http_requests_total",
		Help: "Number of HTTP requests handled, by route and status code.",
	}, []string{"route", "code"})
	server.sent = factory.NewCounter(prometheus.CounterOpts{
		Name: "htsslice_http_sent_bytes_total",
		Help: "Number of sliced bytes sent to clients.",
	})
	server.recorder = analytics.NewRecorder(server.registry, server.logger)
	return server
}

// Whitelist adds buckets to the set of buckets which the server is allowed to
// access. If Whitelist is never called for a given Server then reads from any
// bucket are allowed.
func (server *Server) Whitelist(buckets []string) {
	for _, bucket := range buckets {
		server.whitelist[bucket] = true
	}
}

// Handler returns the routes of the service.
func (server *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestID, forwardOrigin, server.logRequests)
	router.Use(analytics.TrackingHandler(server.recorder.Record))

	router.GET(readsPath+"*id", server.serveReads)
	router.GET(slicePath+"*id", server.serveSlice)
	router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(server.registry, promhttp.HandlerOpts{})))
	return router
}

func (server *Server) checkWhitelist(bucket string) error {
	if len(server.whitelist) == 0 || server.whitelist[bucket] {
		return nil
	}
	return fmt.Errorf("access to bucket %s is not allowed", bucket)
}

// requestID tags every request with an id, reusing the one sent by the
// client if present.
func requestID(c *gin.Context) {
	id := c.Request.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)
	c.Next()
}

func forwardOrigin(c *gin.Context) {
	if origin := c.Request.Header.Get("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
	}
	c.Next()
}

func (server *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	route := "other"
	switch path := c.Request.URL.Path; {
	case strings.HasPrefix(path, readsPath):
		route = "reads"
	case strings.HasPrefix(path, slicePath):
		route = "slice"
	case path == metricsPath:
		route = "metrics"
	}
	server.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()

	id, _ := c.Get(requestIDKey)
	server.logger.Info("Handled request",
		zap.Any("id", id),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Int("size", c.Writer.Size()),
		zap.Duration("elapsed", time.Since(start)))
}

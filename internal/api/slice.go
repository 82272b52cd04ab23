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

package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/htsslice/internal/analytics"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"go.uber.org/zap"
)

const (
	partData   = ""
	partHeader = "header"
	partIndex  = "index"
)

// serveSlice streams the slice described by the request.  The part
// parameter selects the header only, or for BAM files the index of the
// slice, instead of the slice itself.
func (server *Server) serveSlice(c *gin.Context) {
	track := analytics.TrackerFromContext(c.Request.Context())
	track(analytics.Event("Slice", "Slice Request Received", "", nil))

	req, err := server.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	part := c.Query("part")
	switch {
	case part == partIndex && req.format != formatBAM:
		writeError(c, newInvalidInputError("parsing part", fmt.Errorf("no index is produced for %s slices", req.format)))
		return
	case part != partData && part != partHeader && part != partIndex:
		writeError(c, newInvalidInputError("parsing part", fmt.Errorf("unknown part %q", part)))
		return
	}
	opts, err := parseTabixOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}

	data, idx, err := server.bind(c, req)
	if err != nil {
		writeError(c, err)
		return
	}

	w := &responseWriter{c: c}
	ctx := c.Request.Context()
	var result *slicer.Result
	switch {
	case part == partHeader:
		var n int64
		n, err = server.slicer.Header(ctx, data, idx, w, opts.KeepOpen)
		result = &slicer.Result{Written: n}
	case part == partIndex:
		result, err = server.slicer.BAMIndex(ctx, data, idx, req.regions)
		if err == nil {
			var buf bytes.Buffer
			if err = index.WriteBAI(&buf, result.Index); err == nil {
				_, err = w.Write(buf.Bytes())
			}
		}
	case req.format == formatBAM:
		result, err = server.slicer.BAM(ctx, data, idx, req.regions, w)
	default:
		result, err = server.slicer.Tabix(ctx, data, idx, req.regions, w, opts)
	}
	if errors.Is(err, slicer.ErrNoData) && part == partData && w.written == 0 {
		server.logger.Info("Index holds no data, sending the whole file", zap.String("id", req.id))
		var n int64
		n, err = fetch.Copy(ctx, data, wholeFile(data), w, 1)
		result = &slicer.Result{Written: n}
	}
	if err != nil {
		track(analytics.Event("Slice", "Slice Internal Error", "", nil))
		if w.written > 0 {
			// The status has been sent; the client sees a truncated stream.
			server.logger.Error("Failed to write slice", zap.String("id", req.id), zap.Int64("written", w.written), zap.Error(err))
			c.Abort()
			return
		}
		writeError(c, newSourceError("slicing", err))
		return
	}
	if w.written == 0 {
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}

	for _, skipped := range result.Skipped {
		server.logger.Debug("Region produced no data", zap.String("id", req.id), zap.Error(skipped))
	}
	server.sent.Add(float64(w.written))
	track(analytics.Event("Slice", "Slice Bytes Sent", req.format, &w.written))
}

func parseTabixOptions(c *gin.Context) (slicer.TabixOptions, error) {
	var opts slicer.TabixOptions
	if v := c.Query("header"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return opts, newInvalidInputError("parsing header", err)
		}
		opts.OmitHeader = !include
	}
	if v := c.Query("keepOpen"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return opts, newInvalidInputError("parsing keepOpen", err)
		}
		opts.KeepOpen = keep
	}
	return opts, nil
}

// responseWriter delays the response headers until the first byte of the
// slice is ready, so that errors found before then are still reported with
// a proper status.
type responseWriter struct {
	c       *gin.Context
	written int64
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.written == 0 && len(p) > 0 {
		w.c.Header("Content-Type", "application/octet-stream")
		w.c.Status(http.StatusOK)
	}
	n, err := w.c.Writer.Write(p)
	w.written += int64(n)
	return n, err
}

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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/htsslice/internal/analytics"
	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/googlegenomics/htsslice/internal/source"
)

type readsResponse struct {
	Htsget readsBody `json:"htsget"`
}

type readsBody struct {
	Format     string        `json:"format"`
	URLs       []readsURL    `json:"urls"`
	// References names the references kept in a BAM slice.
	References []string      `json:"references,omitempty"`
	Chunks     []readsChunk  `json:"chunks,omitempty"`
	Windows    []readsWindow `json:"windows"`
	// Bytes is the amount of compressed data covered by Windows.
	Bytes      int64         `json:"bytes"`
	Skipped    []string      `json:"skipped,omitempty"`
}

type readsURL struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// readsChunk holds the virtual addresses of a chunk.
type readsChunk struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// readsWindow is an inclusive range of compressed bytes.
type readsWindow struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

func (server *Server) serveReads(c *gin.Context) {
	track := analytics.TrackerFromContext(c.Request.Context())
	track(analytics.Event("Reads", "Reads Request Received", "", nil))

	req, err := server.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	data, idx, err := server.bind(c, req)
	if err != nil {
		writeError(c, err)
		return
	}

	body, err := server.plan(req, data, idx)
	if err != nil {
		track(analytics.Event("Reads", "Reads Internal Error", "", nil))
		writeError(c, err)
		return
	}

	url := readsURL{URL: baseURL(c.Request) + slicePath + req.id}
	if query := c.Request.URL.RawQuery; query != "" {
		url.URL += "?" + query
	}
	if len(req.headers) > 0 {
		// The htsget protocol does not support multiple values for a single
		// header.
		url.Headers = make(map[string]string)
		for k, v := range req.headers {
			url.Headers[k] = v[0]
		}
	}
	body.URLs = []readsURL{url}

	writeJSON(c, http.StatusOK, readsResponse{body})

	count := int64(len(body.Windows))
	track(analytics.Event("Reads", "Reads Response Window Count", "", &count))
	track(analytics.Event("Reads", "Reads Response Sent", "", nil))
}

// plan resolves the regions of req against idx and describes the data that
// the slice endpoint reads for them.
func (server *Server) plan(req *request, data *source.ReaderAt, idx *index.Index) (readsBody, error) {
	body := readsBody{Format: req.format}

	var (
		ranges  []fetch.Window
		chunks  []*bgzf.Chunk
		skipped []error
	)
	switch req.format {
	case formatBAM:
		plan, err := server.slicer.PlanBAM(data, idx, req.regions)
		if errors.Is(err, slicer.ErrNoData) {
			ranges = wholeFile(data)
			break
		}
		if err != nil {
			return body, newSourceError("planning slice", err)
		}
		ranges, skipped = plan.Ranges(), plan.Skipped
		if !plan.Empty() {
			chunks = append(chunks, &plan.Span)
		}
		body.References = plan.References
	case formatVCF:
		plan, err := server.slicer.PlanTabix(data, idx, req.regions)
		if errors.Is(err, slicer.ErrNoData) {
			ranges = wholeFile(data)
			break
		}
		if err != nil {
			return body, newSourceError("planning slice", err)
		}
		ranges, skipped = plan.Ranges, plan.Skipped
		for i := range plan.Chunks {
			chunks = append(chunks, &plan.Chunks[i])
		}
		chunks = bgzf.Merge(chunks, uint64(server.maxWindow))
	}

	windows := fetch.Plan(ranges, server.maxWindow)
	body.Windows = make([]readsWindow, 0, len(windows))
	for _, w := range windows {
		body.Windows = append(body.Windows, readsWindow{w.Low, w.High})
	}
	body.Bytes = fetch.Total(windows)
	for _, chunk := range chunks {
		body.Chunks = append(body.Chunks, readsChunk{uint64(chunk.Start), uint64(chunk.End)})
	}
	for _, err := range skipped {
		body.Skipped = append(body.Skipped, err.Error())
	}
	return body, nil
}

func wholeFile(data *source.ReaderAt) []fetch.Window {
	if data.Size() == 0 {
		return nil
	}
	return []fetch.Window{{Low: 0, High: data.Size() - 1}}
}

func baseURL(req *http.Request) string {
	if req.Host == "" {
		return ""
	}
	if req.TLS != nil {
		return "https://" + req.Host
	}
	return "http://" + req.Host
}

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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/htsslice/internal/genomics"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/source"
)

const (
	formatBAM = "BAM"
	formatVCF = "VCF"
)

// request holds the parsed parameters shared by the reads and slice
// endpoints.
type request struct {
	id       string
	format   string
	location string
	regions  []genomics.Region
	// headers are the headers that must be sent with follow-up requests for
	// the same data.
	headers http.Header
}

func (server *Server) parseRequest(c *gin.Context) (*request, error) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" || strings.HasSuffix(id, "/") || path.Clean("/" + id)[1:] != id {
		return nil, newInvalidInputError("parsing ID", errInvalidOrUnspecifiedID)
	}

	format, err := parseFormat(c.Query("format"), id)
	if err != nil {
		return nil, newUnsupportedFormatError(err)
	}

	regions, err := server.parseRegions(c.Request.URL.Query())
	if err != nil {
		return nil, err
	}

	location := source.Join(server.root, id)
	if err := server.checkWhitelist(bucketOf(location)); err != nil {
		return nil, newPermissionDeniedError("checking whitelist", err)
	}
	return &request{id: id, format: format, location: location, regions: regions}, nil
}

// parseFormat returns the requested format, inferring it from the name of
// the file when it is not given.
func parseFormat(format, id string) (string, error) {
	switch format {
	case formatBAM, formatVCF:
		return format, nil
	case "":
		switch {
		case strings.HasSuffix(id, ".bam"):
			return formatBAM, nil
		case strings.HasSuffix(id, ".vcf.gz"), strings.HasSuffix(id, ".vcf.bgz"):
			return formatVCF, nil
		}
		return formatBAM, nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

// parseRegions reads either a single region from the referenceName, start
// and end parameters (zero-based, half-open) or a list of one-based regions
// from the regions parameter.
func (server *Server) parseRegions(query url.Values) ([]genomics.Region, error) {
	if list, ok := query["regions"]; ok {
		var regions []genomics.Region
		for _, entry := range list {
			regions = append(regions, genomics.ParseRegions(entry, server.logger)...)
		}
		if len(regions) == 0 {
			return nil, newInvalidInputError("parsing regions", genomics.ErrInvalidRegion)
		}
		return regions, nil
	}

	var (
		name  = query.Get("referenceName")
		start = query.Get("start")
		end   = query.Get("end")
	)
	if name == "" && start == "" && end == "" {
		return []genomics.Region{genomics.AllMappedReads}, nil
	}
	if name == "" {
		return nil, newInvalidInputError("parsing region", errMissingReferenceName)
	}

	region := genomics.Region{ReferenceName: name, ReferenceID: -1}
	if start != "" {
		n, err := strconv.ParseUint(start, 10, 32)
		if err != nil {
			return nil, newInvalidInputError("parsing start", err)
		}
		region.Start = uint32(n)
	}
	if end != "" {
		n, err := strconv.ParseUint(end, 10, 32)
		if err != nil {
			return nil, newInvalidInputError("parsing end", err)
		}
		region.End = uint32(n)
	}
	if region.End > 0 && region.Start > region.End {
		return nil, newInvalidRangeError(fmt.Errorf("%s: start > end", region))
	}
	return []genomics.Region{region}, nil
}

// bucketOf returns the bucket named by a gs:// or s3:// location, or the
// empty string for other locations.
func bucketOf(location string) string {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "gs" && u.Scheme != "s3") {
		return ""
	}
	return u.Host
}

// open returns a reader for location.  Reads go through the server's cache
// and bandwidth limit, and are bound to ctx.
func (server *Server) open(c *gin.Context, req *request, location, kind string) (*source.ReaderAt, error) {
	opts := server.sources
	if u, err := url.Parse(location); err == nil && u.Scheme == "gs" {
		client, headers, err := server.newGCSClient(c.Request)
		if err != nil {
			return nil, newSourceError("creating storage client", err)
		}
		opts.GCS = client
		req.headers = headers
	}

	ctx := c.Request.Context()
	object, err := source.Open(ctx, location, opts)
	if err != nil {
		return nil, newSourceError("opening "+kind, err)
	}
	if server.cache != nil {
		object = server.cache.Wrap(location, kind, object)
	}
	object = source.Limit(object, server.rateLimit)

	ra, err := source.NewReaderAt(ctx, object)
	if err != nil {
		return nil, newSourceError("opening "+kind, err)
	}
	return ra, nil
}

// indexLocations returns the places an index for req may be found, in the
// order they are tried.
func indexLocations(req *request) []string {
	if req.format == formatVCF {
		return []string{req.location + ".tbi"}
	}
	locations := []string{req.location + ".bai"}
	if trimmed := strings.TrimSuffix(req.location, ".bam"); trimmed != req.location {
		locations = append(locations, trimmed+".bai")
	}
	return locations
}

func (server *Server) openIndex(c *gin.Context, req *request) (*index.Index, error) {
	for _, location := range indexLocations(req) {
		ra, err := server.open(c, req, location, "index")
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.code == http.StatusNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		idx, err := index.Read(io.NewSectionReader(ra, 0, ra.Size()))
		if err != nil {
			return nil, newSourceError("reading index", err)
		}
		return idx, nil
	}
	return nil, newNotFoundError("opening index", errNoIndex)
}

// bind opens the data and index of req.
func (server *Server) bind(c *gin.Context, req *request) (*source.ReaderAt, *index.Index, error) {
	data, err := server.open(c, req, req.location, "data")
	if err != nil {
		return nil, nil, err
	}
	idx, err := server.openIndex(c, req)
	if err != nil {
		return nil, nil, err
	}
	return data, idx, nil
}

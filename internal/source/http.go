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
	"net/http"
)

// HTTP is an Object served by an HTTP server that honours range requests.
type HTTP struct {
	Client *http.Client
	URL    string
	// Header is added to every request, for example to forward credentials.
	Header http.Header
}

// NewRangeReader implements Object.
func (h *HTTP) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	req, err := h.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %v", h.URL, err)
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && offset == 0:
		// The server ignored the range but the prefix is still correct.
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("requesting %s: server does not support range requests", h.URL)
	default:
		resp.Body.Close()
		return nil, statusError(h.URL, resp)
	}
	if length < 0 {
		return resp.Body, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, length), resp.Body}, nil
}

// Size implements Object.
func (h *HTTP) Size(ctx context.Context) (int64, error) {
	req, err := h.newRequest(ctx, http.MethodHead)
	if err != nil {
		return 0, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting %s: %v", h.URL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(h.URL, resp)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("requesting %s: unknown content length", h.URL)
	}
	return resp.ContentLength, nil
}

func (h *HTTP) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %v", err)
	}
	for key, values := range h.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func statusError(url string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("requesting %s: %s: %w", url, resp.Status, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("requesting %s: %s: %w", url, resp.Status, ErrPermissionDenied)
	}
	return fmt.Errorf("requesting %s: %s", url, resp.Status)
}

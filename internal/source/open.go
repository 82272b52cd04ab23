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
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Options configures the clients used by Open.  Unset clients are created on
// demand with default credentials.
type Options struct {
	HTTPClient *http.Client
	// Header is added to HTTP requests.
	Header http.Header
	GCS    *storage.Client
	S3     s3iface.S3API
}

// Open returns the Object named by uri.  Supported forms are local paths,
// file://, http://, https://, gs://bucket/object and s3://bucket/key.
func Open(ctx context.Context, uri string, opts Options) (Object, error) {
	if !strings.Contains(uri, "://") {
		return File(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %v", uri, err)
	}
	switch u.Scheme {
	case "file":
		return File(u.Path), nil
	case "http", "https":
		return &HTTP{Client: opts.HTTPClient, URL: uri, Header: opts.Header}, nil
	case "gs":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return nil, fmt.Errorf("invalid GCS location %q", uri)
		}
		client := opts.GCS
		if client == nil {
			if client, _, err = NewDefaultClient(nil); err != nil {
				return nil, err
			}
		}
		return NewGCS(client, u.Host, object), nil
	case "s3":
		bucket, key, err := parseS3Path(uri)
		if err != nil {
			return nil, err
		}
		client := opts.S3
		if client == nil {
			client = NewS3Client(nil)
		}
		return &S3{Client: client, Bucket: bucket, Key: key}, nil
	}
	return nil, fmt.Errorf("opening %q: %w", uri, ErrUnsupportedScheme)
}

// Join appends name to the location root, which may be a local directory or
// any URI accepted by Open.
func Join(root, name string) string {
	if root == "" {
		return name
	}
	return strings.TrimSuffix(root, "/") + "/" + strings.TrimPrefix(name, "/")
}

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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrMissingOrInvalidToken is returned when a request does not carry a usable
// OAuth2 bearer token.
var ErrMissingOrInvalidToken = errors.New("missing or invalid bearer token")

// GCS is an Object stored in Google Cloud Storage.
type GCS struct {
	*storage.ObjectHandle
}

// NewGCS returns the object named by bucket and object using client.
func NewGCS(client *storage.Client, bucket, object string) *GCS {
	return &GCS{client.Bucket(bucket).Object(object)}
}

// NewRangeReader implements Object.
func (h *GCS) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	r, err := h.ObjectHandle.NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, storageError(err)
	}
	return r, nil
}

// Size implements Object.
func (h *GCS) Size(ctx context.Context) (int64, error) {
	attrs, err := h.Attrs(ctx)
	if err != nil {
		return 0, storageError(err)
	}
	return attrs.Size, nil
}

// A GCSClientFactory creates a storage client for an incoming request.  The
// returned header is forwarded on any follow-up requests the client makes.
type GCSClientFactory func(req *http.Request) (*storage.Client, http.Header, error)

var (
	defaultStorageClient           *storage.Client
	defaultStorageClientErr        error
	initializeDefaultStorageClient sync.Once
)

func newClientWithOptions(opts ...option.ClientOption) (*storage.Client, http.Header, error) {
	initializeDefaultStorageClient.Do(func() {
		defaultStorageClient, defaultStorageClientErr = storage.NewClient(context.Background(), opts...)
	})
	if defaultStorageClientErr != nil {
		return nil, nil, fmt.Errorf("creating default storage client: %v", defaultStorageClientErr)
	}
	return defaultStorageClient, nil, nil
}

// NewDefaultClient returns a storage client that uses the application default
// credentials.  It caches the storage client for efficiency.
func NewDefaultClient(_ *http.Request) (*storage.Client, http.Header, error) {
	return newClientWithOptions()
}

// NewPublicClient returns a storage client that does not use any form of
// client authorization.  It can only be used to read publicly-readable
// objects.  It caches the storage client for efficiency.
func NewPublicClient(_ *http.Request) (*storage.Client, http.Header, error) {
	return newClientWithOptions(option.WithHTTPClient(http.DefaultClient))
}

// NewClientFromBearerToken constructs a storage client that uses the OAuth2
// bearer token found in req to make storage requests.  It returns the
// authorization header containing the bearer token as well.
func NewClientFromBearerToken(req *http.Request) (*storage.Client, http.Header, error) {
	authorization, err := bearerToken(req)
	if err != nil {
		return nil, nil, err
	}
	fields := strings.Fields(authorization)
	token := oauth2.Token{
		TokenType:   fields[0],
		AccessToken: fields[1],
	}
	client, err := storage.NewClient(req.Context(), option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, nil, fmt.Errorf("creating client with token source: %v", err)
	}
	return client, http.Header{"Authorization": []string{authorization}}, nil
}

func bearerToken(req *http.Request) (string, error) {
	authorization := req.Header.Get("Authorization")
	fields := strings.Fields(authorization)
	if len(fields) != 2 || fields[0] != "Bearer" {
		return "", ErrMissingOrInvalidToken
	}
	return authorization, nil
}

func storageError(err error) error {
	if err == storage.ErrObjectNotExist || err == storage.ErrBucketNotExist {
		return fmt.Errorf("%v: %w", err, ErrNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%v: %w", err, ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%v: %w", err, ErrPermissionDenied)
		}
	}
	return err
}

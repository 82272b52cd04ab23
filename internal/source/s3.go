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
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrInvalidS3Path is returned for URIs that do not name an S3 object.
var ErrInvalidS3Path = errors.New("path is not a valid s3 location")

// S3 is an Object stored in Amazon S3.
type S3 struct {
	Client s3iface.S3API
	Bucket string
	Key    string
}

// NewS3Client returns an S3 client built from cfg and the shared AWS
// configuration of the environment.
func NewS3Client(cfg *aws.Config) s3iface.S3API {
	if cfg == nil {
		cfg = aws.NewConfig()
	}
	return s3.New(session.Must(session.NewSession(cfg)))
}

// NewRangeReader implements Object.
func (o *S3) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-", offset)
	if length >= 0 {
		if length == 0 {
			return io.NopCloser(strings.NewReader("")), nil
		}
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	out, err := o.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	return out.Body, nil
}

// Size implements Object.
func (o *S3) Size(ctx context.Context) (int64, error) {
	out, err := o.Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
	})
	if err != nil {
		return 0, s3Error(err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func parseS3Path(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return "", "", fmt.Errorf("%s: %w", path, ErrInvalidS3Path)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func s3Error(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("%v: %w", err, ErrNotFound)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%v: %w", err, ErrPermissionDenied)
		}
	}
	return err
}

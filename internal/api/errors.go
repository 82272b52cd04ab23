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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/googlegenomics/htsslice/internal/source"
)

var (
	errInvalidOrUnspecifiedID = errors.New("invalid or unspecified ID")
	errMissingReferenceName   = errors.New("no reference name specified")
	errNoIndex                = errors.New("no index found")
)

// apiError is used to capture errors that have been defined in the API.
type apiError struct {
	name  string
	code  int
	cause error
}

func (err *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %v", err.name, err.code, err.cause)
}

func (err *apiError) Unwrap() error {
	return err.cause
}

func newAPIError(name string, code int, context string, err error) error {
	return &apiError{name, code, fmt.Errorf("%s: %w", context, err)}
}

func newInvalidAuthenticationError(context string, err error) error {
	return newAPIError("InvalidAuthentication", http.StatusUnauthorized, context, err)
}

func newInvalidInputError(context string, err error) error {
	return newAPIError("InvalidInput", http.StatusBadRequest, context, err)
}

func newInvalidRangeError(err error) error {
	return &apiError{"InvalidRange", http.StatusBadRequest, err}
}

func newPermissionDeniedError(context string, err error) error {
	return newAPIError("PermissionDenied", http.StatusForbidden, context, err)
}

func newUnsupportedFormatError(err error) error {
	return &apiError{"UnsupportedFormat", http.StatusBadRequest, err}
}

func newNotFoundError(context string, err error) error {
	return newAPIError("NotFound", http.StatusNotFound, context, err)
}

// newSourceError converts errors from opening or reading a source into the
// matching API error.  Unknown errors are returned unchanged.
func newSourceError(context string, err error) error {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return newNotFoundError(context, err)
	case errors.Is(err, source.ErrPermissionDenied):
		return newPermissionDeniedError(context, err)
	case errors.Is(err, source.ErrMissingOrInvalidToken):
		return newInvalidAuthenticationError(context, err)
	case errors.Is(err, source.ErrUnsupportedScheme), errors.Is(err, source.ErrInvalidS3Path):
		return newInvalidInputError(context, err)
	case errors.Is(err, index.ErrInvalidIndexFormat):
		return newInvalidInputError(context, err)
	case errors.Is(err, slicer.ErrNoData):
		return newNotFoundError(context, err)
	}
	return fmt.Errorf("%s: %w", context, err)
}

// writeError writes either a JSON object or bare HTTP error describing err.
// A JSON object is written only when the error has a name and code defined by
// the htsget protocol.
func writeError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeJSON(c, apiErr.code, gin.H{
			"error":   apiErr.name,
			"message": fmt.Sprintf("%s: %v", http.StatusText(apiErr.code), apiErr.cause),
		})
		return
	}
	code := http.StatusInternalServerError
	c.String(code, "%s: %v\n", http.StatusText(code), err)
}

func writeJSON(c *gin.Context, code int, v interface{}) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	enc := json.NewEncoder(c.Writer)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

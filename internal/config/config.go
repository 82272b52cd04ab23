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

// Package config holds the tunables shared by the htsslice commands and
// server.  Values are read from an optional YAML file; command line flags
// override individual settings.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/googlegenomics/htsslice/internal/bgzf"
	"github.com/googlegenomics/htsslice/internal/fetch"
	"gopkg.in/yaml.v3"
)

// Config controls how sources are read and how output is written.
type Config struct {
	// FetchSize is the number of compressed bytes requested at a time when
	// scanning blocks.
	FetchSize int `yaml:"fetch_size"`
	// MaxWindow bounds the size of a single raw copy request.
	MaxWindow int64 `yaml:"max_window"`
	// Parallelism is the number of raw copy windows fetched concurrently.
	Parallelism int `yaml:"parallelism"`
	// CachePages is the number of source pages kept in memory (0 disables
	// the cache).
	CachePages int `yaml:"cache_pages"`
	// CachePageSize is the size in bytes of a cached page.
	CachePageSize int64 `yaml:"cache_page_size"`
	// RateLimit caps the download rate in bytes per second (0 is unlimited).
	RateLimit int64 `yaml:"rate_limit"`
	// CompressionLevel is the deflate level used for re-encoded blocks.
	CompressionLevel int `yaml:"compression_level"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Server Server `yaml:"server"`
}

// Server configures the HTTP slicing service.
type Server struct {
	Port int `yaml:"port"`
	// Root is the location that request ids are resolved against.
	Root string `yaml:"root"`
	// Buckets, if set, restricts reads to the named GCS or S3 buckets.
	Buckets []string `yaml:"buckets"`
	// Secure forwards client bearer tokens to Google Cloud Storage.
	Secure bool `yaml:"secure"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		FetchSize:        bgzf.DefaultFetchSize,
		MaxWindow:        fetch.DefaultWindowSize,
		Parallelism:      4,
		CachePages:       64,
		CachePageSize:    1 << 20,
		CompressionLevel: bgzf.DefaultCompression,
		LogLevel:         "info",
		Server: Server{
			Port: 8080,
		},
	}
}

// Load reads the YAML file at path over the defaults.  An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config: %v", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks that every value is usable.
func (c Config) Validate() error {
	switch {
	case c.FetchSize <= 0:
		return errors.New("fetch_size must be greater than zero")
	case c.MaxWindow < bgzf.MaximumBlockSize:
		return fmt.Errorf("max_window must be at least %d", bgzf.MaximumBlockSize)
	case c.Parallelism <= 0:
		return errors.New("parallelism must be greater than zero")
	case c.CachePages < 0:
		return errors.New("cache_pages must not be negative")
	case c.CachePages > 0 && c.CachePageSize <= 0:
		return errors.New("cache_page_size must be greater than zero")
	case c.RateLimit < 0:
		return errors.New("rate_limit must not be negative")
	case c.CompressionLevel < -2 || c.CompressionLevel > 9:
		return fmt.Errorf("compression_level %d out of range", c.CompressionLevel)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/googlegenomics/htsslice/internal/fetch"
	"github.com/googlegenomics/htsslice/internal/genomics"
	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/googlegenomics/htsslice/internal/source"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// sliceFlags are accepted by every command that reads a single file.
func sliceFlags(indexUsage string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "index",
			Aliases: []string{"i"},
			Usage:   indexUsage,
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "output file, or - for standard output",
		},
		&cli.IntFlag{
			Name:  "parallelism",
			Usage: "number of ranges downloaded at once (overrides the configuration)",
		},
		&cli.Int64Flag{
			Name:  "rate-limit",
			Usage: "maximum download rate in bytes per second (overrides the configuration)",
		},
		&cli.IntFlag{
			Name:  "cache-pages",
			Usage: "number of source pages kept in memory (overrides the configuration)",
		},
	}
}

func regionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "region",
			Aliases: []string{"r"},
			Usage:   "region to extract as name, name:pos or name:start-end (one-based, repeatable)",
		},
		&cli.StringFlag{
			Name:  "regions-file",
			Usage: "file with one region per line",
		},
	}
}

// job is a single file slice in progress.
type job struct {
	env    *environment
	slicer *slicer.Slicer
	data   *source.ReaderAt
	index  *index.Index
}

// newJob opens the data file named by the first argument and its index.  If
// no index is given, the locations returned by indexes are tried in order.
func (env *environment) newJob(c *cli.Context, indexes func(string) []string) (*job, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected one source, got %d", c.NArg())
	}
	cfg := env.cfg
	if c.IsSet("parallelism") {
		cfg.Parallelism = c.Int("parallelism")
	}
	if c.IsSet("rate-limit") {
		cfg.RateLimit = c.Int64("rate-limit")
	}
	if c.IsSet("cache-pages") {
		cfg.CachePages = c.Int("cache-pages")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cache *source.Cache
	if cfg.CachePages > 0 {
		var err error
		if cache, err = source.NewCache(cfg.CachePages, cfg.CachePageSize, nil); err != nil {
			return nil, err
		}
	}
	bucket := source.NewBandwidthLimit(cfg.RateLimit)
	open := func(uri, kind string) (*source.ReaderAt, error) {
		object, err := source.Open(c.Context, uri, source.Options{})
		if err != nil {
			return nil, err
		}
		if cache != nil {
			object = cache.Wrap(uri, kind, object)
		}
		ra, err := source.NewReaderAt(c.Context, source.Limit(object, bucket))
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", uri, err)
		}
		return ra, nil
	}

	uri := c.Args().First()
	data, err := open(uri, "data")
	if err != nil {
		return nil, err
	}
	candidates := indexes(uri)
	if c.String("index") != "" {
		candidates = []string{c.String("index")}
	}
	var idx *index.Index
	for _, indexURI := range candidates {
		ra, err := open(indexURI, "index")
		if errors.Is(err, source.ErrNotFound) {
			env.logger.Debug("No index", zap.String("index", indexURI))
			continue
		}
		if err != nil {
			return nil, err
		}
		if idx, err = index.Read(io.NewSectionReader(ra, 0, ra.Size())); err != nil {
			return nil, fmt.Errorf("reading %s: %w", indexURI, err)
		}
		break
	}
	if idx == nil {
		return nil, fmt.Errorf("no index found for %s (tried %s)", uri, strings.Join(candidates, ", "))
	}

	return &job{
		env: env,
		slicer: slicer.New(slicer.Options{
			Logger:           env.logger,
			FetchSize:        cfg.FetchSize,
			MaxWindow:        cfg.MaxWindow,
			Parallelism:      cfg.Parallelism,
			CompressionLevel: cfg.CompressionLevel,
		}),
		data:  data,
		index: idx,
	}, nil
}

// regions returns the regions named on the command line, or every mapped
// record if none are.
func (env *environment) regions(c *cli.Context) ([]genomics.Region, error) {
	var regions []genomics.Region
	for _, list := range c.StringSlice("region") {
		regions = append(regions, genomics.ParseRegions(list, env.logger)...)
	}
	if path := c.String("regions-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		read, err := genomics.ReadRegions(f, env.logger)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %v", path, err)
		}
		regions = append(regions, read...)
	}
	if len(regions) == 0 {
		if len(c.StringSlice("region")) > 0 || c.String("regions-file") != "" {
			return nil, fmt.Errorf("no valid region given: %w", genomics.ErrInvalidRegion)
		}
		return []genomics.Region{genomics.AllMappedReads}, nil
	}
	return regions, nil
}

// copyAll writes the whole source to w.  It is used when the index holds no
// data to slice by.
func (j *job) copyAll(ctx context.Context, w io.Writer) (int64, error) {
	j.env.logger.Warn("Index holds no data, copying the whole file")
	if j.data.Size() == 0 {
		return 0, nil
	}
	return fetch.Copy(ctx, j.data, []fetch.Window{{Low: 0, High: j.data.Size() - 1}}, w, 1)
}

func (j *job) report(result *slicer.Result) {
	j.env.logger.Info("Wrote slice",
		zap.Int64("bytes", result.Written),
		zap.Int("skipped", len(result.Skipped)))
}

// output is a destination file that only replaces its target once it has
// been completely written.
type output struct {
	io.Writer
	file   *os.File
	target string
}

// createOutput opens path for writing.  The data goes to a temporary file
// next to path until Commit is called.  A path of "-" selects standard
// output.
func createOutput(path string) (*output, error) {
	if path == "-" {
		return &output{Writer: os.Stdout}, nil
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return nil, fmt.Errorf("creating output: %v", err)
	}
	return &output{Writer: f, file: f, target: path}, nil
}

// appendOutput opens path for appending, creating it if needed.  Appended
// data is written in place.
func appendOutput(path string) (*output, error) {
	if path == "-" {
		return &output{Writer: os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output: %v", err)
	}
	return &output{Writer: f, file: f}, nil
}

// Commit closes the output and moves it into place.
func (o *output) Commit() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	if o.target != "" {
		if err == nil {
			err = os.Rename(o.file.Name(), o.target)
		}
		if err != nil {
			err = multierr.Append(err, os.Remove(o.file.Name()))
		}
	}
	return err
}

// Abort closes the output and discards anything written to a temporary file.
func (o *output) Abort() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	if o.target != "" {
		err = multierr.Append(err, os.Remove(o.file.Name()))
	}
	return err
}

// finish commits o if err is nil and aborts it otherwise, returning the
// combined error.
func finish(o *output, err error) error {
	if err != nil {
		return multierr.Append(err, o.Abort())
	}
	return o.Commit()
}

func isNoData(err error) bool {
	return errors.Is(err, slicer.ErrNoData)
}

// bamIndexes returns the usual locations of the index of a BAM file.
func bamIndexes(uri string) []string {
	candidates := []string{uri + ".bai"}
	if trimmed := strings.TrimSuffix(uri, ".bam"); trimmed != uri {
		candidates = append(candidates, trimmed+".bai")
	}
	return candidates
}

func tabixIndexes(uri string) []string {
	return []string{uri + ".tbi"}
}

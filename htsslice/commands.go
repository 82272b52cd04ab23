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
	"fmt"

	"github.com/googlegenomics/htsslice/internal/index"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/urfave/cli/v2"
)

func (env *environment) bamCommand() *cli.Command {
	flags := append(sliceFlags("BAI index (default SOURCE.bai, then SOURCE without .bam plus .bai)"), regionFlags()...)
	flags = append(flags, &cli.StringFlag{
		Name:  "index-out",
		Usage: "write the index of the slice to this file",
	})
	return &cli.Command{
		Name:      "bam",
		Usage:     "extract regions from a BAM file",
		ArgsUsage: "SOURCE",
		Flags:     flags,
		Action:    env.sliceBAM,
	}
}

func (env *environment) sliceBAM(c *cli.Context) error {
	j, err := env.newJob(c, bamIndexes)
	if err != nil {
		return err
	}
	regions, err := env.regions(c)
	if err != nil {
		return err
	}

	out, err := createOutput(c.String("out"))
	if err != nil {
		return err
	}
	result, err := j.slicer.BAM(c.Context, j.data, j.index, regions, out)
	if isNoData(err) {
		var n int64
		n, err = j.copyAll(c.Context, out)
		result = &slicer.Result{Written: n}
	}
	if err := finish(out, err); err != nil {
		return err
	}
	j.report(result)

	path := c.String("index-out")
	if path == "" {
		return nil
	}
	if result.Index == nil {
		return fmt.Errorf("no index is available for %s", c.String("out"))
	}
	indexOut, err := createOutput(path)
	if err != nil {
		return err
	}
	return finish(indexOut, index.WriteBAI(indexOut, result.Index))
}

func (env *environment) vcfCommand() *cli.Command {
	flags := append(sliceFlags("tabix index (default SOURCE.tbi)"), regionFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:  "header",
			Usage: "write only the header",
		},
		&cli.BoolFlag{
			Name:  "keep-open",
			Usage: "leave out the EOF marker so that more data can be appended",
		},
		&cli.BoolFlag{
			Name:  "append",
			Usage: "append to the output without a header",
		},
	)
	return &cli.Command{
		Name:      "vcf",
		Usage:     "extract regions from a tabix indexed file",
		ArgsUsage: "SOURCE",
		Flags:     flags,
		Action:    env.sliceVCF,
	}
}

func (env *environment) sliceVCF(c *cli.Context) error {
	if c.Bool("header") && c.Bool("append") {
		return fmt.Errorf("--header and --append cannot be combined")
	}
	if c.Bool("header") {
		return env.writeHeader(c)
	}

	j, err := env.newJob(c, tabixIndexes)
	if err != nil {
		return err
	}
	regions, err := env.regions(c)
	if err != nil {
		return err
	}

	opts := slicer.TabixOptions{OmitHeader: c.Bool("append"), KeepOpen: c.Bool("keep-open")}
	open := createOutput
	if c.Bool("append") {
		open = appendOutput
	}
	out, err := open(c.String("out"))
	if err != nil {
		return err
	}
	result, err := j.slicer.Tabix(c.Context, j.data, j.index, regions, out, opts)
	if isNoData(err) && !c.Bool("append") {
		var n int64
		n, err = j.copyAll(c.Context, out)
		result = &slicer.Result{Written: n}
	}
	if err := finish(out, err); err != nil {
		return err
	}
	j.report(result)
	return nil
}

func (env *environment) headerCommand() *cli.Command {
	return &cli.Command{
		Name:      "header",
		Usage:     "extract the header of an indexed file",
		ArgsUsage: "SOURCE",
		Flags: append(sliceFlags("BAI or tabix index (default SOURCE.tbi)"), &cli.BoolFlag{
			Name:  "keep-open",
			Usage: "leave out the EOF marker so that more data can be appended",
		}),
		Action: env.writeHeader,
	}
}

func (env *environment) writeHeader(c *cli.Context) error {
	j, err := env.newJob(c, tabixIndexes)
	if err != nil {
		return err
	}
	out, err := createOutput(c.String("out"))
	if err != nil {
		return err
	}
	n, err := j.slicer.Header(c.Context, j.data, j.index, out, c.Bool("keep-open"))
	if err := finish(out, err); err != nil {
		return err
	}
	j.report(&slicer.Result{Written: n})
	return nil
}

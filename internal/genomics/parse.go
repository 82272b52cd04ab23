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

package genomics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidRegion is returned when a region string cannot be parsed.
var ErrInvalidRegion = errors.New("invalid region")

// ParseRegion parses a region of the form "name", "name:pos" or
// "name:start-end".  Positions are one-based and inclusive; the returned
// Region is zero-based and half-open.  Reversed bounds are swapped.
func ParseRegion(input string) (Region, error) {
	input = strings.TrimSpace(input)
	name, bounds, hasBounds := strings.Cut(input, ":")
	if name == "" {
		return Region{}, fmt.Errorf("parsing %q: missing reference name: %w", input, ErrInvalidRegion)
	}
	region := Region{ReferenceName: name, ReferenceID: -1}
	if !hasBounds {
		return region, nil
	}

	first, last, isRange := strings.Cut(bounds, "-")
	start, err := parsePosition(first)
	if err != nil {
		return Region{}, fmt.Errorf("parsing %q: %w", input, err)
	}
	end := start
	if isRange {
		if end, err = parsePosition(last); err != nil {
			return Region{}, fmt.Errorf("parsing %q: %w", input, err)
		}
	}
	if end < start {
		start, end = end, start
	}
	region.Start, region.End = start-1, end
	return region, nil
}

func parsePosition(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing position %q: %v: %w", s, err, ErrInvalidRegion)
	}
	if v == 0 {
		return 0, fmt.Errorf("position 0 is not one-based: %w", ErrInvalidRegion)
	}
	return uint32(v), nil
}

// ParseRegions parses a comma-separated list of regions.  Commas always
// separate entries, so positions may not carry thousands separators.  Entries
// that cannot be parsed are skipped with a warning.
func ParseRegions(list string, logger *zap.Logger) []Region {
	var regions []Region
	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		region, err := ParseRegion(entry)
		if err != nil {
			logger.Warn("ignoring region", zap.String("region", entry), zap.Error(err))
			continue
		}
		regions = append(regions, region)
	}
	return regions
}

// ReadRegions parses one region per line from r.  Blank lines and lines
// starting with '#' are ignored and malformed lines are skipped with a
// warning.
func ReadRegions(r io.Reader, logger *zap.Logger) ([]Region, error) {
	var regions []Region
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		region, err := ParseRegion(line)
		if err != nil {
			logger.Warn("ignoring region", zap.String("region", line), zap.Error(err))
			continue
		}
		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading regions: %v", err)
	}
	return regions, nil
}

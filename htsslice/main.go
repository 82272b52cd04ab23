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

// This binary slices indexed BAM and VCF files and serves slices over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/googlegenomics/htsslice/internal/config"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "htsslice: %v\n", err)
		os.Exit(1)
	}
}

// environment holds the state shared by every command.  It is filled in by
// the Before hook of the app.
type environment struct {
	cfg     config.Config
	logger  *zap.Logger
	profile interface{ Stop() }
}

func newApp() *cli.App {
	env := &environment{cfg: config.Default(), logger: zap.NewNop()}
	return &cli.App{
		Name:  "htsslice",
		Usage: "extract regions from indexed BAM and VCF files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"HTSSLICE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of debug, info, warn or error (overrides the configuration)",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "write a cpu, mem or block profile to the current directory",
			},
		},
		Before: env.setup,
		After:  env.teardown,
		Commands: []*cli.Command{
			env.bamCommand(),
			env.vcfCommand(),
			env.headerCommand(),
			env.serveCommand(),
			env.fetchCommand(),
		},
	}
}

func (env *environment) setup(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		env.cfg = cfg
	}
	if c.IsSet("log-level") {
		env.cfg.LogLevel = c.String("log-level")
		if err := env.cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(env.cfg.LogLevel)
	if err != nil {
		return err
	}
	env.logger = logger

	switch mode := c.String("profile"); mode {
	case "":
	case "cpu":
		env.profile = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
	case "mem":
		env.profile = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
	case "block":
		env.profile = profile.Start(profile.BlockProfile, profile.ProfilePath("."), profile.Quiet)
	default:
		return fmt.Errorf("unknown profile mode %q", mode)
	}
	return nil
}

func (env *environment) teardown(*cli.Context) error {
	if env.profile != nil {
		env.profile.Stop()
	}
	// Sync fails on terminals; there is nothing useful to do about it.
	env.logger.Sync()
	return nil
}

// newLogger returns a logger writing to standard error, so that slices can
// be written to standard output.
func newLogger(level string) (*zap.Logger, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %v", err)
	}
	cfg := zap.NewProductionConfig()
	if l == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(l)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

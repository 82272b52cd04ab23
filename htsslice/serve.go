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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/htsslice/internal/api"
	"github.com/googlegenomics/htsslice/internal/slicer"
	"github.com/googlegenomics/htsslice/internal/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func (env *environment) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve slices over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "directory or URI that request IDs are resolved against (overrides the configuration)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP service port (overrides the configuration)",
			},
			&cli.StringSliceFlag{
				Name:  "buckets",
				Usage: "if set, restricts reads to these GCS or S3 buckets",
			},
			&cli.BoolFlag{
				Name:  "secure",
				Usage: "serve in HTTPS-only mode and forward client bearer tokens",
			},
			&cli.StringFlag{
				Name:  "https-cert",
				Usage: "HTTPS certificate file",
			},
			&cli.StringFlag{
				Name:  "https-key",
				Usage: "HTTPS key file",
			},
		},
		Action: env.serve,
	}
}

func (env *environment) serve(c *cli.Context) error {
	cfg := env.cfg.Server
	if c.IsSet("root") {
		cfg.Root = c.String("root")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("buckets") {
		cfg.Buckets = c.StringSlice("buckets")
	}
	if c.IsSet("secure") {
		cfg.Secure = c.Bool("secure")
	}
	if cfg.Secure && (c.String("https-cert") == "" || c.String("https-key") == "") {
		return fmt.Errorf("you must specify both --https-cert and --https-key in secure mode")
	}

	registry := prometheus.NewRegistry()
	var cache *source.Cache
	if env.cfg.CachePages > 0 {
		var err error
		if cache, err = source.NewCache(env.cfg.CachePages, env.cfg.CachePageSize, registry); err != nil {
			return err
		}
	}

	newGCSClient := source.NewPublicClient
	if cfg.Secure {
		newGCSClient = source.NewClientFromBearerToken
	}

	if env.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Options{
		Root: cfg.Root,
		Slicer: slicer.New(slicer.Options{
			Logger:           env.logger,
			FetchSize:        env.cfg.FetchSize,
			MaxWindow:        env.cfg.MaxWindow,
			Parallelism:      env.cfg.Parallelism,
			CompressionLevel: env.cfg.CompressionLevel,
		}),
		Logger:       env.logger,
		NewGCSClient: newGCSClient,
		MaxWindow:    env.cfg.MaxWindow,
		Cache:        cache,
		RateLimit:    source.NewBandwidthLimit(env.cfg.RateLimit),
		Registry:     registry,
	})
	if len(cfg.Buckets) > 0 {
		server.Whitelist(cfg.Buckets)
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	env.logger.Info("Serving", zap.String("address", address), zap.String("root", cfg.Root), zap.Bool("secure", cfg.Secure))
	if cfg.Secure {
		if err := http.ListenAndServeTLS(address, c.String("https-cert"), c.String("https-key"), server.Handler()); err != nil {
			return fmt.Errorf("HTTPS server returned an error: %v", err)
		}
		return nil
	}
	if err := http.ListenAndServe(address, server.Handler()); err != nil {
		return fmt.Errorf("HTTP server returned an error: %v", err)
	}
	return nil
}

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
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const scope = "https://www.googleapis.com/auth/devstorage.read_only"

func (env *environment) fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "download a slice from an htsslice server",
		ArgsUsage: "READS_URL...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Value:   "-",
				Usage:   "output file, or - for standard output",
			},
			&cli.StringFlag{
				Name:    "reference",
				Aliases: []string{"r"},
				Usage:   "reference name added to every request",
			},
			&cli.BoolFlag{
				Name:  "google-auth",
				Usage: "authenticate with Google application default credentials",
			},
		},
		Action: env.fetch,
	}
}

type ticket struct {
	Container struct {
		URLs []struct {
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		} `json:"urls"`
	} `json:"htsget"`
}

func (env *environment) fetch(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no reads URL given")
	}
	ctx, err := withCABundle(c.Context, os.Getenv("CURL_CA_BUNDLE"))
	if err != nil {
		return err
	}
	client := http.DefaultClient
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		client = hc
	}
	if c.Bool("google-auth") {
		if client, err = google.DefaultClient(ctx, scope); err != nil {
			return fmt.Errorf("creating client: %v", err)
		}
	}

	out, err := createOutput(c.String("out"))
	if err != nil {
		return err
	}
	for _, target := range c.Args().Slice() {
		if reference := c.String("reference"); reference != "" {
			target = addParameter(target, "referenceName", reference)
		}
		if err = env.fetchTicket(ctx, client, target, out); err != nil {
			break
		}
	}
	return finish(out, err)
}

func (env *environment) fetchTicket(ctx context.Context, client *http.Client, target string, w io.Writer) error {
	env.logger.Info("Fetching ticket", zap.String("url", target))
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting ticket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}

	var t ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return fmt.Errorf("decoding ticket: %v", err)
	}
	env.logger.Debug("Received ticket", zap.Int("urls", len(t.Container.URLs)))

	for i, blob := range t.Container.URLs {
		n, err := fetchBlob(ctx, client, blob.URL, blob.Headers, w)
		if err != nil {
			return fmt.Errorf("blob %d: %v", i, err)
		}
		env.logger.Info("Fetched blob", zap.Int("blob", i), zap.String("size", humanSize(n)))
	}
	return nil
}

// withCABundle adds the certificates in bundle to the system pool used by
// the returned context's HTTP client.  It returns ctx unchanged if bundle is
// empty.
func withCABundle(ctx context.Context, bundle string) (context.Context, error) {
	if bundle == "" {
		return ctx, nil
	}
	pem, err := os.ReadFile(bundle)
	if err != nil {
		return nil, fmt.Errorf("reading CA override file %q: %v", bundle, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("initializing system certificate pool: %v", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("adding certificates from bundle %q", bundle)
	}
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: pool,
			}},
	}), nil
}

func addParameter(input, name, value string) string {
	values := url.Values{}
	values.Set(name, value)
	if strings.Contains(input, "?") {
		return input + "&" + values.Encode()
	}
	return input + "?" + values.Encode()
}

func humanSize(n int64) string {
	units := []string{"bytes", "KB", "MB", "GB"}
	i := 0
	for ; i < len(units)-1 && n >= 2<<10; i++ {
		n >>= 10
	}
	return fmt.Sprintf("%d %s", n, units[i])
}

// fetchBlob copies the data at target to w.  Inline data: URLs are decoded
// locally.
func fetchBlob(ctx context.Context, client *http.Client, target string, headers map[string]string, w io.Writer) (int64, error) {
	if v := strings.TrimPrefix(target, "data:"); v != target {
		parts := strings.SplitN(v, ",", 2)
		if len(parts) != 2 {
			return 0, errors.New("malformed data URL")
		}
		data := []byte(parts[1])
		if strings.Contains(parts[0], ";base64") {
			var err error
			if data, err = base64.StdEncoding.DecodeString(parts[1]); err != nil {
				return 0, fmt.Errorf("decoding base64 data: %v", err)
			}
		}
		return io.Copy(w, bytes.NewReader(data))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %v", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching data: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errorFromResponse(resp)
	}
	return io.Copy(w, resp.Body)
}

func errorFromResponse(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (%d): %s", body.Error, resp.StatusCode, body.Message)
	}
	return fmt.Errorf("unexpected status: %s", resp.Status)
}

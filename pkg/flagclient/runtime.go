// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package flagclient is the client runtime: it fetches project data
// through a shared coalescer and resolves decisions against it.
//
// A Runtime is built once per process and handed to every render path
// that needs decisions. Clients built from the same Runtime share one
// in-flight fetch per (project, environment, endpoint).
package flagclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cardinalhq/flagrunner/pkg/coalesce"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
)

type Runtime struct {
	httpClient *http.Client
	stores     *coalesce.Coalescer[*projectdata.Store]
	logger     *slog.Logger
}

type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	httpClient   *http.Client
	cacheTTL     time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
}

func WithHTTPClient(c *http.Client) RuntimeOption {
	return func(rc *runtimeConfig) { rc.httpClient = c }
}

// WithCacheTTL sets how long a fetched snapshot is reused.
func WithCacheTTL(ttl time.Duration) RuntimeOption {
	return func(rc *runtimeConfig) { rc.cacheTTL = ttl }
}

// WithFetchTimeout bounds a single coalesced fetch.
func WithFetchTimeout(d time.Duration) RuntimeOption {
	return func(rc *runtimeConfig) { rc.fetchTimeout = d }
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return func(rc *runtimeConfig) { rc.logger = l }
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	rc := runtimeConfig{
		cacheTTL:     coalesce.DefaultTTL,
		fetchTimeout: coalesce.DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.httpClient == nil {
		rc.httpClient = &http.Client{Timeout: rc.fetchTimeout}
	}
	return &Runtime{
		httpClient: rc.httpClient,
		stores: coalesce.New[*projectdata.Store](
			coalesce.WithTTL(rc.cacheTTL),
			coalesce.WithTimeout(rc.fetchTimeout),
		),
		logger: rc.logger,
	}
}

func (rt *Runtime) Close() {
	rt.stores.Close()
}

// fetch loads one snapshot, coalesced with any identical fetch already
// in flight.
func (rt *Runtime) fetch(ctx context.Context, cfg Config) (*projectdata.Store, error) {
	key := coalesce.Key(cfg.ProjectID, cfg.Environment, cfg.CDNURL, cfg.APIURL)
	return rt.stores.Get(ctx, key, func(ctx context.Context) (*projectdata.Store, error) {
		start := time.Now()
		store, err := rt.fetchProjectData(ctx, cfg)
		rt.logger.Debug("Fetched project data",
			slog.String("projectID", cfg.ProjectID),
			slog.String("environment", cfg.Environment),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("ok", err == nil))
		return store, err
	})
}

func (rt *Runtime) fetchProjectData(ctx context.Context, cfg Config) (*projectdata.Store, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.dataURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := rt.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching project data: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetching project data: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading project data: %w", err)
	}
	return projectdata.Decode(body, cfg.ProjectID, cfg.Environment, projectdata.WithVariantNames(cfg.Tests))
}

const maxDocumentBytes = 4 << 20

func (cfg Config) dataURL() string {
	if cfg.CDNURL != "" {
		return fmt.Sprintf("%s/%s/%s", cfg.CDNURL, url.PathEscape(cfg.ProjectID), url.PathEscape(cfg.Environment))
	}
	q := url.Values{}
	q.Set("environment", cfg.Environment)
	return fmt.Sprintf("%s/api/v1/data/%s?%s", cfg.APIURL, url.PathEscape(cfg.ProjectID), q.Encode())
}

func (cfg Config) trackURL() string {
	return cfg.APIURL + "/api/v1/track"
}

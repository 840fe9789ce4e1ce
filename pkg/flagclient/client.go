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

package flagclient

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardinalhq/flagrunner/pkg/overrides"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
	"github.com/cardinalhq/flagrunner/pkg/resolver"
)

// Config declares the project a client resolves against.
type Config struct {
	ProjectID   string
	Environment string
	// APIURL is the data API base, also used to submit usage events.
	APIURL string
	// CDNURL, when set, serves snapshots instead of the data API.
	CDNURL string

	// Tests maps test names to their variant names, in weight order.
	Tests map[string][]string
	// Flags and RemoteConfig declare value kinds. Undeclared flags are
	// Boolean; undeclared remote config entries are String.
	Flags        map[string]projectdata.Kind
	RemoteConfig map[string]projectdata.Kind

	// Draw overrides the random draw, for reproducible assignment.
	Draw resolver.DrawFunc
	// DisableEvents stops usage events from being submitted.
	DisableEvents bool
}

func (cfg Config) validate() error {
	var errs []error
	if cfg.ProjectID == "" {
		errs = append(errs, errors.New("project id is required"))
	}
	if cfg.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if cfg.APIURL == "" && cfg.CDNURL == "" {
		errs = append(errs, errors.New("an API or CDN URL is required"))
	}
	return errors.Join(errs...)
}

// Client resolves decisions for one project environment. It is safe for
// concurrent use; every method degrades to defaults when no snapshot is
// available.
type Client struct {
	rt       *Runtime
	cfg      Config
	resolver *resolver.Resolver
	emitter  *httpEmitter

	store     atomic.Pointer[projectdata.Store]
	mu        sync.RWMutex
	overrides overrides.Map
}

func (rt *Runtime) NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.CDNURL = strings.TrimRight(cfg.CDNURL, "/")

	c := &Client{rt: rt, cfg: cfg, overrides: overrides.Map{}}
	opts := []resolver.Option{resolver.WithLogger(rt.logger)}
	if cfg.Draw != nil {
		opts = append(opts, resolver.WithDraw(cfg.Draw))
	}
	if !cfg.DisableEvents && cfg.APIURL != "" {
		c.emitter = newHTTPEmitter(rt.httpClient, cfg.trackURL(), rt.logger)
		opts = append(opts, resolver.WithEmitter(c.emitter))
	}
	c.resolver = resolver.New(opts...)
	return c, nil
}

// Load fetches the current snapshot. On failure the previous snapshot,
// if any, stays in use and the error is returned for the caller to log.
func (c *Client) Load(ctx context.Context) (*projectdata.Store, error) {
	store, err := c.rt.fetch(ctx, c.cfg)
	if err != nil {
		c.rt.logger.Warn("Project data unavailable, using defaults",
			slog.String("projectID", c.cfg.ProjectID),
			slog.String("environment", c.cfg.Environment),
			slog.Any("error", err))
		return c.store.Load(), err
	}
	c.store.Store(store)
	return store, nil
}

// Init installs a snapshot obtained elsewhere, such as data embedded
// by a server render.
func (c *Client) Init(store *projectdata.Store) {
	if store != nil {
		c.store.Store(store)
	}
}

// Store returns the snapshot in use, or nil.
func (c *Client) Store() *projectdata.Store {
	return c.store.Load()
}

func (c *Client) SetOverrides(m overrides.Map) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = m
}

// SetOverridesFromCookieHeader reads overrides from a request's Cookie
// header.
func (c *Client) SetOverridesFromCookieHeader(header string) {
	c.SetOverrides(overrides.FromCookieHeader(header))
}

func (c *Client) currentOverrides() overrides.Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overrides
}

// Test resolves a test. An empty identity gives a neutral decision.
func (c *Client) Test(ctx context.Context, identity, name string) resolver.Decision {
	return c.resolver.Test(ctx, c.store.Load(), c.currentOverrides(), identity, name)
}

// Act records a caller action on a test.
func (c *Client) Act(ctx context.Context, identity, name string, duration time.Duration) resolver.Decision {
	return c.resolver.Act(ctx, c.store.Load(), c.currentOverrides(), identity, name, duration)
}

func (c *Client) FeatureFlag(name string) bool {
	b, _ := c.Flag(name).Bool()
	return b
}

// Flag resolves a flag using its declared kind.
func (c *Client) Flag(name string) projectdata.Value {
	kind, ok := c.cfg.Flags[name]
	if !ok {
		kind = projectdata.KindBoolean
	}
	return c.resolver.Flag(c.store.Load(), c.currentOverrides(), name, kind)
}

// RemoteConfig resolves a remote config entry using its declared kind.
func (c *Client) RemoteConfig(name string) projectdata.Value {
	kind, ok := c.cfg.RemoteConfig[name]
	if !ok {
		kind = projectdata.KindString
	}
	return c.resolver.RemoteConfig(c.store.Load(), c.currentOverrides(), name, kind)
}

// Close waits for pending usage events to be submitted. Events emitted
// after Close are dropped.
func (c *Client) Close(ctx context.Context) error {
	if c.emitter == nil {
		return nil
	}
	defer c.emitter.close()
	return c.emitter.flush(ctx)
}

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

// Package configcache serves project data snapshots from configdb with
// a per (project, environment) cache that is invalidated on every write.
//
// Every invalidation advances a logical clock. A cached key remembers
// the clock value it was stored under; keys that are not cached share
// the floor, the clock value of the most recent invalidation of an
// uncached key. A fetch records the value it started under and only
// stores its result if the value is unchanged when it finishes, and
// concurrent loads only share a fetch when they started under the same
// value.
//
// Replicas learn about writes made elsewhere from an InvalidationSource.
// While a watched cache has no live subscription it reads through to
// configdb without caching.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/flagrunner/configdb"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
)

// ErrNotFound is returned by Load when configdb holds no snapshot for
// the project environment.
var ErrNotFound = errors.New("project snapshot not found")

// SnapshotQuerier is the configdb surface the cache reads from.
type SnapshotQuerier interface {
	GetProjectSnapshot(ctx context.Context, arg configdb.GetProjectSnapshotParams) (configdb.ProjectSnapshot, error)
	ListProjectEnvironments(ctx context.Context, projectID string) ([]string, error)
}

// Broadcaster tells every other replica that a project changed.
type Broadcaster interface {
	NotifyConfigInvalidated(ctx context.Context, projectID string) error
}

// InvalidationSource delivers project changes made by any writer. It
// calls ready once subscribed and blocks until ctx ends or the
// subscription is lost.
type InvalidationSource interface {
	ListenConfigInvalidations(ctx context.Context, ready func(), notify func(projectID string)) error
}

type cacheKey struct {
	ProjectID   string
	Environment string
}

type Cache struct {
	querier     SnapshotQuerier
	broadcaster Broadcaster
	stores      *ttlcache.Cache[cacheKey, *projectdata.Store]
	group       singleflight.Group
	readThrough atomic.Bool
	retryDelay  time.Duration

	mu     sync.Mutex
	clock  uint64
	floor  uint64
	epochs map[cacheKey]uint64
}

type Option func(*Cache)

// WithBroadcaster makes InvalidateProject signal other replicas too.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Cache) { c.broadcaster = b }
}

func New(querier SnapshotQuerier, ttl time.Duration, opts ...Option) *Cache {
	stores := ttlcache.New(
		ttlcache.WithTTL[cacheKey, *projectdata.Store](ttl),
		ttlcache.WithDisableTouchOnHit[cacheKey, *projectdata.Store](),
	)
	c := &Cache{
		querier:    querier,
		stores:     stores,
		retryDelay: time.Second,
		epochs:     make(map[cacheKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Eviction runs under the ttlcache lock, so pruning happens elsewhere.
	stores.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[cacheKey, *projectdata.Store]) {
		if reason == ttlcache.EvictionReasonExpired {
			go c.prune(item.Key())
		}
	})
	go stores.Start()
	return c
}

// Close stops the cache background goroutine.
func (c *Cache) Close() {
	c.stores.Stop()
}

// Get returns a cached store. A miss is not an error.
func (c *Cache) Get(projectID, environment string) (*projectdata.Store, bool) {
	item := c.stores.Get(cacheKey{ProjectID: projectID, Environment: environment})
	if item == nil {
		recordLookup(context.Background(), false)
		return nil, false
	}
	recordLookup(context.Background(), true)
	return item.Value(), true
}

// Set installs store as the current snapshot for its project environment.
// Any fetch in flight for the same key will not overwrite it.
func (c *Cache) Set(store *projectdata.Store) {
	k := cacheKey{ProjectID: store.ProjectID(), Environment: store.Environment()}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.epochs[k] = c.clock
	c.stores.Set(k, store, ttlcache.DefaultTTL)
}

// Invalidate drops the cached snapshot for one project environment.
func (c *Cache) Invalidate(projectID, environment string) {
	c.invalidate(cacheKey{ProjectID: projectID, Environment: environment})
	recordInvalidations(context.Background(), 1)
}

func (c *Cache) invalidate(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.floor = c.clock
	delete(c.epochs, k)
	c.stores.Delete(k)
}

// reset drops everything, including the outcome of fetches in flight.
func (c *Cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.floor = c.clock
	clear(c.epochs)
	c.stores.DeleteAll()
}

// prune forgets the epoch of a key whose store expired.
func (c *Cache) prune(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.epochs[k]
	if !ok || c.stores.Has(k) {
		return
	}
	c.floor = max(c.floor, e)
	delete(c.epochs, k)
}

// InvalidateProject drops every environment of a project, both those
// configdb knows about and those currently cached, then signals other
// replicas when a broadcaster is configured. When the environment list
// cannot be read the cached environments are still dropped and the
// error is returned.
func (c *Cache) InvalidateProject(ctx context.Context, projectID string) error {
	err := c.invalidateProject(ctx, projectID)
	if c.broadcaster != nil {
		if berr := c.broadcaster.NotifyConfigInvalidated(ctx, projectID); berr != nil {
			err = errors.Join(err, fmt.Errorf("broadcasting invalidation of %s: %w", projectID, berr))
		}
	}
	return err
}

func (c *Cache) invalidateProject(ctx context.Context, projectID string) error {
	envs := mapset.NewThreadUnsafeSet[string]()

	known, err := c.querier.ListProjectEnvironments(ctx, projectID)
	if err != nil {
		err = fmt.Errorf("listing environments for %s: %w", projectID, err)
	}
	envs.Append(known...)

	for _, k := range c.stores.Keys() {
		if k.ProjectID == projectID {
			envs.Add(k.Environment)
		}
	}

	for env := range envs.Iter() {
		c.invalidate(cacheKey{ProjectID: projectID, Environment: env})
	}
	recordInvalidations(ctx, envs.Cardinality())

	slog.Debug("Invalidated project snapshots",
		slog.String("projectID", projectID),
		slog.Int("environments", envs.Cardinality()))
	return err
}

func (c *Cache) epoch(k cacheKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.epochs[k]; ok {
		return e
	}
	return c.floor
}

// StartWatching applies invalidations from src until ctx ends. Until the
// first subscription is ready, and whenever it is lost, Load reads
// through to configdb. Each new subscription starts from an empty cache
// so changes missed while disconnected are never served.
func (c *Cache) StartWatching(ctx context.Context, src InvalidationSource) {
	c.readThrough.Store(true)
	go c.watch(ctx, src)
}

const maxRetryDelay = 30 * time.Second

func (c *Cache) watch(ctx context.Context, src InvalidationSource) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryDelay
	eb.MaxInterval = maxRetryDelay
	eb.MaxElapsedTime = 0
	for {
		err := src.ListenConfigInvalidations(ctx, func() {
			c.reset()
			c.readThrough.Store(false)
			eb.Reset()
			slog.Info("Watching configuration invalidations")
		}, func(projectID string) {
			if err := c.invalidateProject(ctx, projectID); err != nil {
				slog.Warn("Partial invalidation from notification",
					slog.String("projectID", projectID), slog.Any("error", err))
			}
		})
		c.readThrough.Store(true)
		c.reset()
		if ctx.Err() != nil {
			return
		}
		recordWatchFailure(ctx)
		wait := eb.NextBackOff()
		slog.Warn("Configuration invalidation listener lost, reading through",
			slog.Any("error", err), slog.Duration("retryIn", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Load returns the cached snapshot or fetches it from configdb. Callers
// that miss under the same epoch share one fetch.
func (c *Cache) Load(ctx context.Context, projectID, environment string) (*projectdata.Store, error) {
	k := cacheKey{ProjectID: projectID, Environment: environment}
	if c.readThrough.Load() {
		return c.fetch(ctx, k)
	}
	if store, ok := c.Get(projectID, environment); ok {
		return store, nil
	}

	started := c.epoch(k)
	flight := strconv.Itoa(len(projectID)) + ":" + projectID + ":" + environment + "@" + strconv.FormatUint(started, 10)

	ch := c.group.DoChan(flight, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		store, err := c.fetch(fctx, k)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		current, cached := c.epochs[k]
		if !cached {
			current = c.floor
		}
		if current == started && !c.readThrough.Load() {
			c.epochs[k] = started
			c.stores.Set(k, store, ttlcache.DefaultTTL)
		} else {
			recordStaleDiscard(fctx)
		}
		return store, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		store, _ := res.Val.(*projectdata.Store)
		return store, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, k cacheKey) (*projectdata.Store, error) {
	start := time.Now()
	snap, err := c.querier.GetProjectSnapshot(ctx, configdb.GetProjectSnapshotParams{
		ProjectID:   k.ProjectID,
		Environment: k.Environment,
	})
	recordFetch(ctx, time.Since(start), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s/%s: %w", k.ProjectID, k.Environment, err)
	}
	return projectdata.Decode(snap.Document, k.ProjectID, k.Environment)
}

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

// Package coalesce merges concurrent fetches of the same key into one
// producer call and briefly remembers successful results.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// ErrFetchTimeout is returned to every waiter when a producer does not
// settle within the coalescer's timeout.
var ErrFetchTimeout = errors.New("coalesced fetch timed out")

const (
	DefaultTTL     = 30 * time.Second
	DefaultTimeout = 10 * time.Second
)

// Producer computes the value for a key. Its context is not tied to any
// single waiter and is cancelled at the coalescer's timeout.
type Producer[V any] func(ctx context.Context) (V, error)

// Coalescer guarantees at most one outstanding producer per key. A
// failed or timed out call is not remembered; the next Get retries.
type Coalescer[V any] struct {
	group   singleflight.Group
	settled *ttlcache.Cache[string, V]
	timeout time.Duration
}

type Option func(*config)

type config struct {
	ttl     time.Duration
	timeout time.Duration
}

// WithTTL sets how long a successful result is served without calling
// the producer again.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithTimeout bounds how long waiters block on one producer call.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func New[V any](opts ...Option) *Coalescer[V] {
	cfg := config{ttl: DefaultTTL, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	settled := ttlcache.New(
		ttlcache.WithTTL[string, V](cfg.ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	go settled.Start()

	return &Coalescer[V]{
		settled: settled,
		timeout: cfg.timeout,
	}
}

// Close stops the expiry loop.
func (c *Coalescer[V]) Close() {
	c.settled.Stop()
}

type result[V any] struct {
	v   V
	err error
}

// Get returns the settled value for key, joins an in-flight call, or
// starts producer. A waiter whose ctx ends stops waiting without
// affecting the others.
func (c *Coalescer[V]) Get(ctx context.Context, key string, producer Producer[V]) (V, error) {
	if item := c.settled.Get(key); item != nil {
		return item.Value(), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// A call that finished between our cache miss and DoChan has
		// already stored its value.
		if item := c.settled.Get(key); item != nil {
			return item.Value(), nil
		}

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		done := make(chan result[V], 1)
		go func() {
			v, err := producer(pctx)
			done <- result[V]{v: v, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return r.v, r.err
			}
			c.settled.Set(key, r.v, ttlcache.DefaultTTL)
			return r.v, nil
		case <-pctx.Done():
			var zero V
			return zero, fmt.Errorf("%w after %s", ErrFetchTimeout, c.timeout)
		}
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Forget drops any settled value for key. An in-flight call is not
// interrupted.
func (c *Coalescer[V]) Forget(key string) {
	c.settled.Delete(key)
}

// Key builds a composite key for one deployment of a project
// environment. Parts are length-prefixed so no two distinct tuples
// share a key.
func Key(projectID, environment, cdnURL, apiURL string) string {
	var b strings.Builder
	for _, part := range []string{projectID, environment, cdnURL, apiURL} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
		b.WriteByte(';')
	}
	return b.String()
}

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

package counterstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Local keeps counters in process memory. Counts are not shared between
// replicas. Expired counters are evicted in the background; Close stops
// that loop.
type Local struct {
	mu       sync.Mutex
	counters *ttlcache.Cache[string, int64]
	now      func() time.Time

	// expMu guards expires and is never held while calling into counters.
	expMu   sync.Mutex
	expires map[string]time.Time
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	l := &Local{
		counters: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, int64]()),
		expires:  make(map[string]time.Time),
		now:      time.Now,
	}
	l.counters.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, int64]) {
		l.forget(item.Key())
	})
	go l.counters.Start()
	return l
}

// Close stops background eviction.
func (l *Local) Close() {
	l.counters.Stop()
}

func localKey(key string, windowStart time.Time) string {
	return key + "@" + strconv.FormatInt(windowStart.Unix(), 10)
}

func (l *Local) forget(k string) {
	l.expMu.Lock()
	delete(l.expires, k)
	l.expMu.Unlock()
}

func (l *Local) Increment(_ context.Context, key string, windowStart time.Time, ttl time.Duration) (int64, error) {
	k := localKey(key, windowStart)

	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	if item := l.counters.Get(k); item != nil {
		n = item.Value()
	}
	n++
	expiresAt := windowStart.Add(ttl)
	remaining := expiresAt.Sub(l.now())
	if remaining <= 0 {
		// The window is already over; the count is returned but not kept.
		l.counters.Delete(k)
		l.forget(k)
		return n, nil
	}
	l.counters.Set(k, n, remaining)
	l.expMu.Lock()
	l.expires[k] = expiresAt
	l.expMu.Unlock()
	return n, nil
}

func (l *Local) Get(_ context.Context, key string, windowStart time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item := l.counters.Get(localKey(key, windowStart)); item != nil {
		return item.Value(), nil
	}
	return 0, nil
}

// Sweep drops counters whose window ended before now, whether or not the
// background eviction has reached them yet.
func (l *Local) Sweep(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var due []string
	l.expMu.Lock()
	for k, exp := range l.expires {
		if !exp.After(now) {
			due = append(due, k)
			delete(l.expires, k)
		}
	}
	l.expMu.Unlock()

	for _, k := range due {
		l.counters.Delete(k)
	}
	l.counters.DeleteExpired()
	return int64(len(due)), nil
}

func (l *Local) tracked() int {
	l.expMu.Lock()
	defer l.expMu.Unlock()
	return len(l.expires)
}

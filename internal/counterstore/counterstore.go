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

// Package counterstore holds windowed counters shared by rate limiting
// and request accounting. A counter is identified by a key and the start
// of its window, and disappears once its window has expired.
package counterstore

import (
	"context"
	"time"
)

type Store interface {
	// Increment adds one to the counter and returns the new value. The
	// counter expires at windowStart+ttl.
	Increment(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) (int64, error)
	// Get returns the counter, or 0 if it does not exist or has expired.
	Get(ctx context.Context, key string, windowStart time.Time) (int64, error)
	// Sweep removes counters that expired before now and reports how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// WindowStart aligns t down to a multiple of window since the Unix
// epoch. A 24h window therefore starts at 00:00 UTC.
func WindowStart(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(window)
}

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

package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/internal/counterstore"
)

type countingStore struct {
	counterstore.Store
	sweeps atomic.Int32
	err    error
}

func (c *countingStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	c.sweeps.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return c.Store.Sweep(ctx, now)
}

func TestSweeper_RunOnceRemovesExpiredWindows(t *testing.T) {
	ctx := context.Background()
	store := counterstore.NewLocal()
	start := time.Now().UTC().Truncate(time.Hour)
	_, err := store.Increment(ctx, "short", start, 2*time.Hour)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "current", start, 48*time.Hour)
	require.NoError(t, err)

	s := New(store, time.Minute)
	s.now = func() time.Time { return start.Add(3 * time.Hour) }

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v, err := store.Get(ctx, "current", start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSweeper_RunKeepsGoingAfterFailure(t *testing.T) {
	store := &countingStore{Store: counterstore.NewLocal(), err: errors.New("db down")}
	s := New(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return store.sweeps.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

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

package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct{ n int32 }

func TestCoalescer_ConcurrentCallersShareOneProducer(t *testing.T) {
	c := New[*payload]()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (*payload, error) {
		n := calls.Add(1)
		<-release
		return &payload{n: n}, nil
	}

	const waiters = 50
	results := make([]*payload, waiters)
	errs := make([]error, waiters)
	var started, wg sync.WaitGroup
	for i := range waiters {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = c.Get(context.Background(), "k", producer)
		}()
	}
	started.Wait()
	// Give every goroutine time to reach the singleflight group.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range waiters {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	t.Run("settled value is served from cache", func(t *testing.T) {
		v, err := c.Get(context.Background(), "k", producer)
		require.NoError(t, err)
		assert.Same(t, results[0], v)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("other keys are independent", func(t *testing.T) {
		v, err := c.Get(context.Background(), "other", producer)
		require.NoError(t, err)
		assert.Equal(t, int32(2), v.n)
	})
}

func TestCoalescer_FailureIsSharedAndNotCached(t *testing.T) {
	c := New[string]()
	t.Cleanup(c.Close)

	boom := errors.New("boom")
	var calls atomic.Int32
	release := make(chan struct{})
	failing := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "", boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "k", failing)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}

	v, err := c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoalescer_Timeout(t *testing.T) {
	c := New[string](WithTimeout(50 * time.Millisecond))
	t.Cleanup(c.Close)

	var cancelled atomic.Bool
	hang := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return "", ctx.Err()
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "k", hang)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrFetchTimeout)
	}
	assert.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)

	v, err := c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestCoalescer_WaiterCancellation(t *testing.T) {
	c := New[string]()
	t.Cleanup(c.Close)

	release := make(chan struct{})
	slow := func(ctx context.Context) (string, error) {
		<-release
		return "value", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	shortErr := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "k", slow)
		shortErr <- err
	}()

	patient := make(chan string, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		v, _ := c.Get(context.Background(), "k", slow)
		patient <- v
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-shortErr, context.Canceled)

	close(release)
	assert.Equal(t, "value", <-patient)
}

func TestCoalescer_TTL(t *testing.T) {
	c := New[int](WithTTL(30 * time.Millisecond))
	t.Cleanup(c.Close)

	var calls atomic.Int32
	producer := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	v, err := c.Get(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	time.Sleep(80 * time.Millisecond)
	v, err = c.Get(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	c.Forget("k")
	v, err = c.Get(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestKey(t *testing.T) {
	assert.NotEqual(t, Key("a-b", "c", "", ""), Key("a", "b-c", "", ""))
	assert.NotEqual(t, Key("p", "prod", "https://cdn", ""), Key("p", "prod", "", "https://cdn"))
	assert.Equal(t, Key("p", "e", "x", "y"), Key("p", "e", "x", "y"))
}

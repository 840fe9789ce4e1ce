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

package configcache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/configdb"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
)

func flagDoc(v bool) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"tests":        []any{},
		"flags":        []any{map[string]any{"name": "f", "value": v}},
		"remoteConfig": []any{},
	})
	return b
}

type mockQuerier struct {
	mu       sync.Mutex
	docs     map[string]json.RawMessage // key: "projectID/environment"
	gate     chan struct{}
	entered  chan struct{}
	getCalls atomic.Int32
	listErr  error
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{docs: make(map[string]json.RawMessage)}
}

func (m *mockQuerier) put(projectID, env string, doc json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[projectID+"/"+env] = doc
}

// blockNext makes the next GetProjectSnapshot call read its document,
// signal entered, then wait for the returned release func.
func (m *mockQuerier) blockNext() (entered <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{})
	gate := m.gate
	return m.entered, func() { close(gate) }
}

func (m *mockQuerier) GetProjectSnapshot(ctx context.Context, arg configdb.GetProjectSnapshotParams) (configdb.ProjectSnapshot, error) {
	m.getCalls.Add(1)
	m.mu.Lock()
	doc, ok := m.docs[arg.ProjectID+"/"+arg.Environment]
	gate, entered := m.gate, m.entered
	m.gate, m.entered = nil, nil
	m.mu.Unlock()

	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return configdb.ProjectSnapshot{}, ctx.Err()
		}
	}
	if !ok {
		return configdb.ProjectSnapshot{}, pgx.ErrNoRows
	}
	return configdb.ProjectSnapshot{
		ProjectID:   arg.ProjectID,
		Environment: arg.Environment,
		Document:    doc,
		UpdatedAt:   time.Now(),
	}, nil
}

func (m *mockQuerier) ListProjectEnvironments(ctx context.Context, projectID string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var envs []string
	for k := range m.docs {
		if len(k) > len(projectID) && k[:len(projectID)+1] == projectID+"/" {
			envs = append(envs, k[len(projectID)+1:])
		}
	}
	return envs, nil
}

func newCache(t *testing.T, q SnapshotQuerier) *Cache {
	t.Helper()
	c := New(q, 5*time.Minute)
	t.Cleanup(c.Close)
	return c
}

func flagValue(t *testing.T, s *projectdata.Store) bool {
	t.Helper()
	require.NotNil(t, s)
	f, ok := s.Flag("f")
	require.True(t, ok)
	b, _ := f.Value.Bool()
	return b
}

func TestCache_LoadCachesAndGetMisses(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	q.put("p1", "production", flagDoc(true))
	c := newCache(t, q)

	_, ok := c.Get("p1", "production")
	assert.False(t, ok)

	s, err := c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	assert.True(t, flagValue(t, s))

	again, err := c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, int32(1), q.getCalls.Load())

	got, ok := c.Get("p1", "production")
	assert.True(t, ok)
	assert.Same(t, s, got)
}

func TestCache_LoadNotFound(t *testing.T) {
	q := newMockQuerier()
	c := newCache(t, q)

	_, err := c.Load(context.Background(), "p1", "production")
	assert.ErrorIs(t, err, ErrNotFound)

	q.put("p1", "production", flagDoc(true))
	_, err = c.Load(context.Background(), "p1", "production")
	require.NoError(t, err, "misses are not cached")
}

func TestCache_ConcurrentLoadsShareOneFetch(t *testing.T) {
	q := newMockQuerier()
	q.put("p1", "production", flagDoc(true))
	c := newCache(t, q)

	entered, release := q.blockNext()
	var wg sync.WaitGroup
	results := make([]*projectdata.Store, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Load(context.Background(), "p1", "production")
		}()
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int32(1), q.getCalls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestCache_InvalidateDuringFetch(t *testing.T) {
	q := newMockQuerier()
	q.put("p1", "production", flagDoc(false))
	c := newCache(t, q)

	entered, release := q.blockNext()
	staleDone := make(chan *projectdata.Store)
	go func() {
		s, _ := c.Load(context.Background(), "p1", "production")
		staleDone <- s
	}()
	<-entered

	q.put("p1", "production", flagDoc(true))
	c.Invalidate("p1", "production")

	fresh, err := c.Load(context.Background(), "p1", "production")
	require.NoError(t, err)
	assert.True(t, flagValue(t, fresh), "a load after invalidation does not join the older fetch")
	assert.Equal(t, int32(2), q.getCalls.Load())

	release()
	stale := <-staleDone
	assert.False(t, flagValue(t, stale))

	cached, ok := c.Get("p1", "production")
	require.True(t, ok)
	assert.Same(t, fresh, cached, "the older fetch must not overwrite the cache")
}

func TestCache_SetAndInvalidate(t *testing.T) {
	c := newCache(t, newMockQuerier())
	s := projectdata.Empty("p1", "staging")

	c.Set(s)
	got, ok := c.Get("p1", "staging")
	require.True(t, ok)
	assert.Same(t, s, got)

	c.Invalidate("p1", "staging")
	_, ok = c.Get("p1", "staging")
	assert.False(t, ok)
}

func TestCache_InvalidateProject(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	q.put("p1", "production", flagDoc(true))
	q.put("p1", "staging", flagDoc(true))
	q.put("p2", "production", flagDoc(true))
	c := newCache(t, q)

	for _, k := range [][2]string{{"p1", "production"}, {"p1", "staging"}, {"p2", "production"}} {
		_, err := c.Load(ctx, k[0], k[1])
		require.NoError(t, err)
	}
	c.Set(projectdata.Empty("p1", "preview"))

	require.NoError(t, c.InvalidateProject(ctx, "p1"))

	for _, env := range []string{"production", "staging", "preview"} {
		_, ok := c.Get("p1", env)
		assert.False(t, ok, env)
	}
	_, ok := c.Get("p2", "production")
	assert.True(t, ok)

	t.Run("list failure still drops cached environments", func(t *testing.T) {
		c.Set(projectdata.Empty("p2", "preview"))
		q.listErr = errors.New("db down")
		err := c.InvalidateProject(ctx, "p2")
		assert.Error(t, err)
		_, ok := c.Get("p2", "preview")
		assert.False(t, ok)
		_, ok = c.Get("p2", "production")
		assert.False(t, ok)
	})
}

func TestCache_EpochsStayBounded(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	q.put("p1", "production", flagDoc(true))

	c := New(q, 20*time.Millisecond)
	t.Cleanup(c.Close)

	for i := range 100 {
		c.Invalidate("p1", strconv.Itoa(i))
	}
	_, err := c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	require.NoError(t, c.InvalidateProject(ctx, "p1"))

	_, err = c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.epochs) == 0
	}, time.Second, 5*time.Millisecond, "expired keys are forgotten")

	t.Run("a stale fetch is still discarded after its key is forgotten", func(t *testing.T) {
		q.put("p1", "staging", flagDoc(false))
		entered, release := q.blockNext()
		staleDone := make(chan struct{})
		go func() {
			defer close(staleDone)
			_, _ = c.Load(ctx, "p1", "staging")
		}()
		<-entered
		c.Invalidate("p1", "staging")
		release()
		<-staleDone
		_, ok := c.Get("p1", "staging")
		assert.False(t, ok)
	})
}

type recordingBroadcaster struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (b *recordingBroadcaster) NotifyConfigInvalidated(_ context.Context, projectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, projectID)
	return b.err
}

func TestCache_InvalidateProjectBroadcasts(t *testing.T) {
	ctx := context.Background()
	b := &recordingBroadcaster{}
	c := New(newMockQuerier(), time.Minute, WithBroadcaster(b))
	t.Cleanup(c.Close)

	c.Set(projectdata.Empty("p1", "production"))
	require.NoError(t, c.InvalidateProject(ctx, "p1"))
	_, ok := c.Get("p1", "production")
	assert.False(t, ok)
	assert.Equal(t, []string{"p1"}, b.ids)

	b.err = errors.New("db down")
	c.Set(projectdata.Empty("p1", "production"))
	assert.Error(t, c.InvalidateProject(ctx, "p1"))
	_, ok = c.Get("p1", "production")
	assert.False(t, ok, "the local copy is dropped even when broadcasting fails")
}

// fakeSource lets a test admit subscriptions, deliver notifications and
// break the subscription.
type fakeSource struct {
	admit   chan struct{}
	notes   chan string
	applied chan struct{}
	fail    chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		admit:   make(chan struct{}, 4),
		notes:   make(chan string),
		applied: make(chan struct{}),
		fail:    make(chan error),
	}
}

func (f *fakeSource) ListenConfigInvalidations(ctx context.Context, ready func(), notify func(string)) error {
	select {
	case <-f.admit:
	case <-ctx.Done():
		return ctx.Err()
	}
	ready()
	for {
		select {
		case id := <-f.notes:
			notify(id)
			f.applied <- struct{}{}
		case err := <-f.fail:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestCache_WatchAppliesRemoteInvalidations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newMockQuerier()
	q.put("p1", "production", flagDoc(true))
	c := New(q, time.Minute)
	c.retryDelay = 5 * time.Millisecond
	t.Cleanup(c.Close)

	src := newFakeSource()
	c.StartWatching(ctx, src)

	watching := func() bool { return !c.readThrough.Load() }

	// Not subscribed yet: every load goes to configdb.
	for range 2 {
		_, err := c.Load(ctx, "p1", "production")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), q.getCalls.Load())
	_, ok := c.Get("p1", "production")
	assert.False(t, ok)

	src.admit <- struct{}{}
	require.Eventually(t, watching, time.Second, time.Millisecond)

	s, err := c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	assert.True(t, flagValue(t, s))
	_, ok = c.Get("p1", "production")
	require.True(t, ok)

	// A write made by another process.
	q.put("p1", "production", flagDoc(false))
	src.notes <- "p1"
	<-src.applied
	_, ok = c.Get("p1", "production")
	assert.False(t, ok)
	s, err = c.Load(ctx, "p1", "production")
	require.NoError(t, err)
	assert.False(t, flagValue(t, s))

	t.Run("a lost subscription empties the cache and reads through", func(t *testing.T) {
		src.fail <- errors.New("connection reset")
		require.Eventually(t, func() bool { return !watching() }, time.Second, time.Millisecond)
		_, ok := c.Get("p1", "production")
		assert.False(t, ok)

		before := q.getCalls.Load()
		_, err := c.Load(ctx, "p1", "production")
		require.NoError(t, err)
		_, ok = c.Get("p1", "production")
		assert.False(t, ok)
		assert.Equal(t, before+1, q.getCalls.Load())

		src.admit <- struct{}{}
		require.Eventually(t, watching, time.Second, time.Millisecond)
	})
}

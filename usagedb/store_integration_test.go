//go:build integration

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

package usagedb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/testhelpers"
	"github.com/cardinalhq/flagrunner/usagedb"
)

func overLimit(limit int64) func(prev, count int64) string {
	return func(prev, count int64) string {
		if prev <= limit && count > limit {
			return "overage"
		}
		return ""
	}
}

func TestRecordUsageEvent(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewTestUsageDBStore(t)
	period := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	record := func(id string) usagedb.RecordUsageEventResult {
		res, err := store.RecordUsageEvent(ctx, usagedb.RecordUsageEventParams{
			ID:          id,
			ProjectID:   "p1",
			EventType:   "ACT",
			DurationMs:  12,
			OccurredAt:  period.Add(time.Hour),
			PeriodStart: period,
			Classify:    overLimit(2),
		})
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, int64(1), record("e1").Count)
	assert.Equal(t, int64(2), record("e2").Count)

	res := record("e3")
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, "overage", res.Threshold)
	assert.False(t, res.Duplicate)

	t.Run("redelivery does not count twice", func(t *testing.T) {
		res := record("e3")
		assert.True(t, res.Duplicate)
		assert.Equal(t, int64(3), res.Count)
		assert.Equal(t, "overage", res.Threshold)
		assert.False(t, res.Notified)

		require.NoError(t, store.MarkUsageEventNotified(ctx, "e3"))
		assert.True(t, record("e3").Notified)
	})

	t.Run("later events stay quiet", func(t *testing.T) {
		res := record("e4")
		assert.Equal(t, int64(4), res.Count)
		assert.Empty(t, res.Threshold)
	})
}

func TestRecordUsageEvent_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewTestUsageDBStore(t)
	period := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordUsageEvent(ctx, usagedb.RecordUsageEventParams{
				ID:          uuid.NewString(),
				ProjectID:   "p1",
				EventType:   "PING",
				OccurredAt:  period,
				PeriodStart: period,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.GetUsageCounter(ctx, usagedb.GetUsageCounterParams{ProjectID: "p1", PeriodStart: period})
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func TestAPIRequestsAndRateCounters(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewTestUsageDBStore(t)

	for range 2 {
		require.NoError(t, store.InsertAPIRequest(ctx, usagedb.InsertAPIRequestParams{
			ID:          uuid.New(),
			EventID:     "e1",
			ProjectID:   "p1",
			RequestType: "TRACK_VIEW",
			ApiVersion:  "V1",
		}))
	}
	n, err := store.CountAPIRequests(ctx, usagedb.CountAPIRequestsParams{ProjectID: "p1", RequestType: "TRACK_VIEW"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	window := time.Now().UTC().Truncate(time.Hour)
	for i := int64(1); i <= 3; i++ {
		got, err := store.IncrementRateCounter(ctx, usagedb.IncrementRateCounterParams{
			Key:         "tools:ab-testing:abc",
			WindowStart: window,
			ExpiresAt:   window.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	deleted, err := store.DeleteExpiredRateCounters(ctx, window.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

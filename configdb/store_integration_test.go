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

package configdb_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/configdb"
	"github.com/cardinalhq/flagrunner/testhelpers"
)

func TestPublishSnapshot(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewTestConfigDBStore(t)

	doc := json.RawMessage(`{"tests":[{"name":"t","weights":[1,1]}],"flags":[],"remoteConfig":[]}`)
	require.NoError(t, store.PublishSnapshot(ctx, configdb.PublishSnapshotParams{
		ProjectID: "p1", Environment: "production", Plan: "STARTUP", Document: doc,
	}))
	require.NoError(t, store.PublishSnapshot(ctx, configdb.PublishSnapshotParams{
		ProjectID: "p1", Environment: "staging", Plan: "PRO", Document: doc,
	}))

	plan, err := store.GetProjectPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "STARTUP", plan, "an existing project keeps its plan")

	envs, err := store.ListProjectEnvironments(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"production", "staging"}, envs)

	snap, err := store.GetProjectSnapshot(ctx, configdb.GetProjectSnapshotParams{ProjectID: "p1", Environment: "production"})
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(snap.Document))
	assert.False(t, snap.UpdatedAt.IsZero())

	require.NoError(t, store.DeleteProjectSnapshot(ctx, configdb.DeleteProjectSnapshotParams{ProjectID: "p1", Environment: "staging"}))
	_, err = store.GetProjectSnapshot(ctx, configdb.GetProjectSnapshotParams{ProjectID: "p1", Environment: "staging"})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = store.GetProjectPlan(ctx, "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestPublishSnapshot_NotifiesListeners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := testhelpers.NewTestConfigDBStore(t)

	ready := make(chan struct{})
	got := make(chan string, 4)
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- store.ListenConfigInvalidations(ctx,
			func() { close(ready) },
			func(projectID string) { got <- projectID })
	}()

	select {
	case <-ready:
	case err := <-listenDone:
		t.Fatalf("listener stopped: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener never became ready")
	}

	doc := json.RawMessage(`{"tests":[],"flags":[],"remoteConfig":[]}`)
	require.NoError(t, store.PublishSnapshot(ctx, configdb.PublishSnapshotParams{
		ProjectID: "p1", Environment: "production", Plan: "STARTUP", Document: doc,
	}))
	require.NoError(t, store.NotifyConfigInvalidated(ctx, "p2"))

	for _, want := range []string{"p1", "p2"} {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(10 * time.Second):
			t.Fatalf("no notification for %s", want)
		}
	}

	cancel()
	assert.Error(t, <-listenDone)
}

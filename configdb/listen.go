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

package configdb

import (
	"context"
	"fmt"
)

// ConfigInvalidationChannel is the Postgres notification channel that
// carries the ID of every project whose configuration changed.
const ConfigInvalidationChannel = "flagrunner_config_invalidated"

// ListenConfigInvalidations holds one dedicated connection in LISTEN
// mode. ready is called once the subscription is active; notify is
// called with the project ID of each notification, in order. It returns
// when ctx ends or the connection fails.
func (store *Store) ListenConfigInvalidations(ctx context.Context, ready func(), notify func(projectID string)) error {
	pooled, err := store.connPool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	// A LISTENing connection must not go back to the pool.
	conn := pooled.Hijack()
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	if _, err := conn.Exec(ctx, "LISTEN "+ConfigInvalidationChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", ConfigInvalidationChannel, err)
	}
	ready()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		notify(n.Payload)
	}
}

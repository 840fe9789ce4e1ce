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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides all functions to execute db queries and transactions
type Store struct {
	*Queries
	connPool *pgxpool.Pool
}

func NewStore(connPool *pgxpool.Pool) *Store {
	return &Store{
		Queries:  New(connPool),
		connPool: connPool,
	}
}

func (store *Store) Pool() *pgxpool.Pool {
	return store.connPool
}

func (store *Store) Close() {
	if store.connPool != nil {
		store.connPool.Close()
	}
}

// PublishSnapshotParams describes a snapshot write. Plan is applied only
// when the project does not exist yet.
type PublishSnapshotParams struct {
	ProjectID   string
	Environment string
	Plan        string
	Document    json.RawMessage
}

// PublishSnapshot stores a project environment's document, creating the
// project row when needed, and signals every cache listening on
// ConfigInvalidationChannel in the same transaction.
func (store *Store) PublishSnapshot(ctx context.Context, arg PublishSnapshotParams) error {
	return store.execTx(ctx, func(s *Store) error {
		plan, err := s.GetProjectPlan(ctx, arg.ProjectID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			plan = arg.Plan
		case err != nil:
			return fmt.Errorf("looking up project %s: %w", arg.ProjectID, err)
		}
		if plan == "" {
			plan = "HOBBY"
		}
		if err := s.UpsertProject(ctx, UpsertProjectParams{ID: arg.ProjectID, Plan: plan}); err != nil {
			return fmt.Errorf("upserting project %s: %w", arg.ProjectID, err)
		}
		if err := s.UpsertProjectSnapshot(ctx, UpsertProjectSnapshotParams{
			ProjectID:   arg.ProjectID,
			Environment: arg.Environment,
			Document:    arg.Document,
		}); err != nil {
			return err
		}
		// Delivered to every listener when the transaction commits.
		return s.NotifyConfigInvalidated(ctx, arg.ProjectID)
	})
}

func (store *Store) execTx(ctx context.Context, fn func(*Store) error) (err error) {
	tx, err := store.connPool.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Never roll back on the caller ctx, it may already be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
	}()

	if err = fn(&Store{Queries: store.WithTx(tx), connPool: store.connPool}); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

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

package usagedb

import (
	"context"
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

// RecordUsageEventParams carries one event into RecordUsageEvent.
// Classify maps the counter transition prev -> count to a threshold
// name, or "" when none was crossed.
type RecordUsageEventParams struct {
	ID          string
	ProjectID   string
	EventType   string
	DurationMs  int64
	OccurredAt  time.Time
	PeriodStart time.Time
	Classify    func(prev, count int64) string
}

type RecordUsageEventResult struct {
	// Duplicate is set when the event id was already stored. The counter
	// was not touched and Threshold/Notified reflect the stored row.
	Duplicate bool
	Count     int64
	Threshold string
	Notified  bool
}

// RecordUsageEvent persists an event and increments its project's period
// counter in one transaction.
func (store *Store) RecordUsageEvent(ctx context.Context, arg RecordUsageEventParams) (RecordUsageEventResult, error) {
	var res RecordUsageEventResult
	err := store.execTx(ctx, func(s *Store) error {
		res = RecordUsageEventResult{}
		inserted, err := s.InsertUsageEvent(ctx, InsertUsageEventParams{
			ID:          arg.ID,
			ProjectID:   arg.ProjectID,
			EventType:   arg.EventType,
			DurationMs:  arg.DurationMs,
			OccurredAt:  arg.OccurredAt,
			PeriodStart: arg.PeriodStart,
		})
		if err != nil {
			return fmt.Errorf("inserting usage event %s: %w", arg.ID, err)
		}

		if inserted == 0 {
			row, err := s.GetUsageEvent(ctx, arg.ID)
			if err != nil {
				return fmt.Errorf("reading usage event %s: %w", arg.ID, err)
			}
			count, err := s.GetUsageCounter(ctx, GetUsageCounterParams{
				ProjectID:   row.ProjectID,
				PeriodStart: row.PeriodStart,
			})
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("reading usage counter: %w", err)
			}
			res.Duplicate = true
			res.Count = count
			res.Threshold = row.Threshold
			res.Notified = row.Notified
			return nil
		}

		count, err := s.IncrementUsageCounter(ctx, IncrementUsageCounterParams{
			ProjectID:   arg.ProjectID,
			PeriodStart: arg.PeriodStart,
		})
		if err != nil {
			return fmt.Errorf("incrementing usage counter: %w", err)
		}
		res.Count = count

		if arg.Classify == nil {
			return nil
		}
		if threshold := arg.Classify(count-1, count); threshold != "" {
			if err := s.SetUsageEventThreshold(ctx, SetUsageEventThresholdParams{
				Threshold: threshold,
				ID:        arg.ID,
			}); err != nil {
				return fmt.Errorf("storing threshold for %s: %w", arg.ID, err)
			}
			res.Threshold = threshold
		}
		return nil
	})
	return res, err
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

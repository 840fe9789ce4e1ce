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
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/flagrunner/usagedb"
)

// RateCounterQuerier is the usagedb surface Postgres needs.
type RateCounterQuerier interface {
	IncrementRateCounter(ctx context.Context, arg usagedb.IncrementRateCounterParams) (int64, error)
	GetRateCounter(ctx context.Context, arg usagedb.GetRateCounterParams) (int64, error)
	DeleteExpiredRateCounters(ctx context.Context, now time.Time) (int64, error)
}

// Postgres keeps counters in the rate_counters table, so every replica
// sees the same values.
type Postgres struct {
	q RateCounterQuerier
}

var _ Store = (*Postgres)(nil)

func NewPostgres(q RateCounterQuerier) *Postgres {
	return &Postgres{q: q}
}

func (p *Postgres) Increment(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) (int64, error) {
	return p.q.IncrementRateCounter(ctx, usagedb.IncrementRateCounterParams{
		Key:         key,
		WindowStart: windowStart,
		ExpiresAt:   windowStart.Add(ttl),
	})
}

func (p *Postgres) Get(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	n, err := p.q.GetRateCounter(ctx, usagedb.GetRateCounterParams{Key: key, WindowStart: windowStart})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (p *Postgres) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return p.q.DeleteExpiredRateCounters(ctx, now)
}

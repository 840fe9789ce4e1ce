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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/flagrunner/internal/dbopen"
	usagedbmigrations "github.com/cardinalhq/flagrunner/usagedb/migrations"
)

// ConnectToUsageDB opens the pool described by USAGEDB_* variables.
func ConnectToUsageDB(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error) {
	return dbopen.Open(ctx, "USAGEDB", usagedbmigrations.CheckVersion, opts...)
}

func UsageDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToUsageDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}

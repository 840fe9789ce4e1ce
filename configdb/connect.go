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

	"github.com/jackc/pgx/v5/pgxpool"

	configdbmigrations "github.com/cardinalhq/flagrunner/configdb/migrations"
	"github.com/cardinalhq/flagrunner/internal/dbopen"
)

// ConnectToConfigDB opens the pool described by CONFIGDB_* variables.
func ConnectToConfigDB(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error) {
	return dbopen.Open(ctx, "CONFIGDB", configdbmigrations.CheckVersion, opts...)
}

func ConfigDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToConfigDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}

// ConfigDBStoreForAdmin connects with migration checking that warns and
// continues instead of failing on a mismatch.
func ConfigDBStoreForAdmin(ctx context.Context) (*Store, error) {
	pool, err := ConnectToConfigDB(ctx, dbopen.WarnOnMigrationMismatch())
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}

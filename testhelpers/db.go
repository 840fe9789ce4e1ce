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

// Package testhelpers provides disposable Postgres databases for
// integration tests. One gnomock container is started per test binary
// and every test gets its own freshly migrated database in it.
package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/postgres"

	"github.com/cardinalhq/flagrunner/configdb"
	configdbmigrations "github.com/cardinalhq/flagrunner/configdb/migrations"
	"github.com/cardinalhq/flagrunner/usagedb"
	usagedbmigrations "github.com/cardinalhq/flagrunner/usagedb/migrations"
)

const (
	pgUser     = "flagrunner"
	pgPassword = "flagrunner"
	pgBaseDB   = "flagrunner"
)

var (
	containerOnce sync.Once
	container     *gnomock.Container
	containerErr  error
)

// postgresAddress starts the shared container on first use. Tests are
// skipped when no container runtime is available.
func postgresAddress(t *testing.T) string {
	t.Helper()
	containerOnce.Do(func() {
		container, containerErr = gnomock.Start(
			postgres.Preset(
				postgres.WithUser(pgUser, pgPassword),
				postgres.WithDatabase(pgBaseDB),
				postgres.WithVersion("16"),
			),
		)
	})
	if containerErr != nil {
		t.Skipf("postgres container unavailable: %v", containerErr)
	}
	return container.DefaultAddress()
}

func connString(addr, db string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, addr, db)
}

// setupDatabase creates a uniquely named database, applies migrate and
// drops it again when the test ends.
func setupDatabase(t *testing.T, kind string, migrate func(context.Context, *pgxpool.Pool) error) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	addr := postgresAddress(t)
	dbName := fmt.Sprintf("test_%s_%d_%d", kind, time.Now().Unix(), rand.IntN(100000))

	basePool, err := pgxpool.New(ctx, connString(addr, pgBaseDB))
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}
	if _, err := basePool.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		basePool.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	testPool, err := pgxpool.New(ctx, connString(addr, dbName))
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Cleanup(func() {
		testPool.Close()
		if _, err := basePool.Exec(context.Background(), "DROP DATABASE IF EXISTS "+dbName); err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}
		basePool.Close()
	})

	if err := migrate(ctx, testPool); err != nil {
		t.Fatalf("Failed to run %s migrations: %v", kind, err)
	}
	return testPool
}

// NewTestConfigDBStore creates a configdb store on a fresh database.
func NewTestConfigDBStore(t *testing.T) *configdb.Store {
	return configdb.NewStore(setupDatabase(t, "configdb", configdbmigrations.RunMigrationsUp))
}

// NewTestUsageDBStore creates a usagedb store on a fresh database.
func NewTestUsageDBStore(t *testing.T) *usagedb.Store {
	return usagedb.NewStore(setupDatabase(t, "usagedb", usagedbmigrations.RunMigrationsUp))
}

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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/configdb"
	configdbmigrations "github.com/cardinalhq/flagrunner/configdb/migrations"
	"github.com/cardinalhq/flagrunner/internal/dbopen"
	"github.com/cardinalhq/flagrunner/usagedb"
	usagedbmigrations "github.com/cardinalhq/flagrunner/usagedb/migrations"
)

var databases string

func init() {
	MigrateCmd.Flags().StringVar(&databases, "databases", "configdb,usagedb", "Comma-separated list of databases to migrate (configdb,usagedb)")
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  "Run database migrations on specified databases",
	RunE:  migrate,
}

type migrationTarget struct {
	connect func(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error)
	up      func(ctx context.Context, pool *pgxpool.Pool) error
}

var migrationTargets = map[string]migrationTarget{
	"configdb": {connect: configdb.ConnectToConfigDB, up: configdbmigrations.RunMigrationsUp},
	"usagedb":  {connect: usagedb.ConnectToUsageDB, up: usagedbmigrations.RunMigrationsUp},
}

func migrate(_ *cobra.Command, _ []string) error {
	var errs []error
	for _, db := range strings.Split(databases, ",") {
		db = strings.TrimSpace(db)
		target, ok := migrationTargets[db]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown database: %s", db))
			continue
		}
		slog.Info("Running migrations", slog.String("database", db))
		if err := runMigrations(target); err != nil {
			errs = append(errs, fmt.Errorf("failed to migrate %s: %w", db, err))
			continue
		}
		slog.Info("Migrations completed", slog.String("database", db))
	}
	return errors.Join(errs...)
}

func runMigrations(target migrationTarget) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := target.connect(ctx, dbopen.SkipMigrationCheck())
	if err != nil {
		return err
	}
	defer pool.Close()
	return target.up(ctx, pool)
}

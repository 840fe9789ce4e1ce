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

// Package migrations applies and verifies embedded golang-migrate
// schemas. Each database package embeds its own files and names its own
// migrations table.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Schema describes one database's embedded migrations.
type Schema struct {
	Name  string // for logs and errors
	Table string // golang-migrate bookkeeping table
	Files fs.FS
}

// withMigrate runs fn against a migrate instance bound to pool.
func (s Schema) withMigrate(pool *pgxpool.Pool, fn func(*migrate.Migrate) error) error {
	sourceDriver, err := iofs.New(s.Files, ".")
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = sqlDB.Close()
	}()

	dbDriver, err := pgx.WithInstance(sqlDB, &pgx.Config{
		MigrationsTable: s.Table,
	})
	if err != nil {
		return fmt.Errorf("failed to create pgx driver: %w", err)
	}
	defer func() {
		_ = dbDriver.Close()
	}()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return fn(m)
}

// Up applies every pending up migration. A dirty schema is refused.
func (s Schema) Up(ctx context.Context, pool *pgxpool.Pool) error {
	return s.withMigrate(pool, func(m *migrate.Migrate) error {
		_, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get current version: %w", err)
		}
		if dirty {
			return fmt.Errorf("%s migration is dirty, please fix it before proceeding", s.Name)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("%s migration failed: %w", s.Name, err)
		}
		slog.Info("Migrations applied", slog.String("database", s.Name))
		return nil
	})
}

func (s Schema) currentVersion(pool *pgxpool.Pool) (version uint, dirty bool, err error) {
	err = s.withMigrate(pool, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			version, dirty = 0, false
			return nil
		}
		return verr
	})
	return version, dirty, err
}

// LatestVersion returns the highest version among the embedded
// "<version>_<name>.up.sql" files.
func (s Schema) LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(s.Files, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		maxVersion = max(maxVersion, version)
	}

	if maxVersion == 0 {
		return 0, errors.New("no valid migration files found")
	}
	return uint(maxVersion), nil
}

// CheckVersion compares the schema version with the newest embedded
// migration according to opts.
func (s Schema) CheckVersion(ctx context.Context, pool *pgxpool.Pool, opts ...CheckOption) error {
	o := DefaultCheckOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Mode == CheckModeSkip {
		slog.Debug("Migration version check skipped", slog.String("database", s.Name))
		return nil
	}

	expected, err := s.LatestVersion()
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version for %s: %w", s.Name, err)
	}

	deadline := time.Now().Add(o.Timeout)
	ticker := time.NewTicker(o.RetryInterval)
	defer ticker.Stop()

	for {
		current, dirty, err := s.currentVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to get current migration version for %s: %w", s.Name, err)
		}

		mismatch := checkResult(s.Name, current, expected, dirty, o.AllowDirty)
		switch {
		case mismatch == nil:
			slog.Info("Migration version check passed",
				slog.String("database", s.Name),
				slog.Uint64("version", uint64(current)))
			return nil
		case o.Mode == CheckModeWarn:
			slog.Warn("Migration version mismatch, continuing",
				slog.String("database", s.Name),
				slog.Any("error", mismatch))
			return nil
		case dirty || current > expected:
			return mismatch
		case time.Now().After(deadline):
			return fmt.Errorf("timeout waiting for %s migration to complete: %w", s.Name, mismatch)
		}

		slog.Info("Waiting for migrations to complete",
			slog.String("database", s.Name),
			slog.Uint64("currentVersion", uint64(current)),
			slog.Uint64("expectedVersion", uint64(expected)),
			slog.Duration("remainingTimeout", time.Until(deadline)))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for %s migrations: %w", s.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func checkResult(name string, current, expected uint, dirty, allowDirty bool) error {
	if dirty && !allowDirty {
		return fmt.Errorf("database %s migration is in dirty state", name)
	}
	switch {
	case current > expected:
		return fmt.Errorf("database %s version %d is newer than expected version %d", name, current, expected)
	case current < expected:
		return fmt.Errorf("database %s version %d is older than expected version %d", name, current, expected)
	}
	return nil
}

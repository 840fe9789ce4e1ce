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

// Package dbopen turns PREFIX_* environment variables into a traced
// pgx pool whose schema version has been checked.
package dbopen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/cardinalhq/flagrunner/migrations"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// GetDatabaseURLFromEnv returns PREFIX_URL when set. Otherwise it builds
// a PostgreSQL URL from PREFIX_HOST, PREFIX_PORT (default 5432),
// PREFIX_USER, PREFIX_PASSWORD, PREFIX_DBNAME and PREFIX_SSLMODE. HOST
// and DBNAME are required.
func GetDatabaseURLFromEnv(prefix string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	env := func(name string) string { return os.Getenv(prefix + name) }

	if u := env("URL"); u != "" {
		return u, nil
	}

	var missing []string
	for _, name := range []string{"HOST", "DBNAME"} {
		if env(name) == "" {
			missing = append(missing, prefix+name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	port := env("PORT")
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgresql",
		Host:   env("HOST") + ":" + port,
		Path:   env("DBNAME"),
	}
	switch user, pass := env("USER"), env("PASSWORD"); {
	case user != "" && pass != "":
		u.User = url.UserPassword(user, pass)
	case user != "":
		u.User = url.User(user)
	}

	q := u.Query()
	if sslmode := env("SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	if name := applicationName(os.Getenv("OTEL_SERVICE_NAME")); name != "" {
		q.Set("application_name", name)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// applicationName reduces a service name to what Postgres accepts as an
// application_name: at most 63 bytes of [A-Za-z0-9_-].
func applicationName(service string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, service)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// NewPool creates a pgx pool whose queries are traced under name.
func NewPool(ctx context.Context, url, name string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: name,
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// VersionChecker verifies a database schema before its pool is used.
type VersionChecker func(ctx context.Context, pool *pgxpool.Pool, opts ...migrations.CheckOption) error

// Open connects to the database described by PREFIX_* variables and
// runs check against it. The pool is closed if the check fails.
func Open(ctx context.Context, prefix string, check VersionChecker, opts ...Options) (*pgxpool.Pool, error) {
	connectionString, err := GetDatabaseURLFromEnv(prefix)
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("failed to get %s connection string: %w", prefix, err))
	}

	pool, err := NewPool(ctx, connectionString, strings.ToLower(prefix))
	if err != nil {
		return nil, err
	}

	var checkOpts []migrations.CheckOption
	for _, o := range opts {
		checkOpts = append(checkOpts, o.MigrationCheckOptions...)
	}
	if err := check(ctx, pool, checkOpts...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s migration version check failed: %w", prefix, err)
	}
	return pool, nil
}

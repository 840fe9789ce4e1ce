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

package dbopen

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/migrations"
)

func TestGetDatabaseURLFromEnv(t *testing.T) {
	t.Run("explicit URL wins", func(t *testing.T) {
		t.Setenv("USAGEDB_URL", "postgresql://u@h/db")
		t.Setenv("USAGEDB_HOST", "ignored")
		got, err := GetDatabaseURLFromEnv("USAGEDB")
		require.NoError(t, err)
		assert.Equal(t, "postgresql://u@h/db", got)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := GetDatabaseURLFromEnv("NOSUCHDB_")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOSUCHDB_HOST")
		assert.Contains(t, err.Error(), "NOSUCHDB_DBNAME")
	})

	t.Run("parts", func(t *testing.T) {
		t.Setenv("OTEL_SERVICE_NAME", "flagrunner ingest")
		t.Setenv("CONFIGDB_HOST", "db")
		t.Setenv("CONFIGDB_DBNAME", "config")
		t.Setenv("CONFIGDB_USER", "flag")
		t.Setenv("CONFIGDB_PASSWORD", "p@ss")
		t.Setenv("CONFIGDB_SSLMODE", "require")
		got, err := GetDatabaseURLFromEnv("CONFIGDB")
		require.NoError(t, err)
		assert.Equal(t, "postgresql://flag:p%40ss@db:5432/config?application_name=flagrunner_ingest&sslmode=require", got)
	})
}

func TestApplicationName(t *testing.T) {
	assert.Equal(t, "a_b-c", applicationName("a.b-c"))
	assert.Len(t, applicationName(strings.Repeat("x", 100)), 63)
	assert.Empty(t, applicationName(""))
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want migrations.CheckMode
	}{
		{"skip", SkipMigrationCheck(), migrations.CheckModeSkip},
		{"warn", WarnOnMigrationMismatch(), migrations.CheckModeWarn},
		{"wait", WaitForMigrations(), migrations.CheckModeWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := migrations.DefaultCheckOptions()
			for _, o := range tt.opts.MigrationCheckOptions {
				o(&got)
			}
			assert.Equal(t, tt.want, got.Mode)
		})
	}
}

func TestOpen_NotConfigured(t *testing.T) {
	called := false
	check := func(context.Context, *pgxpool.Pool, ...migrations.CheckOption) error {
		called = true
		return nil
	}
	_, err := Open(context.Background(), "NOSUCHDB", check)
	require.ErrorIs(t, err, ErrDatabaseNotConfigured)
	assert.False(t, called)
}

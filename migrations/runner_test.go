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

package migrations

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	s := Schema{Name: "test", Files: fstest.MapFS{
		"1751000000_initial.up.sql":   {Data: []byte("SELECT 1;")},
		"1751000000_initial.down.sql": {Data: []byte("SELECT 1;")},
		"1752000000_more.up.sql":      {Data: []byte("SELECT 1;")},
		"README.md":                   {Data: []byte("x")},
		"notaversion_x.up.sql":        {Data: []byte("x")},
	}}
	got, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1752000000), got)

	_, err = Schema{Files: fstest.MapFS{}}.LatestVersion()
	assert.Error(t, err)
}

func TestCheckResult(t *testing.T) {
	assert.NoError(t, checkResult("db", 5, 5, false, false))
	assert.Error(t, checkResult("db", 5, 5, true, false))
	assert.NoError(t, checkResult("db", 5, 5, true, true))
	assert.ErrorContains(t, checkResult("db", 6, 5, false, false), "newer")
	assert.ErrorContains(t, checkResult("db", 4, 5, false, false), "older")
}

func TestCheckVersion_Skip(t *testing.T) {
	// A nil pool is never touched when checking is skipped.
	err := Schema{Name: "test"}.CheckVersion(context.Background(), nil, WithCheckMode(CheckModeSkip))
	assert.NoError(t, err)
}

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

import "github.com/cardinalhq/flagrunner/migrations"

// Options adjusts how a connection is opened.
type Options struct {
	MigrationCheckOptions []migrations.CheckOption
}

// SkipMigrationCheck is used by the migrate command, which brings the
// schema up to date itself.
func SkipMigrationCheck() Options {
	return Options{MigrationCheckOptions: []migrations.CheckOption{
		migrations.WithCheckMode(migrations.CheckModeSkip),
	}}
}

// WarnOnMigrationMismatch logs a version mismatch and continues.
func WarnOnMigrationMismatch() Options {
	return Options{MigrationCheckOptions: []migrations.CheckOption{
		migrations.WithCheckMode(migrations.CheckModeWarn),
	}}
}

// WaitForMigrations blocks until the schema reaches the expected version.
func WaitForMigrations() Options {
	return Options{MigrationCheckOptions: []migrations.CheckOption{
		migrations.WithCheckMode(migrations.CheckModeWait),
	}}
}

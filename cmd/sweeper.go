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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/cmd/sweeper"
	"github.com/cardinalhq/flagrunner/config"
	"github.com/cardinalhq/flagrunner/internal/counterstore"
	"github.com/cardinalhq/flagrunner/internal/healthcheck"
	"github.com/cardinalhq/flagrunner/usagedb"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Remove expired rate counter windows",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry("flagrunner-sweeper")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			udb, err := usagedb.UsageDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to usagedb: %w", err)
			}
			defer udb.Close()

			healthServer := healthcheck.NewServer(cfg.Health)
			healthServer.AddCheck("usagedb", func(ctx context.Context) error { return udb.Pool().Ping(ctx) })
			go func() { _ = healthServer.Start(ctx) }()
			healthServer.SetStatus(healthcheck.StatusHealthy)

			return sweeper.New(counterstore.NewPostgres(udb), cfg.Sweeper.Interval).Run(ctx)
		},
	}
	rootCmd.AddCommand(cmd)
}

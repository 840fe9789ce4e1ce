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
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/configdb"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
)

func init() {
	var (
		projectID   string
		environment string
		plan        string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a project data document to configdb",
		Long: `Validate a project data document and store it as the snapshot for one
project environment. Every data API replica drops its cached copies of the
project when the write commits.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			doc, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if _, err := projectdata.Decode(doc, projectID, environment); err != nil {
				return fmt.Errorf("invalid document %s: %w", file, err)
			}

			cdb, err := configdb.ConfigDBStoreForAdmin(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to configdb: %w", err)
			}
			defer cdb.Close()

			if err := cdb.PublishSnapshot(ctx, configdb.PublishSnapshotParams{
				ProjectID:   projectID,
				Environment: environment,
				Plan:        strings.ToUpper(plan),
				Document:    doc,
			}); err != nil {
				return err
			}
			slog.Info("Published snapshot",
				slog.String("projectID", projectID),
				slog.String("environment", environment))
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&environment, "environment", "production", "Environment name")
	cmd.Flags().StringVar(&plan, "plan", "", "Plan for a new project (HOBBY when empty)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Project data JSON document")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("file")

	rootCmd.AddCommand(cmd)
}

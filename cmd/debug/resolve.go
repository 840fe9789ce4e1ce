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

// Package debug holds troubleshooting commands that run against a live
// data API.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrunner/pkg/flagclient"
	"github.com/cardinalhq/flagrunner/pkg/overrides"
	"github.com/cardinalhq/flagrunner/pkg/projectdata"
	"github.com/cardinalhq/flagrunner/pkg/resolver"
)

// ResolveOutput is what the resolve command prints.
type ResolveOutput struct {
	ProjectID    string                       `json:"projectId"`
	Environment  string                       `json:"environment"`
	Identity     string                       `json:"identity,omitempty"`
	Generation   uint64                       `json:"generation"`
	Tests        map[string]resolver.Decision `json:"tests,omitempty"`
	Flags        map[string]any               `json:"flags,omitempty"`
	RemoteConfig map[string]any               `json:"remoteConfig,omitempty"`
	Overrides    overrides.Map                `json:"overrides,omitempty"`
}

// parseTestSpecs turns "name=A,B,C" arguments into variant names.
func parseTestSpecs(specs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(specs))
	for _, spec := range specs {
		name, variants, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			out[spec] = nil
			continue
		}
		if variants == "" {
			return nil, fmt.Errorf("test %q has no variants", name)
		}
		out[name] = strings.Split(variants, ",")
	}
	return out, nil
}

// parseKindSpecs turns "name" or "name:KIND" arguments into declared
// kinds. Bare names are left to the client's default kind.
func parseKindSpecs(specs []string) (names []string, kinds map[string]projectdata.Kind, err error) {
	kinds = map[string]projectdata.Kind{}
	for _, spec := range specs {
		name, kind, ok := strings.Cut(spec, ":")
		names = append(names, name)
		if !ok {
			continue
		}
		if kinds[name], err = projectdata.ParseKind(kind); err != nil {
			return nil, nil, err
		}
	}
	return names, kinds, nil
}

func GetResolveCmd() *cobra.Command {
	var (
		cfg           flagclient.Config
		identity      string
		testSpecs     []string
		flags         []string
		remoteConfigs []string
		overridesFile string
		hashed        bool
		emit          bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fetch a project snapshot and resolve tests, flags and remote config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tests, err := parseTestSpecs(testSpecs)
			if err != nil {
				return err
			}
			cfg.Tests = tests
			flagNames, flagKinds, err := parseKindSpecs(flags)
			if err != nil {
				return err
			}
			rcNames, rcKinds, err := parseKindSpecs(remoteConfigs)
			if err != nil {
				return err
			}
			cfg.Flags, cfg.RemoteConfig = flagKinds, rcKinds
			cfg.DisableEvents = !emit
			if hashed {
				cfg.Draw = resolver.HashedDraw
			}

			rt := flagclient.NewRuntime()
			defer rt.Close()
			client, err := rt.NewClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, err := client.Load(ctx)
			if err != nil {
				return err
			}

			if overridesFile == "" {
				if overridesFile, err = overrides.DefaultFilePath(); err != nil {
					return err
				}
			}
			ov := overrides.NewFileStore(overridesFile).Load()
			client.SetOverrides(ov)

			out := ResolveOutput{
				ProjectID:   cfg.ProjectID,
				Environment: cfg.Environment,
				Identity:    identity,
				Generation:  store.Generation(),
				Overrides:   ov,
			}
			if len(tests) > 0 {
				out.Tests = make(map[string]resolver.Decision, len(tests))
				for name := range tests {
					out.Tests[name] = client.Test(ctx, identity, name)
				}
			}
			if len(flagNames) > 0 {
				out.Flags = make(map[string]any, len(flagNames))
				for _, name := range flagNames {
					out.Flags[name] = client.Flag(name).Any()
				}
			}
			if len(rcNames) > 0 {
				out.RemoteConfig = make(map[string]any, len(rcNames))
				for _, name := range rcNames {
					out.RemoteConfig[name] = client.RemoteConfig(name).Any()
				}
			}

			if err := client.Close(ctx); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&cfg.APIURL, "api-url", "http://localhost:8080", "Data API base URL")
	cmd.Flags().StringVar(&cfg.CDNURL, "cdn-url", "", "CDN base URL to fetch snapshots from instead")
	cmd.Flags().StringVar(&cfg.ProjectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&cfg.Environment, "environment", "production", "Environment name")
	cmd.Flags().StringVar(&identity, "identity", "", "Caller identity; empty gives neutral decisions")
	cmd.Flags().StringArrayVar(&testSpecs, "test", nil, "Test to resolve, as name or name=A,B,C")
	cmd.Flags().StringSliceVar(&flags, "flag", nil, "Flags to resolve, as name or name:KIND")
	cmd.Flags().StringSliceVar(&remoteConfigs, "remote-config", nil, "Remote config entries to resolve, as name or name:KIND")
	cmd.Flags().StringVar(&overridesFile, "overrides-file", "", "Override file (defaults to the per-user file)")
	cmd.Flags().BoolVar(&hashed, "hashed", false, "Derive variants from identity instead of drawing at random")
	cmd.Flags().BoolVar(&emit, "emit-events", false, "Submit PING events to the data API")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// GetOverrideCmd edits the per-user override file read by resolve.
func GetOverrideCmd() *cobra.Command {
	var (
		overridesFile string
		clearAll      bool
	)
	cmd := &cobra.Command{
		Use:   "override [name=value ...]",
		Short: "Set or clear local overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			if overridesFile == "" {
				var err error
				if overridesFile, err = overrides.DefaultFilePath(); err != nil {
					return err
				}
			}
			fs := overrides.NewFileStore(overridesFile)
			m := fs.Load()
			if clearAll {
				m = overrides.Map{}
			}
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("override %q is not name=value", arg)
				}
				if value == "" {
					m = m.Without(name)
					continue
				}
				m = m.With(name, value)
			}
			if err := fs.Save(m); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), m.Encode())
			return err
		},
	}
	cmd.Flags().StringVar(&overridesFile, "overrides-file", "", "Override file (defaults to the per-user file)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Remove every override before applying arguments")
	return cmd
}

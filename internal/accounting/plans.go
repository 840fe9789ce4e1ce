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

package accounting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jellydator/ttlcache/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPlan applies to projects that configdb does not know.
const DefaultPlan = "HOBBY"

// PlanLimits bounds one plan's usage. EventsPerMonth <= 0 is unlimited.
type PlanLimits struct {
	EventsPerMonth int64 `yaml:"eventsPerMonth"`
}

type PlanTable map[string]PlanLimits

// DefaultPlanTable returns the built-in plan limits.
func DefaultPlanTable() PlanTable {
	return PlanTable{
		"HOBBY":      {EventsPerMonth: 10_000},
		"STARTUP":    {EventsPerMonth: 100_000},
		"PRO":        {EventsPerMonth: 1_000_000},
		"ENTERPRISE": {EventsPerMonth: 0},
	}
}

type planFile struct {
	Plans PlanTable `yaml:"plans"`
}

// LoadPlanTable reads plan limits from a YAML file, or from an
// environment variable when filename is "env:NAME". Plans in the file
// replace the built-in entry of the same name; the rest keep their
// defaults. An empty filename returns the defaults.
func LoadPlanTable(filename string) (PlanTable, error) {
	table := DefaultPlanTable()
	if filename == "" {
		return table, nil
	}

	var contents []byte
	if envVar, ok := strings.CutPrefix(filename, "env:"); ok {
		contents = []byte(os.Getenv(envVar))
		if len(contents) == 0 {
			return nil, fmt.Errorf("environment variable %s is not set", envVar)
		}
	} else {
		var err error
		contents, err = os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read plan limits from file %s: %w", filename, err)
		}
	}

	var pf planFile
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan limits from %s: %w", filename, err)
	}
	for name, limits := range pf.Plans {
		table[strings.ToUpper(name)] = limits
	}
	return table, nil
}

// Limits returns the limits for plan, falling back to DefaultPlan for
// unknown names.
func (t PlanTable) Limits(plan string) PlanLimits {
	if l, ok := t[strings.ToUpper(plan)]; ok {
		return l
	}
	return t[DefaultPlan]
}

// ProjectPlanQuerier is the configdb surface the plan lookup needs.
type ProjectPlanQuerier interface {
	GetProjectPlan(ctx context.Context, id string) (string, error)
}

// Plans resolves a project's plan and limits, caching plan names
// briefly so accounting does not read configdb for every event.
type Plans struct {
	querier ProjectPlanQuerier
	table   PlanTable
	cache   *ttlcache.Cache[string, string]
}

func NewPlans(querier ProjectPlanQuerier, table PlanTable, ttl time.Duration) *Plans {
	cache := ttlcache.New(ttlcache.WithTTL[string, string](ttl))
	go cache.Start()
	return &Plans{querier: querier, table: table, cache: cache}
}

func (p *Plans) Close() {
	p.cache.Stop()
}

// Lookup returns the plan name and its limits for projectID.
func (p *Plans) Lookup(ctx context.Context, projectID string) (string, PlanLimits, error) {
	if item := p.cache.Get(projectID); item != nil {
		return item.Value(), p.table.Limits(item.Value()), nil
	}

	plan, err := p.querier.GetProjectPlan(ctx, projectID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		plan = DefaultPlan
	case err != nil:
		return "", PlanLimits{}, fmt.Errorf("looking up plan for %s: %w", projectID, err)
	}
	p.cache.Set(projectID, plan, ttlcache.DefaultTTL)
	return plan, p.table.Limits(plan), nil
}

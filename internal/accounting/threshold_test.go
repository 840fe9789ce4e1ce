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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCrossing(t *testing.T) {
	tests := []struct {
		name               string
		prev, count, limit int64
		want               string
	}{
		{"below near limit", 10, 11, 100, ""},
		{"reaches near limit", 79, 80, 100, ThresholdNearLimit},
		{"past near limit", 80, 81, 100, ""},
		{"reaches limit", 99, 100, 100, ""},
		{"first over limit", 100, 101, 100, ThresholdOverage},
		{"already over limit", 101, 102, 100, ""},
		{"near limit rounds up", 7, 8, 9, ThresholdNearLimit},
		{"near limit rounds up, not yet", 6, 7, 9, ""},
		{"limit of one", 0, 1, 1, ThresholdNearLimit},
		{"limit of one exceeded", 1, 2, 1, ThresholdOverage},
		{"unlimited", 1_000_000, 1_000_001, 0, ""},
		{"negative limit is unlimited", 5, 6, -1, ""},
		{"no movement", 101, 101, 100, ""},
		{"jump over both", 70, 120, 100, ThresholdOverage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Crossing(tt.prev, tt.count, tt.limit))
		})
	}
}

func TestCrossing_FiresOncePerThreshold(t *testing.T) {
	const limit = 1000
	fired := map[string]int{}
	for n := int64(1); n <= 2*limit; n++ {
		if th := Crossing(n-1, n, limit); th != "" {
			fired[th]++
		}
	}
	assert.Equal(t, map[string]int{ThresholdNearLimit: 1, ThresholdOverage: 1}, fired)
}

func TestPeriodStart(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 9, 30, 21, 0, 0, 0, loc), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PeriodStart(tt.in), tt.in.String())
	}
}

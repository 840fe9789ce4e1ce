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

import "time"

const (
	ThresholdNearLimit = "near-limit"
	ThresholdOverage   = "overage"
)

// nearLimitPercent is where the near-limit warning fires.
const nearLimitPercent = 80

// Crossing reports the threshold crossed when a counter moves from prev
// to count under limit, or "" for none. Overage fires once, on the event
// that first takes the count above the limit. Near-limit fires once, on
// the event that first reaches 80% of the limit while still within it.
func Crossing(prev, count, limit int64) string {
	if limit <= 0 || count <= prev {
		return ""
	}
	if prev <= limit && count > limit {
		return ThresholdOverage
	}
	nearAt := (limit*nearLimitPercent + 99) / 100
	if prev < nearAt && count >= nearAt && count <= limit {
		return ThresholdNearLimit
	}
	return ""
}

// Classifier binds Crossing to one limit.
func Classifier(limit int64) func(prev, count int64) string {
	return func(prev, count int64) string {
		return Crossing(prev, count, limit)
	}
}

// PeriodStart is the start of the UTC calendar month containing t.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

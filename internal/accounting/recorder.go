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

// Package accounting counts usage events against their project's plan
// limit and raises an alert when a threshold is crossed.
package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/flagrunner/internal/notify"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
	"github.com/cardinalhq/flagrunner/usagedb"
)

// Ledger persists events and their period counters.
type Ledger interface {
	RecordUsageEvent(ctx context.Context, arg usagedb.RecordUsageEventParams) (usagedb.RecordUsageEventResult, error)
	MarkUsageEventNotified(ctx context.Context, id string) error
}

type PlanLookup interface {
	Lookup(ctx context.Context, projectID string) (string, PlanLimits, error)
}

// Outcome describes what recording one event did.
type Outcome struct {
	Count     int64
	Threshold string
	Duplicate bool
	// Notified is set when this call delivered the threshold alert.
	Notified bool
}

type Recorder struct {
	ledger   Ledger
	plans    PlanLookup
	notifier notify.Notifier
	now      func() time.Time
}

func NewRecorder(ledger Ledger, plans PlanLookup, notifier notify.Notifier) *Recorder {
	return &Recorder{
		ledger:   ledger,
		plans:    plans,
		notifier: notifier,
		now:      time.Now,
	}
}

// Record persists ev and updates its period counter. A redelivered event
// is not counted again, but an alert it crossed and that was never
// delivered is sent now. Any error leaves the event safe to retry.
func (r *Recorder) Record(ctx context.Context, ev usageevent.Event) (Outcome, error) {
	plan, limits, err := r.plans.Lookup(ctx, ev.ProjectID)
	if err != nil {
		return Outcome{}, err
	}

	period := PeriodStart(ev.Timestamp)
	res, err := r.ledger.RecordUsageEvent(ctx, usagedb.RecordUsageEventParams{
		ID:          ev.ID,
		ProjectID:   ev.ProjectID,
		EventType:   string(ev.Type),
		DurationMs:  ev.DurationMs,
		OccurredAt:  ev.Timestamp,
		PeriodStart: period,
		Classify:    Classifier(limits.EventsPerMonth),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("recording event %s: %w", ev.ID, err)
	}

	out := Outcome{Count: res.Count, Threshold: res.Threshold, Duplicate: res.Duplicate}
	if res.Duplicate {
		recordDuplicate(ctx)
	} else {
		recordCounted(ctx, string(ev.Type))
	}
	if res.Threshold == "" || res.Notified {
		return out, nil
	}

	alert := notify.Alert{
		EventID:     ev.ID,
		ProjectID:   ev.ProjectID,
		Plan:        plan,
		Threshold:   res.Threshold,
		Count:       res.Count,
		Limit:       limits.EventsPerMonth,
		PeriodStart: period,
		At:          r.now().UTC(),
	}
	if err := r.notifier.Notify(ctx, alert); err != nil {
		return out, fmt.Errorf("notifying %s for %s: %w", res.Threshold, ev.ProjectID, err)
	}
	if err := r.ledger.MarkUsageEventNotified(ctx, ev.ID); err != nil {
		// The alert went out; a retry may send it again.
		return out, fmt.Errorf("marking %s notified: %w", ev.ID, err)
	}
	recordAlert(ctx, res.Threshold)
	slog.Info("Usage alert sent",
		slog.String("projectID", ev.ProjectID),
		slog.String("threshold", res.Threshold),
		slog.Int64("count", res.Count),
		slog.Int64("limit", limits.EventsPerMonth))
	out.Notified = true
	return out, nil
}

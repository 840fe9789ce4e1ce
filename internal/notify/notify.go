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

// Package notify delivers usage threshold alerts to the systems that act
// on them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/flagrunner/internal/fly"
)

// Alert reports that a project's usage crossed a threshold of its plan
// limit in one billing period.
type Alert struct {
	EventID     string    `json:"eventId"`
	ProjectID   string    `json:"projectId"`
	Plan        string    `json:"plan"`
	Threshold   string    `json:"threshold"`
	Count       int64     `json:"count"`
	Limit       int64     `json:"limit"`
	PeriodStart time.Time `json:"periodStart"`
	At          time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Fanout delivers to every notifier and reports all failures together.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, alert Alert) error {
	var result *multierror.Error
	for _, n := range f {
		if err := n.Notify(ctx, alert); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// KafkaNotifier publishes alerts keyed by project id.
type KafkaNotifier struct {
	producer fly.Producer
	topic    string
}

func NewKafkaNotifier(producer fly.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (k *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if err := k.producer.Send(ctx, k.topic, fly.Message{
		Key:   []byte(alert.ProjectID),
		Value: body,
	}); err != nil {
		return fmt.Errorf("publishing %s alert for %s: %w", alert.Threshold, alert.ProjectID, err)
	}
	return nil
}

// LogNotifier writes alerts to a structured log channel.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("channel", "usage-alerts"))}
}

func (l *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	l.logger.InfoContext(ctx, "Usage threshold crossed",
		slog.String("projectID", alert.ProjectID),
		slog.String("plan", alert.Plan),
		slog.String("threshold", alert.Threshold),
		slog.Int64("count", alert.Count),
		slog.Int64("limit", alert.Limit),
		slog.Time("periodStart", alert.PeriodStart),
		slog.String("eventID", alert.EventID))
	return nil
}

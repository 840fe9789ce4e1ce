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

package ingestion

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/flagrunner/internal/fly"
	"github.com/cardinalhq/flagrunner/internal/queue"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

// Replayer moves dead-lettered events back onto the ingest topic with a
// fresh attempt count. Bodies that still do not decode are dropped.
type Replayer struct {
	producer fly.Producer
	topic    string
}

func NewReplayer(producer fly.Producer, topic string) *Replayer {
	return &Replayer{producer: producer, topic: topic}
}

// HandleBatch republishes the batch in one write. If the write fails
// every delivery is retried.
func (r *Replayer) HandleBatch(ctx context.Context, deliveries []queue.Delivery) []queue.Outcome {
	outcomes := make([]queue.Outcome, len(deliveries))
	msgs := make([]fly.Message, 0, len(deliveries))
	for _, d := range deliveries {
		ev, err := usageevent.Decode(d.Body)
		if err != nil {
			slog.Warn("Dropping undecodable dead letter", slog.String("delivery", d.ID), slog.Any("error", err))
			continue
		}
		msgs = append(msgs, fly.Message{Key: []byte(ev.ProjectID), Value: d.Body}.WithAttempt(1))
	}

	if len(msgs) > 0 {
		if err := r.producer.BatchSend(ctx, r.topic, msgs); err != nil {
			slog.Error("Failed to replay dead letters", slog.Int("count", len(msgs)), slog.Any("error", err))
			for i := range outcomes {
				outcomes[i] = queue.Retry
			}
			return outcomes
		}
	}
	recordReplayed(ctx, len(msgs))
	return outcomes
}

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

package dataapi

import (
	"context"
	"fmt"

	"github.com/cardinalhq/flagrunner/internal/fly"
	"github.com/cardinalhq/flagrunner/pkg/usageevent"
)

// KafkaPublisher enqueues events keyed by project, so one project's
// events share a partition.
type KafkaPublisher struct {
	producer fly.Producer
	topic    string
}

func NewKafkaPublisher(producer fly.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev usageevent.Event) error {
	body, err := usageevent.Encode(ev)
	if err != nil {
		return err
	}
	if err := k.producer.Send(ctx, k.topic, fly.Message{
		Key:   []byte(ev.ProjectID),
		Value: body,
	}); err != nil {
		return fmt.Errorf("publishing event %s: %w", ev.ID, err)
	}
	return nil
}

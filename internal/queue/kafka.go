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

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/flagrunner/internal/fly"
)

// KafkaSource consumes a topic as part of a consumer group. Retries are
// republished to the same topic with the attempt header incremented, and
// dead letters are published to a separate topic. Offsets are committed
// only after every delivery in the batch has been settled.
type KafkaSource struct {
	consumer fly.Consumer
	producer fly.Producer
	topic    string
	dlqTopic string
}

var _ Source = (*KafkaSource)(nil)

func NewKafkaSource(consumer fly.Consumer, producer fly.Producer, topic, dlqTopic string) *KafkaSource {
	return &KafkaSource{
		consumer: consumer,
		producer: producer,
		topic:    topic,
		dlqTopic: dlqTopic,
	}
}

func (k *KafkaSource) Run(ctx context.Context, handle BatchHandler) error {
	err := k.consumer.Consume(ctx, func(ctx context.Context, msgs []fly.ConsumedMessage) error {
		return k.handleBatch(ctx, msgs, handle)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (k *KafkaSource) handleBatch(ctx context.Context, msgs []fly.ConsumedMessage, handle BatchHandler) error {
	deliveries := make([]Delivery, len(msgs))
	for i := range msgs {
		deliveries[i] = Delivery{
			ID:      fmt.Sprintf("%s/%d/%d", msgs[i].Topic, msgs[i].Partition, msgs[i].Offset),
			Body:    msgs[i].Value,
			Attempt: msgs[i].Attempt(),
		}
	}

	outcomes := handle(ctx, deliveries)
	if len(outcomes) != len(msgs) {
		return fmt.Errorf("handler returned %d outcomes for %d messages", len(outcomes), len(msgs))
	}

	var retries, deadLetters []fly.Message
	for i, o := range outcomes {
		switch o {
		case Retry:
			retries = append(retries, msgs[i].Message.WithAttempt(deliveries[i].Attempt+1))
		case DeadLetter:
			deadLetters = append(deadLetters, msgs[i].Message)
		}
	}

	if len(retries) > 0 {
		if err := k.producer.BatchSend(ctx, k.topic, retries); err != nil {
			return fmt.Errorf("requeueing %d messages: %w", len(retries), err)
		}
	}
	if len(deadLetters) > 0 {
		if err := k.producer.BatchSend(ctx, k.dlqTopic, deadLetters); err != nil {
			return fmt.Errorf("dead-lettering %d messages: %w", len(deadLetters), err)
		}
	}

	if err := k.consumer.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	slog.Debug("Settled Kafka batch",
		slog.String("topic", k.topic),
		slog.Int("messages", len(msgs)),
		slog.Int("retried", len(retries)),
		slog.Int("deadLettered", len(deadLetters)))
	return nil
}

func (k *KafkaSource) Close() error {
	return k.consumer.Close()
}

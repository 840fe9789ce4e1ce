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

package fly

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// MessageHandler processes consumed messages. Returning an error stops
// the consumer without committing the batch.
type MessageHandler func(ctx context.Context, messages []ConsumedMessage) error

// Consumer reads a topic as a member of a consumer group.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error

	// CommitMessages commits the highest offset per partition.
	CommitMessages(ctx context.Context, messages ...ConsumedMessage) error

	Close() error
}

// ConsumerConfig contains configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	BatchSize   int
	StartOffset int64
	AutoCommit  bool

	SASLMechanism sasl.Mechanism
	TLSConfig     *tls.Config

	ConnectionTimeout time.Duration
}

// DefaultConsumerConfig returns a default consumer configuration. A new
// group starts at the oldest retained message.
func DefaultConsumerConfig(topic, groupID string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		BatchSize:   100,
		StartOffset: kafka.FirstOffset,
		AutoCommit:  true,

		ConnectionTimeout: 10 * time.Second,
	}
}

type kafkaConsumer struct {
	config ConsumerConfig
	reader *kafka.Reader
}

func NewConsumer(config ConsumerConfig) Consumer {
	timeout := config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}

	dialer := &kafka.Dialer{
		Timeout:       timeout,
		SASLMechanism: config.SASLMechanism,
		TLS:           config.TLSConfig,
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		MaxWait:        config.MaxWait,
		StartOffset:    config.StartOffset,
		Dialer:         dialer,
		CommitInterval: 0, // commits happen only when explicitly called
	}

	return &kafkaConsumer{
		config: config,
		reader: kafka.NewReader(readerConfig),
	}
}

func (c *kafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	slog.Debug("Starting Kafka consumer consumption loop",
		slog.String("topic", c.config.Topic),
		slog.String("consumerGroup", c.config.GroupID),
		slog.Int("batchSize", c.config.BatchSize),
		slog.Duration("maxWait", c.config.MaxWait))

	batch := make([]ConsumedMessage, 0, c.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			// Fetched but unhandled messages are redelivered after a
			// rebalance, so they are dropped here rather than processed
			// under a cancelled context.
			return ctx.Err()
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, c.config.MaxWait)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if len(batch) > 0 {
					if err := c.processBatch(ctx, handler, batch); err != nil {
						return err
					}
					batch = batch[:0]
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		batch = append(batch, FromKafkaMessage(msg))
		if len(batch) >= c.config.BatchSize {
			if err := c.processBatch(ctx, handler, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

func (c *kafkaConsumer) processBatch(ctx context.Context, handler MessageHandler, messages []ConsumedMessage) error {
	recordConsumed(ctx, c.config.Topic, len(messages))
	if err := handler(ctx, messages); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}

	if c.config.AutoCommit {
		if err := c.CommitMessages(ctx, messages...); err != nil {
			return fmt.Errorf("failed to commit messages: %w", err)
		}
	}
	return nil
}

func (c *kafkaConsumer) CommitMessages(ctx context.Context, messages ...ConsumedMessage) error {
	if len(messages) == 0 {
		return nil
	}
	return c.reader.CommitMessages(ctx, highestOffsets(messages)...)
}

// highestOffsets keeps the last message of each partition, which is all
// a group commit needs.
func highestOffsets(messages []ConsumedMessage) []kafka.Message {
	type tp struct {
		topic     string
		partition int
	}
	highest := make(map[tp]int64, len(messages))
	for _, msg := range messages {
		k := tp{msg.Topic, msg.Partition}
		if off, ok := highest[k]; !ok || msg.Offset > off {
			highest[k] = msg.Offset
		}
	}

	kmsgs := make([]kafka.Message, 0, len(highest))
	for k, off := range highest {
		kmsgs = append(kmsgs, kafka.Message{
			Topic:     k.topic,
			Partition: k.partition,
			Offset:    off,
		})
	}
	return kmsgs
}

func (c *kafkaConsumer) Close() error {
	return c.reader.Close()
}

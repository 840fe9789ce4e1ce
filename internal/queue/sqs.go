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
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
)

// SQSAPI is the part of the SQS client SQSSource uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSConfig struct {
	QueueURL string
	// DeadLetterQueueURL receives dead letters. When empty they are left
	// on the queue for its redrive policy.
	DeadLetterQueueURL string
	WaitTimeSeconds    int32
	VisibilityTimeout  int32
	// Pollers is the number of concurrent receive loops. Each receives
	// up to ten messages at a time.
	Pollers int
}

// SQSSource polls an SQS queue. A message is deleted only once it has
// been acknowledged or moved to the dead-letter queue; a retried message
// reappears after its visibility timeout.
type SQSSource struct {
	client       SQSAPI
	cfg          SQSConfig
	errorBackoff time.Duration
}

var _ Source = (*SQSSource)(nil)

func NewSQSSource(client SQSAPI, cfg SQSConfig) *SQSSource {
	if cfg.Pollers < 1 {
		cfg.Pollers = 1
	}
	return &SQSSource{client: client, cfg: cfg, errorBackoff: 5 * time.Second}
}

const sqsMaxMessages = 10

func (s *SQSSource) Run(ctx context.Context, handle BatchHandler) error {
	slog.Info("Starting SQS polling",
		slog.String("queueURL", s.cfg.QueueURL),
		slog.Int("pollers", s.cfg.Pollers))

	g, gctx := errgroup.WithContext(ctx)
	for range s.cfg.Pollers {
		g.Go(func() error {
			s.poll(gctx, handle)
			return nil
		})
	}
	return g.Wait()
}

func (s *SQSSource) poll(ctx context.Context, handle BatchHandler) {
	for ctx.Err() == nil {
		result, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.cfg.QueueURL),
			MaxNumberOfMessages: sqsMaxMessages,
			WaitTimeSeconds:     s.cfg.WaitTimeSeconds,
			VisibilityTimeout:   s.cfg.VisibilityTimeout,
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.errorBackoff):
			}
			continue
		}
		if len(result.Messages) == 0 {
			continue
		}
		s.handleBatch(ctx, result.Messages, handle)
	}
}

func (s *SQSSource) handleBatch(ctx context.Context, msgs []types.Message, handle BatchHandler) {
	deliveries := make([]Delivery, len(msgs))
	for i, m := range msgs {
		deliveries[i] = Delivery{
			ID:      aws.ToString(m.MessageId),
			Body:    []byte(aws.ToString(m.Body)),
			Attempt: receiveCount(m),
		}
	}

	outcomes := handle(ctx, deliveries)
	for i, o := range outcomes {
		if i >= len(msgs) {
			break
		}
		switch o {
		case Ack:
			s.delete(msgs[i])
		case DeadLetter:
			s.deadLetter(msgs[i])
		case Retry:
			// Left in place; visible again after the visibility timeout.
		}
	}
}

func receiveCount(m types.Message) int {
	n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (s *SQSSource) delete(m types.Message) {
	// Deletion must complete even when the poll context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Error("Failed to delete SQS message",
			slog.Any("error", err),
			slog.String("messageId", aws.ToString(m.MessageId)))
	}
}

func (s *SQSSource) deadLetter(m types.Message) {
	if s.cfg.DeadLetterQueueURL == "" {
		slog.Warn("No dead-letter queue configured, leaving message for redrive",
			slog.String("messageId", aws.ToString(m.MessageId)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.DeadLetterQueueURL),
		MessageBody: m.Body,
	}); err != nil {
		slog.Error("Failed to dead-letter SQS message, leaving it on the queue",
			slog.Any("error", err),
			slog.String("messageId", aws.ToString(m.MessageId)))
		return
	}
	s.delete(m)
}

func (s *SQSSource) Close() error {
	return nil
}

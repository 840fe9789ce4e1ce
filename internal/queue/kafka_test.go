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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrunner/internal/fly"
)

type fakeConsumer struct {
	batch     []fly.ConsumedMessage
	committed []fly.ConsumedMessage
	closed    bool
}

func (f *fakeConsumer) Consume(ctx context.Context, handler fly.MessageHandler) error {
	if err := handler(ctx, f.batch); err != nil {
		return err
	}
	return context.Canceled
}

func (f *fakeConsumer) CommitMessages(_ context.Context, msgs ...fly.ConsumedMessage) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

type fakeProducer struct {
	sent map[string][]fly.Message
	err  error
}

func (f *fakeProducer) Send(ctx context.Context, topic string, m fly.Message) error {
	return f.BatchSend(ctx, topic, []fly.Message{m})
}

func (f *fakeProducer) BatchSend(_ context.Context, topic string, msgs []fly.Message) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][]fly.Message{}
	}
	f.sent[topic] = append(f.sent[topic], msgs...)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func consumed(offset int64, value string, attempt int) fly.ConsumedMessage {
	m := fly.Message{Key: []byte("p1"), Value: []byte(value)}
	if attempt > 1 {
		m = m.WithAttempt(attempt)
	}
	return fly.ConsumedMessage{Message: m, Topic: "usage.events", Partition: 0, Offset: offset}
}

func TestKafkaSource_SettlesBatch(t *testing.T) {
	c := &fakeConsumer{batch: []fly.ConsumedMessage{
		consumed(10, "a", 1),
		consumed(11, "b", 2),
		consumed(12, "c", 1),
	}}
	p := &fakeProducer{}
	src := NewKafkaSource(c, p, "usage.events", "usage.events.dlq")

	var seen []Delivery
	err := src.Run(context.Background(), func(_ context.Context, ds []Delivery) []Outcome {
		seen = ds
		return []Outcome{Ack, Retry, DeadLetter}
	})
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, "usage.events/0/10", seen[0].ID)
	assert.Equal(t, 1, seen[0].Attempt)
	assert.Equal(t, 2, seen[1].Attempt)

	require.Len(t, p.sent["usage.events"], 1)
	retried := p.sent["usage.events"][0]
	assert.Equal(t, []byte("b"), retried.Value)
	assert.Equal(t, []byte("p1"), retried.Key)
	assert.Equal(t, 3, retried.Attempt())

	require.Len(t, p.sent["usage.events.dlq"], 1)
	assert.Equal(t, []byte("c"), p.sent["usage.events.dlq"][0].Value)

	assert.Len(t, c.committed, 3)

	require.NoError(t, src.Close())
	assert.True(t, c.closed)
}

func TestKafkaSource_RequeueFailureSkipsCommit(t *testing.T) {
	c := &fakeConsumer{batch: []fly.ConsumedMessage{consumed(1, "a", 1)}}
	p := &fakeProducer{err: errors.New("broker down")}
	src := NewKafkaSource(c, p, "usage.events", "usage.events.dlq")

	err := src.Run(context.Background(), func(context.Context, []Delivery) []Outcome {
		return []Outcome{Retry}
	})
	require.Error(t, err)
	assert.Empty(t, c.committed, "an unsettled batch is redelivered")
}

func TestKafkaSource_OutcomeCountMismatch(t *testing.T) {
	c := &fakeConsumer{batch: []fly.ConsumedMessage{consumed(1, "a", 1), consumed(2, "b", 1)}}
	src := NewKafkaSource(c, &fakeProducer{}, "usage.events", "usage.events.dlq")

	err := src.Run(context.Background(), func(context.Context, []Delivery) []Outcome {
		return []Outcome{Ack}
	})
	require.Error(t, err)
	assert.Empty(t, c.committed)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "dead-letter", DeadLetter.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

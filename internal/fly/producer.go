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
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// Producer writes messages to Kafka topics. Messages with the same key
// land on the same partition.
type Producer interface {
	Send(ctx context.Context, topic string, message Message) error

	// BatchSend writes all messages in one request per partition.
	BatchSend(ctx context.Context, topic string, messages []Message) error

	Close() error
}

// ProducerConfig contains configuration for the Kafka producer
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	Compression  kafka.Compression

	SASLMechanism sasl.Mechanism
	TLSConfig     *tls.Config

	ConnectionTimeout time.Duration
}

// kafkaProducer keeps one writer per topic.
type kafkaProducer struct {
	config    ProducerConfig
	writers   map[string]*kafka.Writer
	writersMu sync.RWMutex
	closed    bool
}

// ErrProducerClosed is returned by sends after Close.
var ErrProducerClosed = errors.New("producer closed")

func NewProducer(config ProducerConfig) Producer {
	return &kafkaProducer{
		config:  config,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *kafkaProducer) getWriter(topic string) (*kafka.Writer, error) {
	p.writersMu.RLock()
	w, ok := p.writers[topic]
	closed := p.closed
	p.writersMu.RUnlock()
	if closed {
		return nil, ErrProducerClosed
	}
	if ok {
		return w, nil
	}

	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	if p.closed {
		return nil, ErrProducerClosed
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}

	timeout := p.config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	transport := &kafka.Transport{
		SASL:        p.config.SASLMechanism,
		TLS:         p.config.TLSConfig,
		DialTimeout: timeout,
	}

	w = &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		RequiredAcks: p.config.RequiredAcks,
		Transport:    transport,
		Compression:  p.config.Compression,
	}
	p.writers[topic] = w
	return w, nil
}

func (p *kafkaProducer) Send(ctx context.Context, topic string, message Message) error {
	return p.BatchSend(ctx, topic, []Message{message})
}

func (p *kafkaProducer) BatchSend(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	w, err := p.getWriter(topic)
	if err != nil {
		return err
	}
	kmsgs := make([]kafka.Message, len(messages))
	for i := range messages {
		kmsgs[i] = messages[i].ToKafkaMessage()
	}

	recordPendingDelta(ctx, topic, int64(len(messages)))
	err = w.WriteMessages(ctx, kmsgs...)
	recordPendingDelta(ctx, topic, -int64(len(messages)))
	recordSentMetrics(ctx, topic, messages, err)
	return err
}

func (p *kafkaProducer) Close() error {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	p.closed = true
	return firstErr
}

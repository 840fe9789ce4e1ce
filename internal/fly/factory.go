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
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Factory creates Kafka producers and consumers with consistent configuration
type Factory struct {
	config *Config
}

func NewFactory(cfg *Config) *Factory {
	return &Factory{
		config: cfg,
	}
}

func (f *Factory) CreateProducer() (Producer, error) {
	compression, err := parseCompression(f.config.ProducerCompression)
	if err != nil {
		return nil, err
	}

	acks := kafka.RequireNone
	if f.config.ProducerRequireAcks {
		acks = kafka.RequireOne
	}

	cfg := ProducerConfig{
		Brokers:           f.config.Brokers,
		BatchSize:         f.config.ProducerBatchSize,
		BatchTimeout:      f.config.ProducerBatchTimeout,
		RequiredAcks:      acks,
		Compression:       compression,
		ConnectionTimeout: f.config.ConnectionTimeout,
		TLSConfig:         f.tlsConfig(),
	}

	if f.config.SASLEnabled {
		mechanism, err := f.createSASLMechanism()
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		cfg.SASLMechanism = mechanism
	}

	return NewProducer(cfg), nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", name)
	}
}

// CreateConsumer creates a consumer for topic in the given group.
// Commits are left to the caller.
func (f *Factory) CreateConsumer(topic string, groupID string) (Consumer, error) {
	cfg := DefaultConsumerConfig(topic, groupID)
	cfg.Brokers = f.config.Brokers
	cfg.MinBytes = f.config.ConsumerMinBytes
	cfg.MaxBytes = f.config.ConsumerMaxBytes
	cfg.MaxWait = f.config.ConsumerMaxWait
	cfg.BatchSize = f.config.ConsumerBatchSize
	cfg.AutoCommit = false
	cfg.ConnectionTimeout = f.config.ConnectionTimeout
	cfg.TLSConfig = f.tlsConfig()

	if f.config.SASLEnabled {
		mechanism, err := f.createSASLMechanism()
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		cfg.SASLMechanism = mechanism
	}

	return NewConsumer(cfg), nil
}

// CreateConsumerWithService creates a consumer with a service-based group ID
func (f *Factory) CreateConsumerWithService(topic string, service string) (Consumer, error) {
	return f.CreateConsumer(topic, f.config.GetConsumerGroup(service))
}

func (f *Factory) createSASLMechanism() (sasl.Mechanism, error) {
	switch f.config.SASLMechanism {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, f.config.SASLUsername, f.config.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, f.config.SASLUsername, f.config.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: f.config.SASLUsername,
			Password: f.config.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", f.config.SASLMechanism)
	}
}

func (f *Factory) tlsConfig() *tls.Config {
	if !f.config.TLSEnabled {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: f.config.TLSSkipVerify,
	}
}

// CreateDialer creates an authenticated dialer for administrative operations
func (f *Factory) CreateDialer() (*kafka.Dialer, error) {
	timeout := f.config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		Timeout: timeout,
		TLS:     f.tlsConfig(),
	}
	if f.config.SASLEnabled {
		mechanism, err := f.createSASLMechanism()
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		dialer.SASLMechanism = mechanism
	}
	return dialer, nil
}

func (f *Factory) CreateTopicSyncer() *TopicSyncer {
	return NewTopicSyncer(f)
}

func (f *Factory) GetConfig() *Config {
	return f.config
}

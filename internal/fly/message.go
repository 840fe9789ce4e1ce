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
	"slices"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// HeaderAttempt counts how many times a message has been delivered to a
// handler. Republished retries carry the incremented value.
const HeaderAttempt = "x-flagrunner-attempt"

// Message represents a Kafka message with headers
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ConsumedMessage represents a message consumed from Kafka with metadata
type ConsumedMessage struct {
	Message
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// Attempt returns the delivery attempt recorded on the message, starting
// at 1 for a message that was never retried.
func (m *Message) Attempt() int {
	n, err := strconv.Atoi(m.Headers[HeaderAttempt])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// WithAttempt returns a copy of the message carrying the given attempt.
func (m Message) WithAttempt(attempt int) Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[HeaderAttempt] = strconv.Itoa(attempt)
	m.Headers = headers
	return m
}

// ToKafkaMessage converts to kafka-go message format. Headers are
// emitted in key order.
func (m *Message) ToKafkaMessage() kafka.Message {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(m.Headers[k]),
		})
	}
	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}
}

// FromKafkaMessage converts from kafka-go message format
func FromKafkaMessage(km kafka.Message) ConsumedMessage {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return ConsumedMessage{
		Message: Message{
			Key:     km.Key,
			Value:   km.Value,
			Headers: headers,
		},
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Timestamp: km.Time,
	}
}

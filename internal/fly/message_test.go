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
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMessage_ToKafkaMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want kafka.Message
	}{
		{
			name: "headers are sorted by key",
			msg: Message{
				Key:   []byte("p1"),
				Value: []byte(`{"type":"PING"}`),
				Headers: map[string]string{
					HeaderAttempt:  "2",
					"content-type": "application/json",
				},
			},
			want: kafka.Message{
				Key:   []byte("p1"),
				Value: []byte(`{"type":"PING"}`),
				Headers: []kafka.Header{
					{Key: "content-type", Value: []byte("application/json")},
					{Key: HeaderAttempt, Value: []byte("2")},
				},
			},
		},
		{
			name: "empty message",
			msg:  Message{},
			want: kafka.Message{Headers: []kafka.Header{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.ToKafkaMessage())
		})
	}
}

func TestFromKafkaMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got := FromKafkaMessage(kafka.Message{
		Topic:     "flagrunner.usage.events",
		Partition: 3,
		Offset:    42,
		Key:       []byte("p1"),
		Value:     []byte("v"),
		Headers:   []kafka.Header{{Key: HeaderAttempt, Value: []byte("3")}},
		Time:      ts,
	})

	assert.Equal(t, ConsumedMessage{
		Message: Message{
			Key:     []byte("p1"),
			Value:   []byte("v"),
			Headers: map[string]string{HeaderAttempt: "3"},
		},
		Topic:     "flagrunner.usage.events",
		Partition: 3,
		Offset:    42,
		Timestamp: ts,
	}, got)
	assert.Equal(t, 3, got.Attempt())
}

func TestMessage_Attempt(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no headers", nil, 1},
		{"garbage", map[string]string{HeaderAttempt: "x"}, 1},
		{"zero", map[string]string{HeaderAttempt: "0"}, 1},
		{"set", map[string]string{HeaderAttempt: "4"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{Headers: tt.headers}
			assert.Equal(t, tt.want, m.Attempt())
		})
	}

	t.Run("WithAttempt copies headers", func(t *testing.T) {
		orig := Message{Headers: map[string]string{"a": "b"}}
		next := orig.WithAttempt(2)
		assert.Equal(t, 2, next.Attempt())
		assert.Equal(t, "b", next.Headers["a"])
		assert.Equal(t, 1, orig.Attempt())
		assert.NotContains(t, orig.Headers, HeaderAttempt)
	})
}

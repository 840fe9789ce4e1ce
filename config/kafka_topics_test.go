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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicRegistry(t *testing.T) {
	registry := NewTopicRegistry("")

	tests := []struct {
		key           string
		topic         string
		consumerGroup string
		serviceType   string
	}{
		{TopicUsageEvents, "flagrunner.usage.events", "flagrunner.ingest", ServiceTypeIngest},
		{TopicUsageEventsDLQ, "flagrunner.usage.events.dlq", "flagrunner.ingest.dlq", ServiceTypeIngestDLQ},
		{TopicUsageAlerts, "flagrunner.usage.alerts", "flagrunner.usage.alerts", ServiceTypeUsageAlerter},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.topic, registry.GetTopic(tt.key))
			assert.Equal(t, tt.consumerGroup, registry.GetConsumerGroup(tt.key))
			assert.Equal(t, tt.serviceType, registry.GetServiceNameByTopic(tt.topic))
		})
	}

	assert.Empty(t, registry.GetServiceNameByTopic("other"))
	assert.Panics(t, func() { registry.GetTopic("nope") })
}

func TestTopicRegistry_KafkaSyncConfig(t *testing.T) {
	registry := NewTopicRegistry("custom")
	sync := registry.KafkaSyncConfig(TopicsConfig{
		ReplicationFactor: 3,
		Topics: map[string]TopicOverride{
			TopicUsageEvents: {PartitionCount: 64, Options: map[string]string{"retention.ms": "86400000"}},
		},
	})

	assert.Equal(t, 16, sync.Defaults.PartitionCount)
	assert.Equal(t, 3, sync.Defaults.ReplicationFactor)
	require.Len(t, sync.Topics, 3)
	assert.Equal(t, "custom.usage.alerts", sync.Topics[0].Name)
	assert.Equal(t, "custom.usage.events", sync.Topics[1].Name)
	assert.Equal(t, 64, sync.Topics[1].PartitionCount)
	assert.Equal(t, "86400000", sync.Topics[1].Config["retention.ms"])
	assert.Equal(t, "custom.usage.events.dlq", sync.Topics[2].Name)
	assert.Zero(t, sync.Topics[2].PartitionCount)
}

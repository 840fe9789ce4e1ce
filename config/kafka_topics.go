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
	"fmt"
	"slices"

	"github.com/cardinalhq/kafka-sync/kafkasync"

	"github.com/cardinalhq/flagrunner/internal/fly"
)

// Topic keys for semantic access to topics
const (
	TopicUsageEvents    = "usage.events"
	TopicUsageEventsDLQ = "usage.events.dlq"
	TopicUsageAlerts    = "usage.alerts"
)

// Service types that own a consumer group.
const (
	ServiceTypeIngest       = "ingest"
	ServiceTypeIngestDLQ    = "ingest-dlq"
	ServiceTypeUsageAlerter = "usage-alerts"
)

// TopicSpec defines metadata for a Kafka topic
type TopicSpec struct {
	Key           string // Internal key for lookups
	Name          string // Full topic name with prefix
	ConsumerGroup string
	ServiceType   string
}

// TopicsConfig carries the topic prefix and per-topic overrides used
// when provisioning. Overrides are keyed by topic key.
type TopicsConfig struct {
	Prefix            string                   `mapstructure:"prefix"`
	PartitionCount    int                      `mapstructure:"partition_count"`
	ReplicationFactor int                      `mapstructure:"replication_factor"`
	Topics            map[string]TopicOverride `mapstructure:"topics"`
}

type TopicOverride struct {
	PartitionCount    int               `mapstructure:"partition_count"`
	ReplicationFactor int               `mapstructure:"replication_factor"`
	Options           map[string]string `mapstructure:"options"`
}

// TopicRegistry manages all Kafka topic definitions and provides type-safe access
type TopicRegistry struct {
	prefix string
	specs  map[string]TopicSpec
}

func NewTopicRegistry(prefix string) *TopicRegistry {
	if prefix == "" {
		prefix = "flagrunner"
	}

	tr := &TopicRegistry{
		prefix: prefix,
		specs:  make(map[string]TopicSpec),
	}

	tr.registerTopic(TopicUsageEvents, "ingest", ServiceTypeIngest)
	tr.registerTopic(TopicUsageEventsDLQ, "ingest.dlq", ServiceTypeIngestDLQ)
	tr.registerTopic(TopicUsageAlerts, "usage.alerts", ServiceTypeUsageAlerter)

	return tr
}

func (tr *TopicRegistry) registerTopic(key, consumerGroupSuffix, serviceType string) {
	tr.specs[key] = TopicSpec{
		Key:           key,
		Name:          fmt.Sprintf("%s.%s", tr.prefix, key),
		ConsumerGroup: fmt.Sprintf("%s.%s", tr.prefix, consumerGroupSuffix),
		ServiceType:   serviceType,
	}
}

// GetTopic returns the full topic name for the given key. It panics on
// an unregistered key.
func (tr *TopicRegistry) GetTopic(key string) string {
	spec, exists := tr.specs[key]
	if !exists {
		panic(fmt.Sprintf("unknown topic key: %s", key))
	}
	return spec.Name
}

// GetConsumerGroup returns the consumer group name for the given topic key
func (tr *TopicRegistry) GetConsumerGroup(key string) string {
	spec, exists := tr.specs[key]
	if !exists {
		panic(fmt.Sprintf("unknown topic key: %s", key))
	}
	return spec.ConsumerGroup
}

// GetServiceNameByTopic returns the service type consuming a topic, or
// "" when the topic is not registered.
func (tr *TopicRegistry) GetServiceNameByTopic(topic string) string {
	for _, spec := range tr.specs {
		if spec.Name == topic {
			return spec.ServiceType
		}
	}
	return ""
}

// Specs returns every registered topic, ordered by key.
func (tr *TopicRegistry) Specs() []TopicSpec {
	out := make([]TopicSpec, 0, len(tr.specs))
	for _, spec := range tr.specs {
		out = append(out, spec)
	}
	slices.SortFunc(out, func(a, b TopicSpec) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

// KafkaSyncConfig builds the kafka-sync description of every registered
// topic. Zero counts fall back to the kafka-sync defaults.
func (tr *TopicRegistry) KafkaSyncConfig(cfg TopicsConfig) *kafkasync.Config {
	topics := make([]kafkasync.Topic, 0, len(tr.specs))
	for _, spec := range tr.Specs() {
		topic := kafkasync.Topic{Name: spec.Name}
		if o, ok := cfg.Topics[spec.Key]; ok {
			topic.PartitionCount = o.PartitionCount
			topic.ReplicationFactor = o.ReplicationFactor
			if len(o.Options) > 0 {
				topic.Config = make(map[string]string, len(o.Options))
				for k, v := range o.Options {
					topic.Config[k] = v
				}
			}
		}
		topics = append(topics, topic)
	}

	out := fly.CreateDefaultTopicsConfig(topics)
	if cfg.PartitionCount > 0 {
		out.Defaults.PartitionCount = cfg.PartitionCount
	}
	if cfg.ReplicationFactor > 0 {
		out.Defaults.ReplicationFactor = cfg.ReplicationFactor
	}
	return out
}

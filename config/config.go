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
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/flagrunner/internal/fly"
)

// EnvironmentProduction enables the usage guard. Any other value
// bypasses it.
const EnvironmentProduction = "production"

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Environment string        `mapstructure:"environment"`
	Kafka       fly.Config    `mapstructure:"kafka"`
	KafkaTopics TopicsConfig  `mapstructure:"kafka_topics"`
	API         APIConfig     `mapstructure:"api"`
	ConfigCache CacheConfig   `mapstructure:"config_cache"`
	Ingest      IngestConfig  `mapstructure:"ingest"`
	Guard       GuardConfig   `mapstructure:"guard"`
	Plans       PlansConfig   `mapstructure:"plans"`
	Sweeper     SweeperConfig `mapstructure:"sweeper"`
	Health      HealthConfig  `mapstructure:"health"`

	TopicRegistry *TopicRegistry `mapstructure:"-"`
}

type APIConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxBodyBytes bounds track request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// IngestConfig configures the usage event worker. Source is "kafka" or
// "sqs".
type IngestConfig struct {
	Source      string        `mapstructure:"source"`
	Concurrency int64         `mapstructure:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`

	SQSQueueURL           string `mapstructure:"sqs_queue_url"`
	SQSDeadLetterQueueURL string `mapstructure:"sqs_dead_letter_queue_url"`
	SQSRegion             string `mapstructure:"sqs_region"`
	SQSRoleARN            string `mapstructure:"sqs_role_arn"`
	SQSEndpoint           string `mapstructure:"sqs_endpoint"`
	SQSWaitTimeSeconds    int32  `mapstructure:"sqs_wait_time_seconds"`
	SQSVisibilityTimeout  int32  `mapstructure:"sqs_visibility_timeout"`
}

// GuardConfig configures per-caller rate limits. Store is "postgres" or
// "local".
type GuardConfig struct {
	Store  string         `mapstructure:"store"`
	Window time.Duration  `mapstructure:"window"`
	Limits map[string]int `mapstructure:"limits"`
}

type PlansConfig struct {
	// File is a YAML plan limits file. Built-in limits apply when empty.
	File     string        `mapstructure:"file"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// HealthConfig configures the probe listener run beside the worker
// processes.
type HealthConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	// PprofAddr serves net/http/pprof. Empty disables it.
	PprofAddr string `mapstructure:"pprof_addr"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// FeatureABTesting is the guard feature with a built-in limit.
const FeatureABTesting = "ab-testing"

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Kafka:       *fly.DefaultConfig(),
		KafkaTopics: TopicsConfig{Prefix: "flagrunner"},
		API: APIConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    64 * 1024,
		},
		ConfigCache: CacheConfig{TTL: 5 * time.Minute},
		Ingest: IngestConfig{
			Source:               "kafka",
			Concurrency:          50,
			MaxRetries:           5,
			StepTimeout:          30 * time.Second,
			SQSWaitTimeSeconds:   20,
			SQSVisibilityTimeout: 60,
		},
		Guard: GuardConfig{
			Store:  "postgres",
			Window: 24 * time.Hour,
			Limits: map[string]int{
				FeatureABTesting: 5,
			},
		},
		Plans:   PlansConfig{CacheTTL: time.Minute},
		Sweeper: SweeperConfig{Interval: 10 * time.Minute},
		Health:  HealthConfig{ListenAddr: ":8090", CheckTimeout: 2 * time.Second, PprofAddr: ":6060"},
	}
}

// IsProduction reports whether rate limits are enforced.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "FLAGRUNNER" and the dot character
// in keys is replaced by an underscore. For example, "kafka.brokers" becomes
// "FLAGRUNNER_KAFKA_BROKERS".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FLAGRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("kafka.brokers"); b != "" {
		cfg.Kafka.Brokers = strings.Split(b, ",")
	}
	cfg.TopicRegistry = NewTopicRegistry(cfg.KafkaTopics.Prefix)
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

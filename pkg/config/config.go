// Package config loads and validates the connector configuration.
// Configuration is read from a Java-properties style file, matching the
// key naming used by Kafka Connect connectors, with environment variable
// overrides applied on top.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jentle/kafka-connect-mongo/pkg/errors"
)

// Config is the full connector configuration for one import pipeline.
type Config struct {
	// MongoURI is the source MongoDB connection string
	MongoURI string

	// Databases is the comma-separated list of database.collection names to export
	Databases string

	// TopicPrefix is prepended to every derived routing key
	TopicPrefix string

	// BulkSize is the page size used by collection scanners
	BulkSize int

	// QueueHighWater is the queue size above which scanners pause
	QueueHighWater int

	// FlushInterval is the coordinator's flush polling interval
	FlushInterval time.Duration

	// PageRetryAttempts caps retries of a failed page query; 0 means unlimited
	PageRetryAttempts int

	// PageRetryDelay is the initial backoff delay between page retries
	PageRetryDelay time.Duration

	// Schedule is a cron expression for recurring runs; empty means one-shot
	Schedule string

	// CheckpointCollection names a MongoDB collection for durable cursor
	// checkpoints; empty keeps checkpoints in memory (reset every run)
	CheckpointCollection string

	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string

	// Kafka holds the outbound sink connection properties
	Kafka KafkaConfig
}

// KafkaConfig contains the Kafka sink connection properties.
type KafkaConfig struct {
	Brokers               []string
	ClientID              string
	Acks                  string // all, 1, 0
	Retries               int
	Compression           string // none, gzip, snappy, lz4
	SASLMechanism         string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername          string
	SASLPassword          string
	EnableTLS             bool
	TLSInsecureSkipVerify bool
}

// Load reads configuration from the given properties file.
// Missing file or missing required keys are fatal startup errors.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", path)
	}

	cfg := &Config{
		MongoURI:             v.GetString("mongo.uri"),
		Databases:            v.GetString("databases"),
		TopicPrefix:          v.GetString("topic.prefix"),
		BulkSize:             v.GetInt("bulk.size"),
		QueueHighWater:       v.GetInt("queue.high.water"),
		FlushInterval:        v.GetDuration("flush.interval"),
		PageRetryAttempts:    v.GetInt("page.retry.attempts"),
		PageRetryDelay:       v.GetDuration("page.retry.delay"),
		Schedule:             v.GetString("schedule"),
		CheckpointCollection: v.GetString("checkpoint.collection"),
		LogLevel:             v.GetString("log.level"),
		Kafka: KafkaConfig{
			Brokers:               splitAndTrim(v.GetString("kafka.bootstrap.servers")),
			ClientID:              v.GetString("kafka.client.id"),
			Acks:                  v.GetString("kafka.acks"),
			Retries:               v.GetInt("kafka.retries"),
			Compression:           v.GetString("kafka.compression.type"),
			SASLMechanism:         v.GetString("kafka.sasl.mechanism"),
			SASLUsername:          v.GetString("kafka.sasl.username"),
			SASLPassword:          v.GetString("kafka.sasl.password"),
			EnableTLS:             v.GetBool("kafka.tls.enable"),
			TLSInsecureSkipVerify: v.GetBool("kafka.tls.insecure.skip.verify"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults installs defaults for all optional keys
func setDefaults(v *viper.Viper) {
	v.SetDefault("bulk.size", 1000)
	v.SetDefault("queue.high.water", 3000)
	v.SetDefault("flush.interval", 100*time.Millisecond)
	v.SetDefault("page.retry.attempts", 0)
	v.SetDefault("page.retry.delay", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("kafka.client.id", "kafka-connect-mongo")
	v.SetDefault("kafka.acks", "all")
	v.SetDefault("kafka.retries", 3)
	v.SetDefault("kafka.compression.type", "none")
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New(errors.ErrorTypeConfig, "mongo.uri is required")
	}
	if c.Databases == "" {
		return errors.New(errors.ErrorTypeConfig, "databases is required")
	}
	if c.TopicPrefix == "" {
		return errors.New(errors.ErrorTypeConfig, "topic.prefix is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New(errors.ErrorTypeConfig, "kafka.bootstrap.servers is required")
	}
	if c.BulkSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "bulk.size must be positive")
	}
	if c.QueueHighWater <= 0 {
		return errors.New(errors.ErrorTypeConfig, "queue.high.water must be positive")
	}
	if c.FlushInterval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "flush.interval must be positive")
	}
	if c.PageRetryAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "page.retry.attempts cannot be negative")
	}
	return nil
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

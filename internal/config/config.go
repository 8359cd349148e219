package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	HTTPPort    string
	CORSOrigins []string

	KafkaBrokers      []string
	KafkaClientID     string
	GroupID           string
	CreateTopics      bool
	DialTimeout       time.Duration
	TopicOrderCreated string
	TopicShipping     string
	TopicDLQ          string

	DatabaseURL        string
	RedisURL           string
	IdempotencyBackend string
	IdempotencyTTL     time.Duration

	ProcessingDelay time.Duration
	DeliveryOffset  time.Duration

	JaegerEndpoint string
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// bindings maps config keys to the environment variables that set them.
// When a key lists several variables the first one set wins.
var bindings = map[string][]string{
	"service.name":              {"SERVICE_NAME"},
	"http.port":                 {"HTTP_PORT", "PORT"},
	"http.cors_origins":         {"CORS_ALLOWED_ORIGINS"},
	"kafka.brokers":             {"KAFKA_BROKERS"},
	"kafka.client_id":           {"KAFKA_CLIENT_ID"},
	"kafka.group_id":            {"KAFKA_GROUP_ID"},
	"kafka.create_topics":       {"KAFKA_CREATE_TOPICS"},
	"kafka.dial_timeout":        {"KAFKA_DIAL_TIMEOUT"},
	"topics.order_created":      {"TOPIC_ORDER_CREATED"},
	"topics.shipping_scheduled": {"TOPIC_SHIPPING_SCHEDULED"},
	"topics.dlq":                {"TOPIC_DLQ"},
	"postgres.url":              {"DATABASE_URL"},
	"redis.url":                 {"REDIS_URL"},
	"idempotency.backend":       {"IDEMPOTENCY_BACKEND"},
	"idempotency.ttl":           {"IDEMPOTENCY_TTL"},
	"shipping.processing_delay": {"SHIPPING_PROCESSING_DELAY"},
	"shipping.delivery_offset":  {"SHIPPING_DELIVERY_OFFSET"},
	"tracing.jaeger_endpoint":   {"JAEGER_ENDPOINT"},
}

// Load reads an optional .env file, then the environment, on top of the
// defaults for the named service.
func Load(service, defaultPort string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromViper(newViper(service, defaultPort))
}

func newViper(service, defaultPort string) *viper.Viper {
	v := viper.New()
	v.SetDefault("service.name", service)
	v.SetDefault("http.port", defaultPort)
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.client_id", "")
	v.SetDefault("kafka.group_id", "shipping-group")
	v.SetDefault("kafka.create_topics", true)
	v.SetDefault("kafka.dial_timeout", 10*time.Second)
	v.SetDefault("topics.order_created", "order_events")
	v.SetDefault("topics.shipping_scheduled", "shipping_events")
	v.SetDefault("topics.dlq", "order_events_dlq")
	v.SetDefault("postgres.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("idempotency.backend", BackendMemory)
	v.SetDefault("idempotency.ttl", 72*time.Hour)
	v.SetDefault("shipping.processing_delay", 500*time.Millisecond)
	v.SetDefault("shipping.delivery_offset", 72*time.Hour)
	v.SetDefault("tracing.jaeger_endpoint", "")

	for key, envs := range bindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	return v
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		ServiceName:        strings.TrimSpace(v.GetString("service.name")),
		HTTPPort:           strings.TrimSpace(v.GetString("http.port")),
		CORSOrigins:        parseCSV(v.GetString("http.cors_origins")),
		KafkaBrokers:       parseCSV(v.GetString("kafka.brokers")),
		KafkaClientID:      strings.TrimSpace(v.GetString("kafka.client_id")),
		GroupID:            strings.TrimSpace(v.GetString("kafka.group_id")),
		CreateTopics:       v.GetBool("kafka.create_topics"),
		DialTimeout:        v.GetDuration("kafka.dial_timeout"),
		TopicOrderCreated:  strings.TrimSpace(v.GetString("topics.order_created")),
		TopicShipping:      strings.TrimSpace(v.GetString("topics.shipping_scheduled")),
		TopicDLQ:           strings.TrimSpace(v.GetString("topics.dlq")),
		DatabaseURL:        strings.TrimSpace(v.GetString("postgres.url")),
		RedisURL:           strings.TrimSpace(v.GetString("redis.url")),
		IdempotencyBackend: strings.ToLower(strings.TrimSpace(v.GetString("idempotency.backend"))),
		IdempotencyTTL:     v.GetDuration("idempotency.ttl"),
		ProcessingDelay:    v.GetDuration("shipping.processing_delay"),
		DeliveryOffset:     v.GetDuration("shipping.delivery_offset"),
		JaegerEndpoint:     strings.TrimSpace(v.GetString("tracing.jaeger_endpoint")),
	}
	if cfg.KafkaClientID == "" {
		cfg.KafkaClientID = cfg.ServiceName
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS must list at least one broker")
	}
	if c.TopicOrderCreated == "" || c.TopicShipping == "" || c.TopicDLQ == "" {
		return errors.New("topic names must not be empty")
	}
	switch c.IdempotencyBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis idempotency backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres idempotency backend")
		}
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.IdempotencyBackend)
	}
	if c.ProcessingDelay < 0 || c.IdempotencyTTL < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Topics lists every topic the pipeline reads or writes.
func (c Config) Topics() []string {
	return []string{c.TopicOrderCreated, c.TopicShipping, c.TopicDLQ}
}

func parseCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

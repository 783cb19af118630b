package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "chainlog/pkg/platform/strings"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	PostgresDSN   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWTSigningKey string
	SinkBuffer    int
}

// RedisConfig configures the optional append lease backend. An empty URL
// disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional SIEM sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CHAINLOG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("CHAINLOG_KAFKA_TOPIC")
	if topic == "" {
		topic = "chainlog.audit.records"
	}

	jwtSigningKey := os.Getenv("CHAINLOG_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:        addr,
		PostgresDSN: os.Getenv("CHAINLOG_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CHAINLOG_REDIS_URL"),
			PoolSize:     envInt("CHAINLOG_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CHAINLOG_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: envList("CHAINLOG_KAFKA_BROKERS"),
			Topic:   topic,
		},
		JWTSigningKey: jwtSigningKey,
		SinkBuffer:    envInt("CHAINLOG_SINK_BUFFER", 1024),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	items := pstrings.DedupeAndTrim(strings.Split(raw, ","))
	if len(items) == 0 {
		return nil
	}
	return items
}

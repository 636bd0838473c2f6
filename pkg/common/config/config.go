package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	DBDriver         string
	SQLitePath       string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Submission pipeline
	PublisherToken     string
	ChangesTopic       string
	RetryTopic         string
	DLQTopic           string
	RetryDelay         time.Duration
	RetryMaxAttempts   int
	DedupTTL           time.Duration
	ArtifactDedup      string
	TaxonomyPath       string
	SubmissionLogTTL   time.Duration
	RetryServicePort   string
	CollectServicePort string

	// ODK Aggregate
	AggregateURL     string
	AggregateTimeout time.Duration
	AggregateRetries int

	// Raw submission archive
	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchivePathStyle bool
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 10*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		DBDriver:         strings.ToLower(getEnv("STT_DB_DRIVER", "postgres")),
		SQLitePath:       getEnv("STT_SQLITE_PATH", "specimen-tracking.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "stt"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "stt"),
		PostgresDB:       getEnv("POSTGRES_DB", "specimen_tracking"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "specimen-tracking"),

		PublisherToken:     getEnv("STT_PUBLISHER_TOKEN", ""),
		ChangesTopic:       getEnv("STT_CHANGES_TOPIC", "stt-changes"),
		RetryTopic:         getEnv("STT_RETRY_TOPIC", "stt-submission-retry"),
		DLQTopic:           getEnv("STT_DLQ_TOPIC", "stt-submission-dlq"),
		RetryDelay:         getDuration("STT_RETRY_DELAY", 5*time.Minute),
		RetryMaxAttempts:   getIntEnv("STT_RETRY_MAX_ATTEMPTS", 5),
		DedupTTL:           getDuration("STT_DEDUP_TTL", 24*time.Hour),
		ArtifactDedup:      strings.ToLower(getEnv("STT_ARTIFACT_DEDUP", "type")),
		TaxonomyPath:       getEnv("STT_TAXONOMY_PATH", ""),
		SubmissionLogTTL:   getDuration("SUBMISSION_LOG_TTL", 90*24*time.Hour),
		RetryServicePort:   getEnv("RETRY_SERVICE_PORT", "8092"),
		CollectServicePort: getEnv("COLLECT_SERVICE_PORT", "8091"),

		AggregateURL:     getEnv("STT_AGGREGATE_URL", "http://localhost:8080/ODKAggregate"),
		AggregateTimeout: getDuration("STT_AGGREGATE_TIMEOUT", 10*time.Second),
		AggregateRetries: getIntEnv("STT_AGGREGATE_RETRIES", 3),

		ArchiveBucket:    getEnv("STT_ARCHIVE_BUCKET", ""),
		ArchiveRegion:    getEnv("STT_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:  getEnv("STT_ARCHIVE_ENDPOINT", ""),
		ArchivePathStyle: getBoolEnv("STT_ARCHIVE_PATH_STYLE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

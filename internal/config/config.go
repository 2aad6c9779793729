package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	AppPort    string
	LogLevel   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	MigrationsDir string
	JWTSecret     string

	RedisAddr       string
	RedisPassword   string
	RedisDB         string
	ListingCacheTTL string

	StoreRedemptionWindow  string
	OnlineRedemptionWindow string
	ClaimMaxAttempts       string
	SweepInterval          string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaReplyGroupID      string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaRetryPartitions   string
	KafkaReplicationFactor string
	KafkaMinISR            string
	EventDrivenEnabled     string
	EventsEnabled          string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "coupondb"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnv("REDIS_DB", "0"),
		ListingCacheTTL: getEnv("LISTING_CACHE_TTL", "30s"),

		StoreRedemptionWindow:  getEnv("STORE_REDEMPTION_WINDOW", "10m"),
		OnlineRedemptionWindow: getEnv("ONLINE_REDEMPTION_WINDOW", "168h"),
		ClaimMaxAttempts:       getEnv("CLAIM_MAX_ATTEMPTS", "3"),
		SweepInterval:          getEnv("SWEEP_INTERVAL", "1m"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "coupon-service"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "coupon-consumers"),
		KafkaReplyGroupID:      getEnv("KAFKA_REPLY_GROUP_ID", "coupon-gateway-resp"),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "coupon-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaRetryPartitions:   getEnv("KAFKA_RETRY_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		KafkaMinISR:            getEnv("KAFKA_MIN_ISR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "true"),
		EventsEnabled:          getEnv("EVENTS_ENABLED", "true"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) EventDriven() bool {
	return parseBool(c.EventDrivenEnabled, true)
}

func (c *Config) PublishEvents() bool {
	return parseBool(c.EventsEnabled, true)
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) RetryPartitions() int {
	return parseInt(c.KafkaRetryPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func (c *Config) RedisDatabase() int {
	n, err := strconv.Atoi(c.RedisDB)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.ListingCacheTTL, 30*time.Second)
}

func (c *Config) StoreWindow() time.Duration {
	return parseDuration(c.StoreRedemptionWindow, 10*time.Minute)
}

func (c *Config) OnlineWindow() time.Duration {
	return parseDuration(c.OnlineRedemptionWindow, 7*24*time.Hour)
}

func (c *Config) ClaimAttempts() int {
	return parseInt(c.ClaimMaxAttempts, 3)
}

// Sweep returns the expiry sweeper interval; zero disables the sweeper.
func (c *Config) Sweep() time.Duration {
	if c.SweepInterval == "0" || strings.EqualFold(c.SweepInterval, "off") {
		return 0
	}
	return parseDuration(c.SweepInterval, time.Minute)
}

func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
